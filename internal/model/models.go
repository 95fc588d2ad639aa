// internal/model/models.go
package model

import (
	"time"
)

// Repository is a tracked repository as exposed by the read APIs.
type Repository struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	Host            string     `json:"host"`
	Owner           string     `json:"owner"`
	Name            string     `json:"name"`
	Description     *string    `json:"description,omitempty"`
	DefaultBranch   *string    `json:"default_branch,omitempty"`
	StarsCount      int        `json:"stars_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	MetadataSynced  *time.Time `json:"metadata_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Commit struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	AuthorLogin string    `json:"author_login"`
	AuthorName  string    `json:"author_name"`
	CommittedAt time.Time `json:"committed_at"`
}

// DAGNode is one commit of the history graph with its branch membership and
// change totals. Totals are zero until stats have been processed.
type DAGNode struct {
	Hash          string    `json:"hash"`
	Message       string    `json:"message"`
	Author        string    `json:"author"`
	AuthorLogin   string    `json:"author_login"`
	Timestamp     time.Time `json:"timestamp"`
	Parents       []string  `json:"parents"`
	Branches      []string  `json:"branches"`
	PrimaryBranch string    `json:"primary_branch,omitempty"`
	FilesChanged  int       `json:"files_changed"`
	Insertions    int       `json:"insertions"`
	Deletions     int       `json:"deletions"`
}

// Shares maps an author login to a percentage in [0, 100].
type Shares map[string]float64

// ContributionReport holds per-author percentages for every file, every folder
// and the whole repository (Total).
type ContributionReport struct {
	Repository string            `json:"repository"`
	Branch     string            `json:"branch,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Until      *time.Time        `json:"until,omitempty"`
	Files      map[string]Shares `json:"files"`
	Folders    map[string]Shares `json:"folders"`
	// Total holds the repository-wide shares. Folders only lists real folders.
	Total      Shares            `json:"total"`
}

const (
	NodeFolder = "folder"
	NodeFile   = "file"
)

// TreeNode is a folder or file of the change tree. Changes counts added plus
// deleted lines, summed into every ancestor folder.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Changes  int64       `json:"changes"`
	Children []*TreeNode `json:"children,omitempty"`
}

type Contributor struct {
	Login        string `json:"login"`
	Name         string `json:"name"`
	Commits      int64  `json:"commits"`
	LinesChanged int64  `json:"lines_changed"`
}

// FileDiff is the cached unified diff of a file against the commit's first parent.
// State is "ok", "no_parent" or "missing"; only "ok" carries a diff.
type FileDiff struct {
	Hash       string `json:"hash"`
	Path       string `json:"path"`
	ParentHash string `json:"parent_hash,omitempty"`
	State      string `json:"state"`
	Diff       string `json:"diff,omitempty"`
}

type FileContent struct {
	Hash    string `json:"hash"`
	Path    string `json:"path"`
	Content string `json:"content"`
}
