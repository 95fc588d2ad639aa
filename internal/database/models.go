// internal/database/models.go
package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type Repository struct {
	ID               int64              `json:"id"`
	Url              string             `json:"url"`
	Host             string             `json:"host"`
	Owner            string             `json:"owner"`
	Name             string             `json:"name"`
	Description      pgtype.Text        `json:"description"`
	DefaultBranch    pgtype.Text        `json:"default_branch"`
	StarsCount       int32              `json:"stars_count"`
	ForksCount       int32              `json:"forks_count"`
	OpenIssuesCount  int32              `json:"open_issues_count"`
	MetadataSyncedAt pgtype.Timestamptz `json:"metadata_synced_at"`
	CreatedAt        time.Time          `json:"created_at"`
}

type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Commit struct {
	ID           int64     `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	Hash         string    `json:"hash"`
	AuthorID     int64     `json:"author_id"`
	Message      string    `json:"message"`
	CommittedAt  time.Time `json:"committed_at"`
}

type CommitFile struct {
	ID           int64       `json:"id"`
	CommitID     int64       `json:"commit_id"`
	Path         string      `json:"path"`
	LinesAdded   int32       `json:"lines_added"`
	LinesDeleted int32       `json:"lines_deleted"`
	Content      pgtype.Text `json:"content"`
	Diff         pgtype.Text `json:"diff"`
	DiffParentID pgtype.Int8 `json:"diff_parent_id"`
	DiffState    string      `json:"diff_state"`
	// SourcePath and ParentPath are the names the file had at the commit and
	// at its first parent. Empty means Path.
	SourcePath   string      `json:"source_path"`
	ParentPath   string      `json:"parent_path"`
}

type Branch struct {
	ID           int64  `json:"id"`
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"name"`
}

type CommitBranch struct {
	CommitID  int64 `json:"commit_id"`
	BranchID  int64 `json:"branch_id"`
	IsPrimary bool  `json:"is_primary"`
}

type CommitParent struct {
	ParentID int64 `json:"parent_id"`
	ChildID  int64 `json:"child_id"`
	Position int32 `json:"position"`
}

type SyncState struct {
	EntityID    int64     `json:"entity_id"`
	TaskKind    string    `json:"task_kind"`
	CompletedAt time.Time `json:"completed_at"`
}

type PullRequest struct {
	ID           int64              `json:"id"`
	RepositoryID int64              `json:"repository_id"`
	Number       int32              `json:"number"`
	Title        string             `json:"title"`
	State        string             `json:"state"`
	AuthorID     pgtype.Int8        `json:"author_id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     pgtype.Timestamptz `json:"closed_at"`
	MergedAt     pgtype.Timestamptz `json:"merged_at"`
}

type Issue struct {
	ID           int64              `json:"id"`
	RepositoryID int64              `json:"repository_id"`
	Number       int32              `json:"number"`
	Title        string             `json:"title"`
	State        string             `json:"state"`
	AuthorID     pgtype.Int8        `json:"author_id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     pgtype.Timestamptz `json:"closed_at"`
}

type IssueComment struct {
	ID           int64       `json:"id"`
	RepositoryID int64       `json:"repository_id"`
	GithubID     int64       `json:"github_id"`
	IssueNumber  int32       `json:"issue_number"`
	AuthorID     pgtype.Int8 `json:"author_id"`
	Body         string      `json:"body"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Ledger task kinds.
const (
	TaskCommitStats    = "commit_stats"
	TaskCommitDiffs    = "commit_diffs"
	TaskGithubActivity = "github_activity"
)

// CommitFile.DiffState values. Anything but DiffStateNone means the diff cache
// has answered for the pair.
const (
	DiffStateNone     = ""
	DiffStateOK       = "ok"
	DiffStateNoParent = "no_parent"
	DiffStateMissing  = "missing"
)
