// internal/gitx/parse.go
package gitx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RefTip is a branch name and the commit it points at.
type RefTip struct {
	Name string
	Hash string
}

// LogEntry is one commit of a history walk. Files holds raw names as printed
// by git; they still need NormalizePath.
type LogEntry struct {
	Hash        string
	Parents     []string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
	Message     string
	Files       []string
}

// NumStatEntry is one line of `git show --numstat`. Binary files report zero lines.
type NumStatEntry struct {
	Path    string
	Added   int
	Deleted int
	Binary  bool
}

// Rename is one R<score> entry of `git log --name-status`. Commit is the hash
// of the commit that made it.
type Rename struct {
	Commit string
	Old    string
	New    string
}

// ParseRefTips parses "<name>\x1f<hash>" lines from for-each-ref. When prefix
// is set it is stripped and the symbolic remote HEAD is dropped.
func ParseRefTips(output, prefix string) []RefTip {
	var tips []RefTip
	for _, line := range splitLines(output) {
		parts := strings.SplitN(line, "\x1f", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if prefix != "" {
			var ok bool
			if name, ok = stripRemote(name); !ok {
				continue
			}
		}
		if name == "" {
			continue
		}
		tips = append(tips, RefTip{Name: name, Hash: strings.TrimSpace(parts[1])})
	}
	return tips
}

// ParseLog parses the record-separated output produced with logFormat and --name-only.
func ParseLog(output string) ([]LogEntry, error) {
	var entries []LogEntry
	for _, record := range strings.Split(output, "\x1e") {
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields := strings.SplitN(record, "\x1f", 7)
		if len(fields) < 6 {
			return nil, fmt.Errorf("malformed log record %q", truncate(record, 80))
		}
		authoredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[4]))
		if err != nil {
			return nil, fmt.Errorf("commit %s: parse author date: %w", fields[0], err)
		}
		entry := LogEntry{
			Hash:        strings.TrimSpace(fields[0]),
			Parents:     strings.Fields(fields[1]),
			AuthorName:  fields[2],
			AuthorEmail: fields[3],
			AuthoredAt:  authoredAt,
			Message:     strings.TrimSpace(fields[5]),
		}
		if len(fields) == 7 {
			for _, line := range splitLines(fields[6]) {
				entry.Files = append(entry.Files, strings.TrimSpace(line))
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseNumStat parses the output of:
//
//	git show --numstat --format= <hash>
func ParseNumStat(output string) []NumStatEntry {
	var entries []NumStatEntry
	for _, line := range splitLines(output) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		entry := NumStatEntry{Path: parts[2]}
		if parts[0] == "-" && parts[1] == "-" {
			entry.Binary = true
		} else {
			added, errA := strconv.Atoi(parts[0])
			deleted, errD := strconv.Atoi(parts[1])
			if errA != nil || errD != nil {
				continue
			}
			entry.Added, entry.Deleted = added, deleted
		}
		entries = append(entries, entry)
	}
	return entries
}

// ParseNameRev reduces a name-rev answer such as "remotes/origin/main~3^2" to
// the branch name "main". "undefined" yields "".
func ParseNameRev(line string) string {
	name := strings.TrimSpace(line)
	if name == "" || name == "undefined" {
		return ""
	}
	if i := strings.IndexAny(name, "~^"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "refs/")
	name = strings.TrimPrefix(name, "remotes/")
	if branch, ok := stripRemote(name); ok {
		return branch
	}
	return ""
}

// ParseRenames parses `git log --name-status --diff-filter=R` output whose
// commits start with a "\x1e<hash>" line.
func ParseRenames(output string) []Rename {
	var renames []Rename
	commit := ""
	for _, line := range splitLines(output) {
		if hash, ok := strings.CutPrefix(line, "\x1e"); ok {
			commit = strings.TrimSpace(hash)
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 || !strings.HasPrefix(parts[0], "R") {
			continue
		}
		renames = append(renames, Rename{Commit: commit, Old: parts[1], New: parts[2]})
	}
	return renames
}

func stripRemote(name string) (string, bool) {
	name = strings.TrimSpace(name)
	branch, ok := strings.CutPrefix(name, RemoteName+"/")
	if !ok || branch == "" || branch == "HEAD" {
		return "", false
	}
	return branch, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
