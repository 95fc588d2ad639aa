// internal/gitx/renames.go
package gitx

// RenameResolver maps historical file paths to the path the file lives at today.
type RenameResolver struct {
	next map[string]string
}

// NewRenameResolver builds a resolver from renames listed oldest first. Paths
// are normalized before they are recorded.
func NewRenameResolver(renames []Rename) *RenameResolver {
	next := make(map[string]string, len(renames))
	for _, r := range renames {
		oldPath, newPath := NormalizePath(r.Old), NormalizePath(r.New)
		if oldPath == "" || newPath == "" || oldPath == newPath {
			continue
		}
		// A path that becomes a rename target starts a new file history.
		delete(next, newPath)
		next[oldPath] = newPath
	}
	return &RenameResolver{next: next}
}

// Resolve follows the rename chain of path. Cycles stop at the first repeat.
func (r *RenameResolver) Resolve(path string) string {
	if r == nil {
		return path
	}
	seen := map[string]bool{path: true}
	for {
		next, ok := r.next[path]
		if !ok || seen[next] {
			return path
		}
		seen[next] = true
		path = next
	}
}

// Len reports how many renames the resolver knows about.
func (r *RenameResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.next)
}
