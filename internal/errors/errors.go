// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError through errors.Is.
var ErrNotFound = errors.New("not found")

// ErrLockTimeout is returned when a keyed lock could not be acquired before its deadline.
var ErrLockTimeout = errors.New("timed out waiting for working copy lock")

// ErrInvalidRepoFormat is returned when a repository URL cannot be mapped to 'host/owner/name'.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected a clone URL such as 'https://host/owner/name.git'", e.Repo)
}

// RepositoryUnavailableError means the working copy could not be cloned, fetched
// or repaired. It aborts the whole sync.
type RepositoryUnavailableError struct {
	RepoURL string
	Op      string
	Err     error
}

func (e *RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository %s unavailable during %s: %v", e.RepoURL, e.Op, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error { return e.Err }

// NotFoundError reports an entity missing from the store at read time.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientToolError wraps a history-tool failure scoped to one unit of work
// (a commit, a path, a branch). Callers log it and move on.
type TransientToolError struct {
	Op   string
	Unit string
	Err  error
}

func (e *TransientToolError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Unit, e.Err)
}

func (e *TransientToolError) Unwrap() error { return e.Err }

// StageError attaches the repository and the orchestrator stage to a failure.
type StageError struct {
	RepoURL string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync %s: stage %s: %v", e.RepoURL, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
