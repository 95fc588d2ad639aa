// internal/workcopy/manager.go

// Package workcopy owns the on-disk working copy of every tracked repository.
// It clones on first use, fetches and fast-forwards every branch afterwards, and
// serializes all of that per working copy path.
package workcopy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
)

// Options configure a Manager. Zero values fall back to the defaults below.
type Options struct {
	WorkDir string
	// FetchFreshness is how long a fetched working copy is handed out without
	// fetching again.
	FetchFreshness time.Duration
	LockTimeout    time.Duration
	// LockArtifactRetries bounds how many times a live-looking git lock file is
	// waited on before it is declared stale.
	LockArtifactRetries int
	LockArtifactDelay   time.Duration
}

const (
	defaultLockTimeout       = 5 * time.Minute
	defaultLockArtifactDelay = 200 * time.Millisecond
	tempBranchPrefix         = "insights-ff-"

	// Lock files older than this cannot belong to a running git process.
	staleLockAge = time.Minute
)

// lockArtifacts are the exclusive lock files git leaves behind when it dies
// mid-operation, relative to the .git directory.
var lockArtifacts = []string{"index.lock", "HEAD.lock", "config.lock", "packed-refs.lock", "shallow.lock", "refs/**/*.lock"}

type entry struct {
	path      string
	fetchedAt time.Time
}

// Manager maps repository URLs to working copy paths.
type Manager struct {
	runner gitx.Runner
	logger *slog.Logger
	opts   Options
	locks  *keyedLock
	now    func() time.Time

	mu       sync.Mutex
	registry map[string]entry
}

func NewManager(runner gitx.Runner, logger *slog.Logger, opts Options) *Manager {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.LockArtifactRetries <= 0 {
		opts.LockArtifactRetries = 10
	}
	if opts.LockArtifactDelay <= 0 {
		opts.LockArtifactDelay = defaultLockArtifactDelay
	}
	return &Manager{
		runner:   runner,
		logger:   logger,
		opts:     opts,
		locks:    newKeyedLock(),
		now:      time.Now,
		registry: make(map[string]entry),
	}
}

// PathFor returns where the working copy of repoURL lives, whether or not it exists yet.
func (m *Manager) PathFor(repoURL string) (string, error) {
	id, err := gitx.ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	host := id.Host
	if host == "" {
		host = "local"
	}
	return filepath.Join(m.opts.WorkDir, host, id.Owner, id.Name), nil
}

// Path returns the working copy of repoURL without fetching: the registered
// one, or a clone left on disk by an earlier process.
func (m *Manager) Path(repoURL string) (string, error) {
	m.mu.Lock()
	e, ok := m.registry[gitx.NormalizeURL(repoURL)]
	m.mu.Unlock()
	if ok {
		return e.path, nil
	}
	path, err := m.PathFor(repoURL)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return "", &custom_errors.NotFoundError{Entity: "working copy", Key: repoURL}
	}
	return path, nil
}

func (m *Manager) fresh(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[key]
	if !ok || m.now().Sub(e.fetchedAt) > m.opts.FetchFreshness {
		return "", false
	}
	return e.path, true
}

func (m *Manager) register(key, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[key] = entry{path: path, fetchedAt: m.now()}
}

func (m *Manager) unregister(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registry, key)
}

// Acquire returns a working copy of repoURL with every remote branch fetched
// and fast-forwarded. Callers for the same repository queue behind one another;
// a copy fetched within the freshness window is returned as is unless force is set.
func (m *Manager) Acquire(ctx context.Context, repoURL string, force bool) (string, error) {
	path, err := m.PathFor(repoURL)
	if err != nil {
		return "", err
	}
	key := gitx.NormalizeURL(repoURL)
	logger := m.logger.With("repo", key)

	if !force {
		if unlock, ok := m.locks.TryLock(path); ok {
			cached, fresh := m.fresh(key)
			unlock()
			if fresh {
				return cached, nil
			}
		}
	}

	unlock, err := m.locks.Lock(ctx, path, m.opts.LockTimeout)
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	defer unlock()

	// Whoever held the lock before us may have just refreshed the copy.
	if !force {
		if cached, fresh := m.fresh(key); fresh {
			return cached, nil
		}
	}

	m.unregister(key)
	if err := m.prepare(ctx, logger, repoURL, path); err != nil {
		return "", err
	}
	m.syncBranches(ctx, logger, path)
	m.register(key, path)
	return path, nil
}

// prepare leaves a verified, freshly fetched working copy at path.
func (m *Manager) prepare(ctx context.Context, logger *slog.Logger, repoURL, path string) error {
	usable, err := m.usable(ctx, path)
	if err != nil {
		return err
	}
	if !usable {
		return m.clone(ctx, logger, repoURL, path)
	}

	if err := m.clearLockArtifacts(ctx, logger, repoURL, path); err != nil {
		return err
	}
	err = gitx.Fetch(ctx, m.runner, path)
	if err == nil {
		return nil
	}
	switch gitx.ClassifyError(err) {
	case "corrupt":
		logger.Warn("Working copy is corrupt, re-cloning", "path", path, "error", err)
		return m.clone(ctx, logger, repoURL, path)
	case "locked":
		logger.Warn("Fetch hit a git lock, retrying once", "path", path, "error", err)
		if err := m.clearLockArtifacts(ctx, logger, repoURL, path); err != nil {
			return err
		}
		if err := gitx.Fetch(ctx, m.runner, path); err != nil {
			return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "fetch", Err: err}
		}
		return nil
	default:
		return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "fetch", Err: err}
	}
}

// usable reports whether path holds a git working tree. A directory that exists
// but is not a repository is removed so it can be cloned into.
func (m *Manager) usable(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
			if ok, _ := gitx.IsRepo(ctx, m.runner, path); ok {
				return true, nil
			}
		}
	}
	return false, os.RemoveAll(path)
}

func (m *Manager) clone(ctx context.Context, logger *slog.Logger, repoURL, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "clone", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "clone", Err: err}
	}
	logger.Info("Cloning repository", "path", path)
	if err := gitx.Clone(ctx, m.runner, repoURL, path); err != nil {
		_ = os.RemoveAll(path)
		return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "clone", Err: err}
	}
	if ok, _ := gitx.IsRepo(ctx, m.runner, path); !ok {
		_ = os.RemoveAll(path)
		return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "verify", Err: errors.New("clone did not produce a working tree")}
	}
	return nil
}

// clearLockArtifacts waits for git lock files to disappear and removes the
// ones that outlive the retry budget or are old enough to be stale already.
func (m *Manager) clearLockArtifacts(ctx context.Context, logger *slog.Logger, repoURL, path string) error {
	gitDir := filepath.Join(path, ".git")
	for attempt := 0; ; attempt++ {
		found, err := findLockArtifacts(gitDir)
		if err != nil {
			return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "lock", Err: err}
		}
		var live []string
		for _, rel := range found {
			full := filepath.Join(gitDir, rel)
			info, err := os.Stat(full)
			if err != nil {
				continue
			}
			if attempt < m.opts.LockArtifactRetries && m.now().Sub(info.ModTime()) < staleLockAge {
				live = append(live, rel)
				continue
			}
			logger.Warn("Removing stale git lock", "lock", rel)
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return &custom_errors.RepositoryUnavailableError{RepoURL: repoURL, Op: "lock", Err: err}
			}
		}
		if len(live) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.LockArtifactDelay):
		}
	}
}

func findLockArtifacts(gitDir string) ([]string, error) {
	if _, err := os.Stat(gitDir); err != nil {
		return nil, nil
	}
	fsys := os.DirFS(gitDir)
	var found []string
	for _, pattern := range lockArtifacts {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		found = append(found, matches...)
	}
	return found, nil
}

// syncBranches moves every local branch to its remote tip. Branches that are not
// checked out are updated through a disposable branch so the checkout is never
// switched; a branch that cannot fast-forward (history rewritten upstream) is reset.
func (m *Manager) syncBranches(ctx context.Context, logger *slog.Logger, path string) {
	remotes, err := gitx.RemoteBranches(ctx, m.runner, path)
	if err != nil {
		logger.Warn("Listing remote branches failed", "error", err)
		return
	}
	locals, err := gitx.LocalBranches(ctx, m.runner, path)
	if err != nil {
		logger.Warn("Listing local branches failed", "error", err)
		return
	}
	localTips := make(map[string]string, len(locals))
	for _, b := range locals {
		localTips[b.Name] = b.Hash
	}
	current := gitx.CurrentBranch(ctx, m.runner, path)

	for _, remote := range remotes {
		if localTips[remote.Name] == remote.Hash {
			continue
		}
		if err := m.fastForward(ctx, path, remote.Name, remote.Name == current); err != nil {
			logger.Warn("Fast-forward failed",
				"error", &custom_errors.TransientToolError{Op: "fast-forward", Unit: remote.Name, Err: err})
		}
	}
}

func (m *Manager) fastForward(ctx context.Context, path, branch string, checkedOut bool) error {
	if checkedOut {
		return gitx.MergeFastForward(ctx, m.runner, path, gitx.RemoteRef(branch))
	}
	temp := tempBranchPrefix + uuid.NewString()
	if err := gitx.CreateBranch(ctx, m.runner, path, temp, gitx.RemoteRef(branch)); err != nil {
		return err
	}
	defer func() {
		if err := gitx.DeleteBranch(context.WithoutCancel(ctx), m.runner, path, temp); err != nil {
			m.logger.Warn("Removing temporary branch failed", "branch", temp, "error", err)
		}
	}()
	if err := gitx.FastForwardBranch(ctx, m.runner, path, branch, temp); err != nil {
		return gitx.CreateBranch(ctx, m.runner, path, branch, temp)
	}
	return nil
}

// LiveFiles lists the normalized paths present in the tree of branch, read
// straight from the object store without touching the checkout. An empty
// branch means the checked out HEAD.
func (m *Manager) LiveFiles(ctx context.Context, repoURL, branch string) ([]string, error) {
	path, err := m.Path(repoURL)
	if err != nil {
		return nil, err
	}
	ref := "HEAD"
	if branch != "" {
		ref = gitx.RemoteRef(branch)
	}
	raw, err := gitx.ListFiles(ctx, m.runner, path, ref)
	if err != nil {
		if gitx.IsMissingPath(err) {
			return nil, &custom_errors.NotFoundError{Entity: "branch", Key: branch}
		}
		return nil, err
	}
	files := make([]string, 0, len(raw))
	for _, f := range raw {
		if p := gitx.NormalizePath(f); p != "" {
			files = append(files, p)
		}
	}
	return files, nil
}
