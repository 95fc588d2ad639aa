// internal/workcopy/manager_test.go
package workcopy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
)

const testRepoURL = "https://github.com/acme/widgets.git"

// fakeRunner imitates just enough of git for the manager: clone creates the
// .git directory, every other command answers from handle.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	handle func(dir string, args []string) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, dir+":"+strings.Join(args, " "))
	handle := f.handle
	f.mu.Unlock()
	return handle(dir, args)
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, ":"+prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRunner) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func defaultGit(dir string, args []string) (string, error) {
	switch {
	case args[0] == "clone":
		return "", os.MkdirAll(filepath.Join(args[len(args)-1], ".git"), 0o755)
	case args[0] == "rev-parse":
		return "true", nil
	case args[0] == "for-each-ref" && args[len(args)-1] == "refs/remotes/origin":
		return "origin\x1faaa\norigin/main\x1faaa\norigin/dev\x1fbbb", nil
	case args[0] == "for-each-ref":
		return "main\x1faaa\ndev\x1fold", nil
	case args[0] == "symbolic-ref":
		return "main", nil
	default:
		return "", nil
	}
}

func newTestManager(t *testing.T, runner gitx.Runner, opts Options) *Manager {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(runner, logger, opts)
}

func TestAcquire_ClonesThenReusesWithinFreshness(t *testing.T) {
	runner := &fakeRunner{handle: defaultGit}
	m := newTestManager(t, runner, Options{FetchFreshness: time.Hour})

	path, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.opts.WorkDir, "github.com", "acme", "widgets"), path)
	assert.Equal(t, 1, runner.count("clone"))

	runner.reset()
	again, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Empty(t, runner.calls)

	_, err = m.Acquire(context.Background(), testRepoURL, true)
	require.NoError(t, err)
	assert.Equal(t, 0, runner.count("clone"))
	assert.Equal(t, 1, runner.count("-c fetch.recurseSubmodules=false fetch --all"))
}

func TestAcquire_ConcurrentCallersCloneOnce(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "clone" {
			time.Sleep(20 * time.Millisecond)
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{FetchFreshness: time.Hour})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Acquire(context.Background(), testRepoURL, false)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, runner.count("clone"))
	assert.Equal(t, 0, runner.count("-c fetch.recurseSubmodules=false fetch"))
}

func TestAcquire_FastForwardsStaleBranchesThroughTemporaryBranch(t *testing.T) {
	runner := &fakeRunner{handle: defaultGit}
	m := newTestManager(t, runner, Options{})

	_, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)

	var created, advanced, deleted string
	for _, c := range runner.calls {
		_, args, _ := strings.Cut(c, ":")
		switch {
		case strings.HasPrefix(args, "branch --force --no-track "+tempBranchPrefix):
			created = args
		case strings.HasPrefix(args, "fetch --quiet . "):
			advanced = args
		case strings.HasPrefix(args, "branch -D "):
			deleted = args
		}
	}
	require.NotEmpty(t, created, "dev is behind and must be advanced")
	temp := strings.Fields(created)[3]
	assert.True(t, strings.HasSuffix(created, "refs/remotes/origin/dev"))
	assert.Equal(t, "fetch --quiet . "+temp+":refs/heads/dev", advanced)
	assert.Equal(t, "branch -D "+temp, deleted)
	assert.Equal(t, 0, runner.count("merge"), "main is already at its remote tip")
}

func TestAcquire_CheckedOutBranchUsesMerge(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "symbolic-ref" {
			return "dev", nil
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})

	_, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("merge --ff-only --quiet refs/remotes/origin/dev"))
	assert.Equal(t, 0, runner.count("branch --force"))
}

func TestAcquire_DivergedBranchIsReset(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "fetch" && args[1] == "--quiet" {
			return "", errors.New("! [rejected] (non-fast-forward)")
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})

	_, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("branch --force --no-track dev "+tempBranchPrefix))
	assert.Equal(t, 1, runner.count("branch -D "+tempBranchPrefix))
}

func TestAcquire_CloneFailureIsRepositoryUnavailable(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "clone" {
			return "", errors.New("fatal: repository not found")
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})

	_, err := m.Acquire(context.Background(), testRepoURL, false)
	var unavailable *custom_errors.RepositoryUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "clone", unavailable.Op)

	_, err = m.Path(testRepoURL)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestAcquire_CorruptCopyIsRecloned(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "-c" {
			return "", errors.New("fatal: bad object HEAD")
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})
	path, err := m.PathFor(testRepoURL)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(path, ".git"), 0o755))

	_, err = m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("clone"))
}

func TestAcquire_NonRepositoryDirectoryIsReplaced(t *testing.T) {
	runner := &fakeRunner{handle: defaultGit}
	m := newTestManager(t, runner, Options{})
	path, err := m.PathFor(testRepoURL)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "junk"), []byte("x"), 0o644))

	_, err = m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("clone"))
	assert.NoFileExists(t, filepath.Join(path, "junk"))
}

func TestAcquire_RemovesLockArtifacts(t *testing.T) {
	runner := &fakeRunner{handle: defaultGit}
	m := newTestManager(t, runner, Options{LockArtifactRetries: 2, LockArtifactDelay: time.Millisecond})
	path, err := m.PathFor(testRepoURL)
	require.NoError(t, err)

	gitDir := filepath.Join(path, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads", "feature"), 0o755))
	old := filepath.Join(gitDir, "index.lock")
	nested := filepath.Join(gitDir, "refs", "heads", "feature", "x.lock")
	recent := filepath.Join(gitDir, "HEAD.lock")
	for _, f := range []string{old, nested, recent} {
		require.NoError(t, os.WriteFile(f, nil, 0o644))
	}
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(nested, past, past))

	_, err = m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, nested)
	assert.NoFileExists(t, recent, "a lock outliving the retry budget is stale")
	assert.Equal(t, 0, runner.count("clone"))
}

func TestKeyedLock_TimesOut(t *testing.T) {
	l := newKeyedLock()
	unlock, err := l.Lock(context.Background(), "a", time.Second)
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "a", 10*time.Millisecond)
	assert.ErrorIs(t, err, custom_errors.ErrLockTimeout)

	other, err := l.Lock(context.Background(), "b", 10*time.Millisecond)
	require.NoError(t, err, "different keys never contend")
	other()

	unlock()
	again, err := l.Lock(context.Background(), "a", 10*time.Millisecond)
	require.NoError(t, err)
	again()
}

func TestKeyedLock_ContextCancel(t *testing.T) {
	l := newKeyedLock()
	unlock, _ := l.Lock(context.Background(), "a", 0)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Lock(ctx, "a", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLiveFiles_NormalizesPaths(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "ls-tree" {
			return "src/main.go\x00docs/caf\\303\\251.md\x00", nil
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})
	_, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)

	files, err := m.LiveFiles(context.Background(), testRepoURL, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.go", "docs/café.md"}, files)
	assert.Equal(t, 1, runner.count("ls-tree -r -z --name-only refs/remotes/origin/main"))
}

func TestLiveFiles_UnknownBranchIsNotFound(t *testing.T) {
	runner := &fakeRunner{handle: func(dir string, args []string) (string, error) {
		if args[0] == "ls-tree" {
			return "", errors.New("fatal: Not a valid object name refs/remotes/origin/gone")
		}
		return defaultGit(dir, args)
	}}
	m := newTestManager(t, runner, Options{})
	_, err := m.Acquire(context.Background(), testRepoURL, false)
	require.NoError(t, err)

	_, err = m.LiveFiles(context.Background(), testRepoURL, "gone")
	var notFound *custom_errors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "gone", notFound.Key)
}

// TestAcquire_RealGit runs the manager against a local source repository.
func TestAcquire_RealGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	root := t.TempDir()
	src := filepath.Join(root, "upstream", "project")
	git := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=Test", "-c", "user.email=test@example.com"}, args...)...)
		cmd.Dir = src
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return strings.TrimSpace(string(out))
	}
	require.NoError(t, os.MkdirAll(src, 0o755))
	git("init", "--quiet", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a\n"), 0o644))
	git("add", ".")
	git("commit", "--quiet", "-m", "first")

	m := newTestManager(t, &gitx.GitRunner{}, Options{WorkDir: filepath.Join(root, "work")})
	path, err := m.Acquire(context.Background(), src, false)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "a.txt"))

	git("checkout", "--quiet", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("b\n"), 0o644))
	git("add", ".")
	git("commit", "--quiet", "-m", "second")
	tip := git("rev-parse", "HEAD")

	_, err = m.Acquire(context.Background(), src, true)
	require.NoError(t, err)

	runner := &gitx.GitRunner{}
	locals, err := gitx.LocalBranches(context.Background(), runner, path)
	require.NoError(t, err)
	assert.Contains(t, locals, gitx.RefTip{Name: "feature", Hash: tip})
	for _, b := range locals {
		assert.False(t, strings.HasPrefix(b.Name, tempBranchPrefix))
	}
	assert.Equal(t, "main", gitx.CurrentBranch(context.Background(), runner, path))

	files, err := m.LiveFiles(context.Background(), src, "feature")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, files)

	_, err = m.LiveFiles(context.Background(), src, "gone")
	var notFound *custom_errors.NotFoundError
	assert.ErrorAs(t, err, &notFound, "an unknown branch is reported as not found")
}
