// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"repo-insights/internal/activity"
	"repo-insights/internal/database"
	"repo-insights/internal/database/dbtest"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/ingest"
	"repo-insights/internal/stats"
	"repo-insights/internal/workcopy"
)

const repoURL = "https://github.com/acme/widgets.git"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// countingGit imitates a one-commit repository and counts every git invocation.
type countingGit struct {
	mu     sync.Mutex
	counts map[string]int
	// cloneErr, when set, fails every clone.
	cloneErr error
}

func newCountingGit() *countingGit { return &countingGit{counts: map[string]int{}} }

func (g *countingGit) Run(_ context.Context, dir string, args ...string) (string, error) {
	g.mu.Lock()
	g.counts[args[0]]++
	cloneErr := g.cloneErr
	g.mu.Unlock()

	joined := strings.Join(args, " ")
	switch args[0] {
	case "clone":
		// Widen the window in which concurrent callers can pile up.
		time.Sleep(50 * time.Millisecond)
		if cloneErr != nil {
			return "", cloneErr
		}
		return "", os.MkdirAll(filepath.Join(args[len(args)-1], ".git"), 0o755)
	case "rev-parse":
		return "true", nil
	case "for-each-ref":
		if strings.HasSuffix(joined, "refs/heads") {
			return "main\x1fabc", nil
		}
		return "origin/main\x1fabc", nil
	case "symbolic-ref":
		return "main", nil
	case "log":
		if strings.Contains(joined, "--name-status") {
			return "", nil
		}
		return "\x1eabc\x1f\x1fAda\x1fada@example.com\x1f2024-01-01T00:00:00Z\x1finit\n\x1f\n\nREADME.md\n", nil
	case "rev-list":
		return "abc", nil
	case "name-rev":
		return "remotes/origin/main", nil
	case "show":
		return "3\t0\tREADME.md", nil
	}
	return "", fmt.Errorf("unexpected git call in %s: %s", dir, joined)
}

func (g *countingGit) count(cmd string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[cmd]
}

// newRealSyncer wires the real working copy manager, ingestion pipeline and
// stats processor over an in-memory store.
func newRealSyncer(t *testing.T, git *countingGit, store *dbtest.Store, cfg Config) *Syncer {
	t.Helper()
	logger := testLogger()
	copies := workcopy.NewManager(git, logger, workcopy.Options{WorkDir: t.TempDir(), FetchFreshness: time.Minute})
	pipeline := ingest.NewPipeline(store, git, logger, "main")
	processor := stats.NewProcessor(store, git, logger, 2)
	diffs := stats.NewDiffCache(store, git, copies, logger, 2)
	s, err := NewSyncer(store, copies, pipeline, processor, diffs, nil, logger, cfg)
	require.NoError(t, err)
	return s
}

func TestSyncer_ConcurrentCallersShareOneClone(t *testing.T) {
	git := newCountingGit()
	store := dbtest.New()
	s := newRealSyncer(t, git, store, Config{RepoPollAttempts: 3, RepoPollDelay: time.Millisecond})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureSynced(context.Background(), repoURL, Options{Commits: true, Stats: true})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, git.count("clone"))
	assert.Equal(t, 1, store.CountCommits())
	assert.Equal(t, 1, store.CountCommitFiles())

	// A second sync of an unchanged repository reuses the fresh copy and adds nothing.
	require.NoError(t, s.EnsureSynced(context.Background(), repoURL, Options{Commits: true, Stats: true}))
	assert.Equal(t, 1, git.count("clone"))
	assert.Zero(t, git.count("fetch"))
	assert.Equal(t, 1, store.CountCommits())
	assert.Equal(t, 1, git.count("show"), "stats are never recomputed")
}

func TestSyncer_PollsForNewRepository(t *testing.T) {
	git := newCountingGit()
	store := dbtest.New()
	store.HideNewRepositories = 2
	s := newRealSyncer(t, git, store, Config{RepoPollAttempts: 5, RepoPollDelay: time.Millisecond})

	require.NoError(t, s.EnsureSynced(context.Background(), repoURL, Options{Commits: true}))
	assert.Equal(t, 1, store.CountCommits())
}

func TestSyncer_GivesUpWhenRepositoryStaysInvisible(t *testing.T) {
	store := dbtest.New()
	store.HideNewRepositories = 10
	s := newRealSyncer(t, newCountingGit(), store, Config{RepoPollAttempts: 2, RepoPollDelay: time.Millisecond})

	err := s.EnsureSynced(context.Background(), repoURL, Options{Commits: true})
	var stageErr *custom_errors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageRepository, stageErr.Stage)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestSyncer_CloneFailureIsStageError(t *testing.T) {
	git := newCountingGit()
	git.cloneErr = errors.New("fatal: repository not found")
	store := dbtest.New()
	s := newRealSyncer(t, git, store, Config{RepoPollAttempts: 1})

	err := s.EnsureSynced(context.Background(), repoURL, Options{Commits: true})
	var stageErr *custom_errors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAcquire, stageErr.Stage)
	assert.Equal(t, "github.com/acme/widgets", stageErr.RepoURL)
	var unavailable *custom_errors.RepositoryUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.Zero(t, store.CountCommits())
}

func TestSyncer_RejectsInvalidURL(t *testing.T) {
	s := newRealSyncer(t, newCountingGit(), dbtest.New(), Config{})
	err := s.EnsureSynced(context.Background(), "https://github.com/just-owner", Options{})
	var invalid *custom_errors.ErrInvalidRepoFormat
	assert.ErrorAs(t, err, &invalid)

	_, err = NewSyncer(dbtest.New(), nil, nil, nil, nil, nil, testLogger(), Config{ReposToSync: []string{"nope"}})
	assert.ErrorAs(t, err, &invalid)
}

// Stage fakes for the option coverage tests.

type staticCopies struct{}

func (staticCopies) Acquire(context.Context, string, bool) (string, error) { return "/work", nil }

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) DiscoverBranches(ctx context.Context, repoID int64, dir string) (ingest.Branches, error) {
	args := m.Called(ctx, repoID, dir)
	return args.Get(0).(ingest.Branches), args.Error(1)
}

func (m *MockIngester) Ingest(ctx context.Context, repo database.Repository, dir string, branches ingest.Branches) (ingest.Result, error) {
	args := m.Called(ctx, repo, dir, branches)
	return args.Get(0).(ingest.Result), args.Error(1)
}

type countingProcessor struct{ calls atomic.Int32 }

func (p *countingProcessor) Process(context.Context, database.Repository, string) (int, error) {
	p.calls.Add(1)
	return 0, nil
}

type MockImporter struct {
	mock.Mock
}

func (m *MockImporter) Import(ctx context.Context, repo database.Repository, refresh bool) (activity.Result, error) {
	args := m.Called(ctx, repo, refresh)
	return args.Get(0).(activity.Result), args.Error(1)
}

func TestSyncer_FollowUpRunForUncoveredStages(t *testing.T) {
	store := dbtest.New()
	ingester := new(MockIngester)
	release := make(chan struct{})
	entered := make(chan struct{})
	ingester.On("DiscoverBranches", mock.Anything, mock.Anything, "/work").Return(ingest.Branches{}, nil)
	ingester.On("Ingest", mock.Anything, mock.Anything, "/work", mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(ingest.Result{}, nil).Once()
	statsProc, diffProc := &countingProcessor{}, &countingProcessor{}
	s, err := NewSyncer(store, staticCopies{}, ingester, statsProc, diffProc, nil, testLogger(), Config{RepoPollAttempts: 1})
	require.NoError(t, err)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.EnsureSynced(ctx, repoURL, Options{Commits: true}) }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- s.EnsureSynced(ctx, repoURL, Options{Stats: true}) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	ingester.AssertNumberOfCalls(t, "Ingest", 1)
	assert.Equal(t, int32(1), statsProc.calls.Load(), "the stats caller got its own run")
	assert.Zero(t, diffProc.calls.Load())
}

func TestSyncer_ActivityStage(t *testing.T) {
	store := dbtest.New()
	ingester := new(MockIngester)
	ingester.On("DiscoverBranches", mock.Anything, mock.Anything, "/work").Return(ingest.Branches{}, nil)
	importer := new(MockImporter)
	importer.On("Import", mock.Anything, mock.Anything, true).Return(activity.Result{}, errors.New("rate limited")).Once()
	s, err := NewSyncer(store, staticCopies{}, ingester, &countingProcessor{}, &countingProcessor{}, importer, testLogger(), Config{RepoPollAttempts: 1})
	require.NoError(t, err)

	err = s.EnsureSynced(context.Background(), repoURL, Options{ExternalActivity: true, ForceFetch: true})
	var stageErr *custom_errors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageActivity, stageErr.Stage)
	ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncer_CallerCancellationDoesNotStopRun(t *testing.T) {
	store := dbtest.New()
	ingester := new(MockIngester)
	release := make(chan struct{})
	done := make(chan struct{})
	ingester.On("DiscoverBranches", mock.Anything, mock.Anything, "/work").Return(ingest.Branches{}, nil)
	ingester.On("Ingest", mock.Anything, mock.Anything, "/work", mock.Anything).
		Run(func(args mock.Arguments) {
			<-release
			assert.NoError(t, args.Get(0).(context.Context).Err())
			close(done)
		}).
		Return(ingest.Result{}, nil).Once()
	s, err := NewSyncer(store, staticCopies{}, ingester, &countingProcessor{}, &countingProcessor{}, nil, testLogger(), Config{RepoPollAttempts: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.EnsureSynced(ctx, repoURL, Options{Commits: true}) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("in-flight sync was abandoned")
	}
}

func TestOptions_Covers(t *testing.T) {
	assert.True(t, All().covers(Options{Commits: true, Diffs: true}))
	assert.True(t, Options{Commits: true}.covers(Options{}))
	assert.False(t, Options{Commits: true}.covers(Options{Stats: true}))
	assert.False(t, All().covers(Options{ForceFetch: true}))
}
