// internal/syncer/syncer.go

// Package syncer is the entry point that brings a repository up to date:
// working copy, branches, commits, stats, diffs and platform activity.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"repo-insights/internal/activity"
	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
	"repo-insights/internal/ingest"
)

const (
	// Number of repositories to sync in parallel
	concurrency = 5

	StageRepository = "repository"
	StageAcquire    = "acquire"
	StageBranches   = "branches"
	StageCommits    = "commits"
	StageStats      = "stats"
	StageDiffs      = "diffs"
	StageActivity   = "activity"
)

// Options selects the stages of a sync. Working copy acquisition and branch
// discovery always run.
type Options struct {
	Commits          bool
	Stats            bool
	Diffs            bool
	ExternalActivity bool
	// ForceFetch fetches even when the working copy is within its freshness
	// window, and re-imports platform activity.
	ForceFetch bool
}

// All requests every stage.
func All() Options {
	return Options{Commits: true, Stats: true, Diffs: true, ExternalActivity: true}
}

// covers reports whether a run with o did everything req asks for.
func (o Options) covers(req Options) bool {
	return (o.Commits || !req.Commits) &&
		(o.Stats || !req.Stats) &&
		(o.Diffs || !req.Diffs) &&
		(o.ExternalActivity || !req.ExternalActivity) &&
		(o.ForceFetch || !req.ForceFetch)
}

type WorkingCopies interface {
	Acquire(ctx context.Context, repoURL string, force bool) (string, error)
}

type Ingester interface {
	DiscoverBranches(ctx context.Context, repoID int64, dir string) (ingest.Branches, error)
	Ingest(ctx context.Context, repo database.Repository, dir string, branches ingest.Branches) (ingest.Result, error)
}

// Processor is a ledger-gated backfill over the commits of a repository.
type Processor interface {
	Process(ctx context.Context, repo database.Repository, dir string) (int, error)
}

type ActivityImporter interface {
	Import(ctx context.Context, repo database.Repository, refresh bool) (activity.Result, error)
}

// Config holds the knobs of the orchestrator and its periodic loop.
type Config struct {
	ReposToSync      []string
	SyncInterval     time.Duration
	RepoPollAttempts int
	RepoPollDelay    time.Duration
}

// Syncer orchestrates the fetching and storing of data.
type Syncer struct {
	store    database.Store
	copies   WorkingCopies
	ingester Ingester
	stats    Processor
	diffs    Processor
	activity ActivityImporter
	logger   *slog.Logger
	cfg      Config

	inflight singleflight.Group
}

// NewSyncer creates a new Syncer instance. importer may be nil, which turns
// the activity stage into a no-op.
func NewSyncer(store database.Store, copies WorkingCopies, ingester Ingester, stats, diffs Processor,
	importer ActivityImporter, logger *slog.Logger, cfg Config,
) (*Syncer, error) {
	for _, r := range cfg.ReposToSync {
		if _, err := gitx.ParseRepoURL(r); err != nil {
			return nil, err
		}
	}
	if cfg.RepoPollAttempts < 1 {
		cfg.RepoPollAttempts = 1
	}
	return &Syncer{
		store:    store,
		copies:   copies,
		ingester: ingester,
		stats:    stats,
		diffs:    diffs,
		activity: importer,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// EnsureSynced brings repoURL up to date for the requested stages. Concurrent
// callers for the same repository share one run; a caller whose stages the
// shared run did not cover waits for a follow-up run. Cancelling ctx abandons
// the wait but never the run, which other callers may depend on.
func (s *Syncer) EnsureSynced(ctx context.Context, repoURL string, opts Options) error {
	if _, err := gitx.ParseRepoURL(repoURL); err != nil {
		return err
	}
	key := gitx.NormalizeURL(repoURL)
	detached := context.WithoutCancel(ctx)

	for {
		ch := s.inflight.DoChan(key, func() (any, error) {
			return opts, s.run(detached, repoURL, opts)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return res.Err
		}
		covered, _ := res.Val.(Options)
		if covered.covers(opts) {
			return nil
		}
		s.logger.Debug("Shared sync did not cover every stage, running again", "repo", key)
	}
}

// run executes one sync of repoURL. Every failure is a StageError.
func (s *Syncer) run(ctx context.Context, repoURL string, opts Options) error {
	key := gitx.NormalizeURL(repoURL)
	logger := s.logger.With("repo", key)
	logger.Info("Syncing repository",
		"commits", opts.Commits, "stats", opts.Stats, "diffs", opts.Diffs, "activity", opts.ExternalActivity)
	start := time.Now()

	stageErr := func(stage string, err error) error {
		return &custom_errors.StageError{RepoURL: key, Stage: stage, Err: err}
	}

	repo, err := s.ensureRepository(ctx, repoURL)
	if err != nil {
		return stageErr(StageRepository, err)
	}
	dir, err := s.copies.Acquire(ctx, repoURL, opts.ForceFetch)
	if err != nil {
		return stageErr(StageAcquire, err)
	}
	branches, err := s.ingester.DiscoverBranches(ctx, repo.ID, dir)
	if err != nil {
		return stageErr(StageBranches, err)
	}
	if opts.Commits {
		if _, err := s.ingester.Ingest(ctx, repo, dir, branches); err != nil {
			return stageErr(StageCommits, err)
		}
	}
	if opts.Stats {
		if _, err := s.stats.Process(ctx, repo, dir); err != nil {
			return stageErr(StageStats, err)
		}
	}
	if opts.Diffs {
		if _, err := s.diffs.Process(ctx, repo, dir); err != nil {
			return stageErr(StageDiffs, err)
		}
	}
	if opts.ExternalActivity && s.activity != nil {
		if _, err := s.activity.Import(ctx, repo, opts.ForceFetch); err != nil {
			return stageErr(StageActivity, err)
		}
	}

	logger.Info("Repository synced", "duration", time.Since(start).String())
	return nil
}

// ensureRepository creates the repository row on first sync and polls until it
// is readable.
func (s *Syncer) ensureRepository(ctx context.Context, repoURL string) (database.Repository, error) {
	id, err := gitx.ParseRepoURL(repoURL)
	if err != nil {
		return database.Repository{}, err
	}
	key := gitx.NormalizeURL(repoURL)

	created, err := s.store.CreateRepository(ctx, database.CreateRepositoryParams{
		Url:   key,
		Host:  id.Host,
		Owner: id.Owner,
		Name:  id.Name,
	})
	if err != nil {
		return database.Repository{}, fmt.Errorf("creating repository: %w", err)
	}
	if created > 0 {
		s.logger.Info("Repository not found in DB, created new entry", "repo", key)
	}

	for attempt := 1; ; attempt++ {
		repo, err := s.store.GetRepositoryByURL(ctx, key)
		if err == nil {
			return repo, nil
		}
		if !database.IsNotFound(err) {
			return database.Repository{}, fmt.Errorf("loading repository: %w", err)
		}
		if attempt >= s.cfg.RepoPollAttempts {
			return database.Repository{}, fmt.Errorf("repository not visible after %d attempts: %w",
				attempt, &custom_errors.NotFoundError{Entity: "repository", Key: key})
		}
		select {
		case <-ctx.Done():
			return database.Repository{}, ctx.Err()
		case <-time.After(s.cfg.RepoPollDelay):
		}
	}
}

// Start begins the continuous synchronization process.
func (s *Syncer) Start(ctx context.Context) {
	if len(s.cfg.ReposToSync) == 0 || s.cfg.SyncInterval <= 0 {
		s.logger.Info("Periodic sync disabled")
		return
	}
	s.logger.Info("Starting syncer", "interval", s.cfg.SyncInterval.String(), "concurrency", concurrency, "repos", len(s.cfg.ReposToSync))
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle performs a synchronization pass for all configured repositories concurrently.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, repoURL := range s.cfg.ReposToSync {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.EnsureSynced(gctx, repoURL, All())
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync repository", "repo", repoURL, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Sync cycle finished with an error", "error", err)
	} else {
		s.logger.Info("Sync cycle finished")
	}
}
