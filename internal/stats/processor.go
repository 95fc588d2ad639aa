// internal/stats/processor.go

// Package stats backfills line counts, diffs and file contents for ingested
// commits. Every unit of work is gated by the sync_states ledger and marked
// only after its results are stored.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
)

// Processor computes per-file added/deleted line counts of every commit.
type Processor struct {
	store   database.Store
	runner  gitx.Runner
	logger  *slog.Logger
	workers int
}

func NewProcessor(store database.Store, runner gitx.Runner, logger *slog.Logger, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{store: store, runner: runner, logger: logger, workers: workers}
}

type lineCount struct {
	added   int32
	deleted int32
}

// Process runs numstat for every commit of repo without a stats ledger entry
// and returns how many commits were completed. A commit whose numstat fails is
// logged and left for the next run.
func (p *Processor) Process(ctx context.Context, repo database.Repository, dir string) (int, error) {
	logger := p.logger.With("repo", repo.Url)
	pending, err := pendingCommits(ctx, p.store, repo.ID, database.TaskCommitStats)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	logger.Info("Processing commit stats", "pending", len(pending), "workers", p.workers)

	renames, err := gitx.Renames(ctx, p.runner, dir)
	if err != nil {
		logger.Warn("Rename walk failed, paths stay as recorded", "error", err)
	}
	resolver := gitx.NewRenameResolver(renames)

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, c := range pending {
		g.Go(func() error {
			entries, err := gitx.NumStat(gctx, p.runner, dir, c.Hash)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("Skipping commit stats", "error", &custom_errors.TransientToolError{Op: "numstat", Unit: c.Hash, Err: err})
				return nil
			}
			counts := sumByPath(entries, resolver)
			err = p.store.InTx(gctx, func(q database.Querier) error {
				for _, path := range sortedKeys(counts) {
					err := q.UpsertCommitFileStats(gctx, database.UpsertCommitFileStatsParams{
						CommitID:     c.ID,
						Path:         path,
						LinesAdded:   counts[path].added,
						LinesDeleted: counts[path].deleted,
					})
					if err != nil {
						return err
					}
				}
				return q.MarkSynced(gctx, database.MarkSyncedParams{EntityID: c.ID, TaskKind: database.TaskCommitStats})
			})
			if err != nil {
				return fmt.Errorf("storing stats for %s: %w", c.Hash, err)
			}
			processed.Add(1)
			return nil
		})
	}
	waitErr := g.Wait()

	n := int(processed.Load())
	if n > 0 {
		if err := p.store.DeleteContributionSnapshots(ctx, repo.ID); err != nil && waitErr == nil {
			waitErr = fmt.Errorf("invalidating contribution snapshots: %w", err)
		}
	}
	logger.Info("Commit stats processed", "processed", n, "skipped", len(pending)-n)
	return n, waitErr
}

// sumByPath folds numstat rows onto canonical paths. Rows whose names collide
// after normalization and rename resolution are added together.
func sumByPath(entries []gitx.NumStatEntry, resolver *gitx.RenameResolver) map[string]lineCount {
	counts := make(map[string]lineCount, len(entries))
	for _, e := range entries {
		path := gitx.NormalizePath(e.Path)
		if path == "" {
			continue
		}
		path = resolver.Resolve(path)
		c := counts[path]
		c.added += int32(e.Added)
		c.deleted += int32(e.Deleted)
		counts[path] = c
	}
	return counts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
