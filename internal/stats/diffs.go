// internal/stats/diffs.go
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
	"repo-insights/internal/model"
)

// WorkingCopies resolves the on-disk working copy of a repository.
type WorkingCopies interface {
	Path(repoURL string) (string, error)
}

// DiffCache computes and persists unified diffs and file contents per
// (commit, file). A cached answer, including "no diff available", is never
// recomputed.
type DiffCache struct {
	store   database.Store
	runner  gitx.Runner
	copies  WorkingCopies
	logger  *slog.Logger
	workers int
}

func NewDiffCache(store database.Store, runner gitx.Runner, copies WorkingCopies, logger *slog.Logger, workers int) *DiffCache {
	if workers < 1 {
		workers = 1
	}
	return &DiffCache{store: store, runner: runner, copies: copies, logger: logger, workers: workers}
}

// firstParent returns the parent a commit is diffed against, or nil for a root commit.
func (d *DiffCache) firstParent(ctx context.Context, q database.Querier, commitID int64) (*database.Commit, error) {
	edges, err := q.ListCommitParentsByChildIDs(ctx, []int64{commitID})
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if e.Position != 0 {
			continue
		}
		parent, err := q.GetCommitByID(ctx, e.ParentID)
		if err != nil {
			return nil, err
		}
		return &parent, nil
	}
	return nil, nil
}

// sourcePath is the name file had in its own commit.
func sourcePath(file database.CommitFile) string {
	if file.SourcePath != "" {
		return file.SourcePath
	}
	return file.Path
}

// parentPath is the name file had in the first parent of its commit.
func parentPath(file database.CommitFile) string {
	if file.ParentPath != "" {
		return file.ParentPath
	}
	return sourcePath(file)
}

// diffFile computes the diff row of one file. A missing parent or a file absent
// on either side is a state, not an error.
func (d *DiffCache) diffFile(ctx context.Context, dir string, commit database.Commit, parent *database.Commit, file database.CommitFile) (database.UpdateCommitFileDiffParams, error) {
	row := database.UpdateCommitFileDiffParams{ID: file.ID}
	if parent == nil {
		row.DiffState = database.DiffStateNoParent
		return row, nil
	}
	row.DiffParentID = database.Int8(parent.ID)
	out, err := gitx.DiffBlobs(ctx, d.runner, dir, parent.Hash, parentPath(file), commit.Hash, sourcePath(file))
	if err != nil {
		if gitx.IsMissingPath(err) {
			row.DiffState = database.DiffStateMissing
			return row, nil
		}
		return row, &custom_errors.TransientToolError{Op: "diff", Unit: commit.Hash + ":" + file.Path, Err: err}
	}
	row.DiffState = database.DiffStateOK
	row.Diff = database.Text(out)
	return row, nil
}

// Process computes the diff of every file of every commit of repo without a
// diffs ledger entry. A commit with a failing file is left for the next run.
func (d *DiffCache) Process(ctx context.Context, repo database.Repository, dir string) (int, error) {
	logger := d.logger.With("repo", repo.Url)
	pending, err := pendingCommits(ctx, d.store, repo.ID, database.TaskCommitDiffs)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	logger.Info("Processing commit diffs", "pending", len(pending))

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, ref := range pending {
		g.Go(func() error {
			rows, err := d.commitDiffs(gctx, dir, ref.ID)
			if err != nil {
				var transient *custom_errors.TransientToolError
				if errors.As(err, &transient) && gctx.Err() == nil {
					logger.Warn("Skipping commit diffs", "error", err)
					return nil
				}
				return fmt.Errorf("diffs for %s: %w", ref.Hash, err)
			}
			err = d.store.InTx(gctx, func(q database.Querier) error {
				for _, row := range rows {
					if err := q.UpdateCommitFileDiff(gctx, row); err != nil {
						return err
					}
				}
				return q.MarkSynced(gctx, database.MarkSyncedParams{EntityID: ref.ID, TaskKind: database.TaskCommitDiffs})
			})
			if err != nil {
				return fmt.Errorf("storing diffs for %s: %w", ref.Hash, err)
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	logger.Info("Commit diffs processed", "processed", processed.Load())
	return int(processed.Load()), err
}

func (d *DiffCache) commitDiffs(ctx context.Context, dir string, commitID int64) ([]database.UpdateCommitFileDiffParams, error) {
	commit, err := d.store.GetCommitByID(ctx, commitID)
	if err != nil {
		return nil, err
	}
	parent, err := d.firstParent(ctx, d.store, commitID)
	if err != nil {
		return nil, err
	}
	files, err := d.store.ListCommitFilesByCommitIDs(ctx, []int64{commitID})
	if err != nil {
		return nil, err
	}
	var rows []database.UpdateCommitFileDiffParams
	for _, f := range files {
		if f.DiffState != database.DiffStateNone {
			continue
		}
		row, err := d.diffFile(ctx, dir, commit, parent, f)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// lookup resolves the repository, commit and file a read request names.
func (d *DiffCache) lookup(ctx context.Context, repoURL, hash, path string) (database.Commit, database.CommitFile, error) {
	repo, err := database.FindRepository(ctx, d.store, gitx.NormalizeURL(repoURL))
	if err != nil {
		return database.Commit{}, database.CommitFile{}, err
	}
	commit, err := d.store.GetCommitByHash(ctx, database.GetCommitByHashParams{RepositoryID: repo.ID, Hash: hash})
	if database.IsNotFound(err) {
		return database.Commit{}, database.CommitFile{}, &custom_errors.NotFoundError{Entity: "commit", Key: hash}
	}
	if err != nil {
		return database.Commit{}, database.CommitFile{}, err
	}
	normalized := gitx.NormalizePath(path)
	file, err := d.store.GetCommitFile(ctx, database.GetCommitFileParams{CommitID: commit.ID, Path: normalized})
	if database.IsNotFound(err) {
		return database.Commit{}, database.CommitFile{}, &custom_errors.NotFoundError{Entity: "file", Key: hash + ":" + normalized}
	}
	return commit, file, err
}

// FileDiff returns the diff of path in commit hash against its first parent,
// computing and caching it on first request.
func (d *DiffCache) FileDiff(ctx context.Context, repoURL, hash, path string) (model.FileDiff, error) {
	commit, file, err := d.lookup(ctx, repoURL, hash, path)
	if err != nil {
		return model.FileDiff{}, err
	}
	result := model.FileDiff{Hash: commit.Hash, Path: file.Path}

	if file.DiffState == database.DiffStateNone {
		dir, err := d.copies.Path(repoURL)
		if err != nil {
			return model.FileDiff{}, err
		}
		parent, err := d.firstParent(ctx, d.store, commit.ID)
		if err != nil {
			return model.FileDiff{}, err
		}
		row, err := d.diffFile(ctx, dir, commit, parent, file)
		if err != nil {
			return model.FileDiff{}, err
		}
		if err := d.store.UpdateCommitFileDiff(ctx, row); err != nil {
			return model.FileDiff{}, fmt.Errorf("caching diff: %w", err)
		}
		file.Diff, file.DiffParentID, file.DiffState = row.Diff, row.DiffParentID, row.DiffState
	}

	result.State = file.DiffState
	result.Diff = file.Diff.String
	if file.DiffParentID.Valid {
		parent, err := d.store.GetCommitByID(ctx, file.DiffParentID.Int64)
		if err != nil {
			return model.FileDiff{}, err
		}
		result.ParentHash = parent.Hash
	}
	return result, nil
}

// FileContent returns the text of path as of commit hash, caching it on the
// CommitFile row.
func (d *DiffCache) FileContent(ctx context.Context, repoURL, hash, path string) (model.FileContent, error) {
	commit, file, err := d.lookup(ctx, repoURL, hash, path)
	if err != nil {
		return model.FileContent{}, err
	}
	if file.Content.Valid {
		return model.FileContent{Hash: commit.Hash, Path: file.Path, Content: file.Content.String}, nil
	}
	dir, err := d.copies.Path(repoURL)
	if err != nil {
		return model.FileContent{}, err
	}
	content, err := gitx.ShowFile(ctx, d.runner, dir, commit.Hash, sourcePath(file))
	if err != nil {
		if gitx.IsMissingPath(err) {
			// The commit deleted the file.
			return model.FileContent{}, &custom_errors.NotFoundError{Entity: "file content", Key: hash + ":" + file.Path}
		}
		return model.FileContent{}, err
	}
	if err := d.store.UpdateCommitFileContent(ctx, database.UpdateCommitFileContentParams{
		ID:      file.ID,
		Content: pgtype.Text{String: content, Valid: true},
	}); err != nil {
		return model.FileContent{}, fmt.Errorf("caching content: %w", err)
	}
	return model.FileContent{Hash: commit.Hash, Path: file.Path, Content: content}, nil
}
