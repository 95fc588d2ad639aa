// internal/aggregate/engine.go

// Package aggregate derives contribution percentages and change trees from
// stored commit files, restricted to the files live in a branch.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
	"repo-insights/internal/model"
)

// LiveFiles lists the normalized paths present in a branch of a repository's
// working copy. An empty branch means the checked out HEAD.
type LiveFiles interface {
	LiveFiles(ctx context.Context, repoURL, branch string) ([]string, error)
}

// Filter narrows the commits an aggregate is computed over. Zero values mean unbounded.
type Filter struct {
	Branch string
	Since  time.Time
	Until  time.Time
}

func (f Filter) cacheKey(ignore []string) string {
	return strings.Join([]string{
		"contributions",
		f.Branch,
		formatBound(f.Since),
		formatBound(f.Until),
		strings.Join(ignore, ","),
	}, "|")
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type Engine struct {
	store  database.Store
	live   LiveFiles
	logger *slog.Logger
	ignore []string
}

// NewEngine validates the ignore globs (doublestar syntax) and returns an Engine.
func NewEngine(store database.Store, live LiveFiles, logger *slog.Logger, ignore []string) (*Engine, error) {
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	return &Engine{store: store, live: live, logger: logger, ignore: ignore}, nil
}

func (e *Engine) ignored(file string) bool {
	for _, pattern := range e.ignore {
		if ok, _ := doublestar.Match(pattern, file); ok {
			return true
		}
	}
	return false
}

// Contributions returns per-file, per-folder and repository-wide percentages
// per author. Results are cached per filter until new commits or stats arrive.
func (e *Engine) Contributions(ctx context.Context, repoURL string, f Filter) (model.ContributionReport, error) {
	repo, err := database.FindRepository(ctx, e.store, gitx.NormalizeURL(repoURL))
	if err != nil {
		return model.ContributionReport{}, err
	}
	logger := e.logger.With("repo", repo.Url)
	key := f.cacheKey(e.ignore)

	payload, err := e.store.GetContributionSnapshot(ctx, database.GetContributionSnapshotParams{RepositoryID: repo.ID, CacheKey: key})
	switch {
	case err == nil:
		var report model.ContributionReport
		if err := json.Unmarshal(payload, &report); err == nil {
			return report, nil
		}
		logger.Warn("Discarding unreadable contribution snapshot", "key", key)
	case !database.IsNotFound(err):
		return model.ContributionReport{}, fmt.Errorf("loading contribution snapshot: %w", err)
	}

	changes, live, err := e.changes(ctx, repo, repoURL, f)
	if err != nil {
		return model.ContributionReport{}, err
	}
	files := FileShares(changes)
	for _, file := range live {
		if _, ok := files[file]; !ok {
			files[file] = model.Shares{}
		}
	}
	folders := FolderShares(files)
	total := TotalShares(folders)

	report := model.ContributionReport{
		Repository: repo.Url,
		Branch:     f.Branch,
		Since:      timePtr(f.Since),
		Until:      timePtr(f.Until),
		Files:      files,
		Folders:    folders,
		Total:      total,
	}

	if payload, err := json.Marshal(report); err != nil {
		logger.Warn("Failed to encode contribution snapshot", "error", err)
	} else if err := e.store.SaveContributionSnapshot(ctx, database.SaveContributionSnapshotParams{
		RepositoryID: repo.ID, CacheKey: key, Payload: payload,
	}); err != nil {
		logger.Warn("Failed to save contribution snapshot", "error", err)
	}
	return report, nil
}

// ChangeTree returns the live files of the filter's branch as a folder tree
// annotated with changed lines.
func (e *Engine) ChangeTree(ctx context.Context, repoURL string, f Filter) (*model.TreeNode, error) {
	repo, err := database.FindRepository(ctx, e.store, gitx.NormalizeURL(repoURL))
	if err != nil {
		return nil, err
	}
	changes, live, err := e.changes(ctx, repo, repoURL, f)
	if err != nil {
		return nil, err
	}
	perFile := make(map[string]int64, len(changes))
	for file, byAuthor := range changes {
		for _, n := range byAuthor {
			perFile[file] += n
		}
	}
	return BuildTree(live, perFile), nil
}

// TopContributors ranks the authors of a repository by lines changed.
func (e *Engine) TopContributors(ctx context.Context, repoURL string, limit int) ([]model.Contributor, error) {
	repo, err := database.FindRepository(ctx, e.store, gitx.NormalizeURL(repoURL))
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListTopContributors(ctx, database.ListTopContributorsParams{RepositoryID: repo.ID, Limit: int32(limit)})
	if err != nil {
		return nil, fmt.Errorf("listing top contributors: %w", err)
	}
	out := make([]model.Contributor, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Contributor{Login: r.Login, Name: r.Name, Commits: r.Commits, LinesChanged: r.LinesChanged})
	}
	return out, nil
}

// changes loads per-file author line counts inside the filter, keeping only
// files that are live in the branch and not ignored. It also returns the
// filtered live file list.
func (e *Engine) changes(ctx context.Context, repo database.Repository, repoURL string, f Filter) (Changes, []string, error) {
	params := database.ListFileContributionsParams{
		RepositoryID: repo.ID,
		Since:        database.Timestamptz(f.Since),
		Until:        database.Timestamptz(f.Until),
	}
	if f.Branch != "" {
		branch, err := e.store.GetBranchByName(ctx, database.GetBranchByNameParams{RepositoryID: repo.ID, Name: f.Branch})
		if database.IsNotFound(err) {
			return nil, nil, &custom_errors.NotFoundError{Entity: "branch", Key: f.Branch}
		}
		if err != nil {
			return nil, nil, fmt.Errorf("loading branch: %w", err)
		}
		params.BranchID = database.Int8(branch.ID)
	}

	allLive, err := e.live.LiveFiles(ctx, repoURL, f.Branch)
	if err != nil {
		return nil, nil, fmt.Errorf("listing live files: %w", err)
	}
	live := make([]string, 0, len(allLive))
	isLive := make(map[string]bool, len(allLive))
	for _, file := range allLive {
		if e.ignored(file) {
			continue
		}
		live = append(live, file)
		isLive[file] = true
	}

	rows, err := e.store.ListFileContributions(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("listing file contributions: %w", err)
	}
	changes := make(Changes)
	for _, r := range rows {
		if !isLive[r.Path] {
			continue
		}
		changes.add(r.Path, r.AuthorLogin, r.LinesAdded+r.LinesDeleted)
	}
	return changes, live, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
