// internal/activity/importer.go

// Package activity folds pull requests, issues and comments from the hosting
// platform into the store. An import is gated by one github_activity ledger
// entry per repository.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"repo-insights/internal/database"
	"repo-insights/internal/github"
)

// githubHost is the only host the importer talks to.
const githubHost = "github.com"

// Source is the subset of the GitHub client the importer reads from.
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (*github.RepositoryMetadata, error)
	ListPullRequests(ctx context.Context, owner, name string) ([]github.PullRequest, error)
	ListIssues(ctx context.Context, owner, name string) ([]github.Issue, error)
	ListIssueComments(ctx context.Context, owner, name string) ([]github.IssueComment, error)
}

type Importer struct {
	store  database.Store
	source Source
	logger *slog.Logger
}

func NewImporter(store database.Store, source Source, logger *slog.Logger) *Importer {
	return &Importer{store: store, source: source, logger: logger}
}

// Result counts what one import stored.
type Result struct {
	PullRequests int
	Issues       int
	Comments     int
}

// Import fetches the activity of repo and stores it in one transaction, writing
// the ledger entry last. Repositories not hosted on github.com and repositories
// already imported are skipped; refresh clears the ledger entry first.
func (i *Importer) Import(ctx context.Context, repo database.Repository, refresh bool) (Result, error) {
	logger := i.logger.With("repo", repo.Url)
	if repo.Host != githubHost {
		logger.Debug("Skipping activity import for non-GitHub host", "host", repo.Host)
		return Result{}, nil
	}

	ledger := database.IsSyncedParams{EntityID: repo.ID, TaskKind: database.TaskGithubActivity}
	if refresh {
		if err := i.store.ClearSynced(ctx, database.ClearSyncedParams(ledger)); err != nil {
			return Result{}, fmt.Errorf("clearing activity ledger: %w", err)
		}
	} else {
		done, err := i.store.IsSynced(ctx, ledger)
		if err != nil {
			return Result{}, fmt.Errorf("checking activity ledger: %w", err)
		}
		if done {
			return Result{}, nil
		}
	}

	logger.Info("Importing GitHub activity")
	meta, err := i.source.GetRepository(ctx, repo.Owner, repo.Name)
	if err != nil {
		return Result{}, fmt.Errorf("fetching repository metadata: %w", err)
	}
	prs, err := i.source.ListPullRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return Result{}, fmt.Errorf("fetching pull requests: %w", err)
	}
	issues, err := i.source.ListIssues(ctx, repo.Owner, repo.Name)
	if err != nil {
		return Result{}, fmt.Errorf("fetching issues: %w", err)
	}
	comments, err := i.source.ListIssueComments(ctx, repo.Owner, repo.Name)
	if err != nil {
		return Result{}, fmt.Errorf("fetching issue comments: %w", err)
	}

	err = i.store.InTx(ctx, func(q database.Querier) error {
		users := userCache{q: q, ids: map[string]int64{}}
		if _, err := q.UpdateRepositoryMetadata(ctx, database.UpdateRepositoryMetadataParams{
			ID:              repo.ID,
			Description:     database.Text(meta.Description),
			DefaultBranch:   database.Text(meta.DefaultBranch),
			StarsCount:      int32(meta.StarsCount),
			ForksCount:      int32(meta.ForksCount),
			OpenIssuesCount: int32(meta.OpenIssuesCount),
		}); err != nil {
			return fmt.Errorf("updating repository metadata: %w", err)
		}
		for _, pr := range prs {
			author, err := users.id(ctx, pr.AuthorLogin)
			if err != nil {
				return err
			}
			if err := q.UpsertPullRequest(ctx, database.UpsertPullRequestParams{
				RepositoryID: repo.ID,
				Number:       int32(pr.Number),
				Title:        pr.Title,
				State:        pr.State,
				AuthorID:     author,
				CreatedAt:    pr.CreatedAt,
				UpdatedAt:    pr.UpdatedAt,
				ClosedAt:     timestamptz(pr.ClosedAt),
				MergedAt:     timestamptz(pr.MergedAt),
			}); err != nil {
				return fmt.Errorf("storing pull request #%d: %w", pr.Number, err)
			}
		}
		for _, issue := range issues {
			author, err := users.id(ctx, issue.AuthorLogin)
			if err != nil {
				return err
			}
			if err := q.UpsertIssue(ctx, database.UpsertIssueParams{
				RepositoryID: repo.ID,
				Number:       int32(issue.Number),
				Title:        issue.Title,
				State:        issue.State,
				AuthorID:     author,
				CreatedAt:    issue.CreatedAt,
				UpdatedAt:    issue.UpdatedAt,
				ClosedAt:     timestamptz(issue.ClosedAt),
			}); err != nil {
				return fmt.Errorf("storing issue #%d: %w", issue.Number, err)
			}
		}
		for _, c := range comments {
			author, err := users.id(ctx, c.AuthorLogin)
			if err != nil {
				return err
			}
			if err := q.UpsertIssueComment(ctx, database.UpsertIssueCommentParams{
				RepositoryID: repo.ID,
				GithubID:     c.ID,
				IssueNumber:  int32(c.IssueNumber),
				AuthorID:     author,
				Body:         c.Body,
				CreatedAt:    c.CreatedAt,
				UpdatedAt:    c.UpdatedAt,
			}); err != nil {
				return fmt.Errorf("storing comment %d: %w", c.ID, err)
			}
		}
		return q.MarkSynced(ctx, database.MarkSyncedParams{EntityID: repo.ID, TaskKind: database.TaskGithubActivity})
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{PullRequests: len(prs), Issues: len(issues), Comments: len(comments)}
	logger.Info("GitHub activity imported", "pull_requests", res.PullRequests, "issues", res.Issues, "comments", res.Comments)
	return res, nil
}

// userCache resolves platform logins to user ids once per import. Ghost
// authors (deleted accounts) have no login and stay NULL.
type userCache struct {
	q   database.Querier
	ids map[string]int64
}

func (u userCache) id(ctx context.Context, login string) (pgtype.Int8, error) {
	if login == "" {
		return pgtype.Int8{}, nil
	}
	if id, ok := u.ids[login]; ok {
		return database.Int8(id), nil
	}
	user, err := u.q.UpsertUser(ctx, database.UpsertUserParams{Login: login})
	if err != nil {
		return pgtype.Int8{}, fmt.Errorf("upserting user %s: %w", login, err)
	}
	u.ids[login] = user.ID
	return database.Int8(user.ID), nil
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return database.Timestamptz(*t)
}
