// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

const (
	maxRetries = 3
	perPage    = 100
	// maxRateLimitWait is the longest the client sleeps for a rate limit reset
	// before giving up.
	maxRateLimitWait = 15 * time.Minute
	rateLimitPadding = 50 * time.Millisecond
)

// retryBaseDelay is the first backoff step for server and transport errors.
var retryBaseDelay = 100 * time.Millisecond

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance. An empty token
// yields an unauthenticated client.
func NewClient(token string, logger *slog.Logger) *Client {
	if token == "" {
		return &Client{gh: github.NewClient(nil), logger: logger}
	}
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// RepositoryMetadata is the descriptive data the platform keeps about a repository.
type RepositoryMetadata struct {
	Description     string
	DefaultBranch   string
	StarsCount      int
	ForksCount      int
	OpenIssuesCount int
}

type PullRequest struct {
	Number      int
	Title       string
	State       string
	AuthorLogin string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	MergedAt    *time.Time
}

type Issue struct {
	Number      int
	Title       string
	State       string
	AuthorLogin string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

type IssueComment struct {
	ID          int64
	IssueNumber int
	AuthorLogin string
	Body        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GetRepository fetches repository details and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*RepositoryMetadata, error) {
	repo, err := withRetry(ctx, c, "get repository", func() (*github.Repository, *github.Response, error) {
		return c.gh.Repositories.Get(ctx, owner, name)
	})
	if err != nil {
		return nil, err
	}
	return toRepositoryMetadata(repo), nil
}

// ListPullRequests fetches every pull request of a repository, open or closed.
// It handles API pagination transparently.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string) ([]PullRequest, error) {
	prs, err := listAll(ctx, c, "pull requests", func(page int) ([]*github.PullRequest, *github.Response, error) {
		return c.gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
			State:       "all",
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, toPullRequest(pr))
	}
	return out, nil
}

// ListIssues fetches every issue of a repository. Pull requests, which the
// issues endpoint also returns, are dropped.
func (c *Client) ListIssues(ctx context.Context, owner, name string) ([]Issue, error) {
	issues, err := listAll(ctx, c, "issues", func(page int) ([]*github.Issue, *github.Response, error) {
		return c.gh.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
			State:       "all",
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		out = append(out, toIssue(issue))
	}
	return out, nil
}

// ListIssueComments fetches every issue and pull request comment of a repository.
func (c *Client) ListIssueComments(ctx context.Context, owner, name string) ([]IssueComment, error) {
	comments, err := listAll(ctx, c, "issue comments", func(page int) ([]*github.IssueComment, *github.Response, error) {
		// Issue number 0 lists the comments of the whole repository.
		return c.gh.Issues.ListComments(ctx, owner, name, 0, &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]IssueComment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, toIssueComment(comment))
	}
	return out, nil
}

// listAll follows resp.NextPage until the last page.
func listAll[T any](ctx context.Context, c *Client, what string, fetch func(page int) ([]T, *github.Response, error)) ([]T, error) {
	var all []T
	page := 0
	for {
		c.logger.Debug("Fetching page", "resource", what, "page", page)
		var resp *github.Response
		items, err := withRetry(ctx, c, what, func() ([]T, *github.Response, error) {
			items, r, err := fetch(page)
			resp = r
			return items, r, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", what, err)
		}
		all = append(all, items...)

		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return all, nil
}

// withRetry runs call up to maxRetries times. Rate limits sleep until the
// reset time; server and transport errors back off exponentially; other
// client errors fail at once.
func withRetry[T any](ctx context.Context, c *Client, op string, call func() (T, *github.Response, error)) (T, error) {
	policy := newRetryPolicy()
	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, _, err := call()
		if err == nil {
			return result, nil
		}
		wait, retry := retryDelay(err)
		if !retry {
			return result, backoff.Permanent(err)
		}
		policy.serverWait = wait
		return result, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("GitHub request failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotifyWithData(operation, backoff.WithContext(policy, ctx), notify)
}

// retryPolicy is an exponential backoff capped at maxRetries attempts whose
// next delay a rate limit response can override.
type retryPolicy struct {
	backoff.BackOff
	serverWait time.Duration
}

func newRetryPolicy() *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryBaseDelay
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	return &retryPolicy{BackOff: backoff.WithMaxRetries(exp, maxRetries-1)}
}

func (p *retryPolicy) NextBackOff() time.Duration {
	next := p.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if p.serverWait > 0 {
		next, p.serverWait = p.serverWait, 0
	}
	return next
}

// retryDelay classifies err. A zero wait with retry set means the exponential
// step applies.
func retryDelay(err error) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait > maxRateLimitWait {
			return 0, false
		}
		return max(wait, 0) + rateLimitPadding, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return min(*abuseErr.RetryAfter, maxRateLimitWait), true
		}
		return 0, true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil && respErr.Response.StatusCode >= http.StatusInternalServerError {
			return 0, true
		}
		return 0, false
	}
	// Transport level failure.
	return 0, true
}

func toRepositoryMetadata(r *github.Repository) *RepositoryMetadata {
	return &RepositoryMetadata{
		Description:     r.GetDescription(),
		DefaultBranch:   r.GetDefaultBranch(),
		StarsCount:      r.GetStargazersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
	}
}

func toPullRequest(pr *github.PullRequest) PullRequest {
	return PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		State:       pr.GetState(),
		AuthorLogin: pr.GetUser().GetLogin(),
		CreatedAt:   pr.GetCreatedAt().Time,
		UpdatedAt:   pr.GetUpdatedAt().Time,
		ClosedAt:    timePtr(pr.ClosedAt),
		MergedAt:    timePtr(pr.MergedAt),
	}
}

func toIssue(issue *github.Issue) Issue {
	return Issue{
		Number:      issue.GetNumber(),
		Title:       issue.GetTitle(),
		State:       issue.GetState(),
		AuthorLogin: issue.GetUser().GetLogin(),
		CreatedAt:   issue.GetCreatedAt().Time,
		UpdatedAt:   issue.GetUpdatedAt().Time,
		ClosedAt:    timePtr(issue.ClosedAt),
	}
}

func toIssueComment(comment *github.IssueComment) IssueComment {
	return IssueComment{
		ID:          comment.GetID(),
		IssueNumber: issueNumberFromURL(comment.GetIssueURL()),
		AuthorLogin: comment.GetUser().GetLogin(),
		Body:        comment.GetBody(),
		CreatedAt:   comment.GetCreatedAt().Time,
		UpdatedAt:   comment.GetUpdatedAt().Time,
	}
}

// issueNumberFromURL extracts 42 from ".../repos/o/r/issues/42".
func issueNumberFromURL(u string) int {
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(u[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
