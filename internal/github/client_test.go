// internal/github/client_test.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	retryBaseDelay = 5 * time.Millisecond
}

// setupTestClient creates a httptest server and a github client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	// We can pass an empty token because we are not authenticating to the real GitHub.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", logger)

	// Override the client's internal http client to point to our test server.
	testClient := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	testClient.BaseURL = base
	client.gh = testClient

	return client, server
}

func TestClient_GetRepository_Retry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "/repos/test/repo", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "description": "a repo", "default_branch": "trunk", "stargazers_count": 7, "forks_count": 2, "open_issues_count": 1}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		repo, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		assert.Equal(t, &RepositoryMetadata{
			Description:     "a repo",
			DefaultBranch:   "trunk",
			StarsCount:      7,
			ForksCount:      2,
			OpenIssuesCount: 1,
		}, repo)
	})

	t.Run("retries on 503 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			w.WriteHeader(http.StatusOK) // Succeed second time
			fmt.Fprintln(w, `{"id": 1, "name": "repo"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("handles rate limit error", func(t *testing.T) {
		var requestCount int32
		resetTime := time.Now().Add(time.Second)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))
				w.WriteHeader(http.StatusForbidden) // RateLimitError is a 403
				fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		startTime := time.Now()
		_, err := client.GetRepository(context.Background(), "test", "repo")
		elapsed := time.Since(startTime)

		require.NoError(t, err)
		assert.True(t, elapsed >= rateLimitPadding, "client should wait for rate limit reset")
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		var ghErr *github.ErrorResponse
		assert.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusInternalServerError, ghErr.Response.StatusCode)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})

	t.Run("rate limit wait stops when the context is canceled", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(10*time.Minute).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		startTime := time.Now()
		_, err := client.GetRepository(ctx, "test", "repo")

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(startTime), 5*time.Second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("gives up on a rate limit reset too far away", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		var rateErr *github.RateLimitError
		require.ErrorAs(t, err, &rateErr)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})
}

func TestRetryPolicy(t *testing.T) {
	policy := newRetryPolicy()
	policy.Reset()

	first := policy.NextBackOff()
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 2*retryBaseDelay, "exponential steps start near the base delay")

	policy.serverWait = time.Minute
	assert.Equal(t, time.Minute, policy.NextBackOff(), "a server supplied wait replaces the step")

	policy.serverWait = time.Minute
	assert.Equal(t, backoff.Stop, policy.NextBackOff(), "attempts stay capped")
}

func TestRetryDelay(t *testing.T) {
	retryAfter := 3 * time.Second
	testCases := []struct {
		name      string
		err       error
		wantWait  time.Duration
		wantRetry bool
	}{
		{name: "canceled", err: context.Canceled},
		{name: "abuse with retry-after", err: &github.AbuseRateLimitError{RetryAfter: &retryAfter}, wantWait: retryAfter, wantRetry: true},
		{name: "abuse without retry-after", err: &github.AbuseRateLimitError{}, wantRetry: true},
		{name: "server error", err: &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusBadGateway}}, wantRetry: true},
		{name: "client error", err: &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusUnprocessableEntity}}},
		{name: "transport", err: fmt.Errorf("dial tcp: connection refused"), wantRetry: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wait, retry := retryDelay(tc.err)
			assert.Equal(t, tc.wantRetry, retry)
			assert.Equal(t, tc.wantWait, wait)
		})
	}
}

func TestClient_ListPullRequests_FollowsPages(t *testing.T) {
	var serverURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/test/repo/pulls", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprintln(w, `[{"number": 2, "title": "second", "state": "closed", "user": {"login": "bob"},
				"created_at": "2024-01-02T00:00:00Z", "updated_at": "2024-01-03T00:00:00Z",
				"closed_at": "2024-01-03T00:00:00Z", "merged_at": "2024-01-03T00:00:00Z"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/test/repo/pulls?state=all&page=2>; rel="next"`, serverURL))
		fmt.Fprintln(w, `[{"number": 1, "title": "first", "state": "open", "user": {"login": "ada"},
			"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:00:00Z"}]`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()
	serverURL = server.URL

	prs, err := client.ListPullRequests(context.Background(), "test", "repo")

	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 1, prs[0].Number)
	assert.Equal(t, "ada", prs[0].AuthorLogin)
	assert.Nil(t, prs[0].ClosedAt)
	assert.Equal(t, "closed", prs[1].State)
	require.NotNil(t, prs[1].MergedAt)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), prs[1].MergedAt.UTC())
}

func TestClient_ListIssues_SkipsPullRequests(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/test/repo/issues", r.URL.Path)
		fmt.Fprintln(w, `[
			{"number": 3, "title": "bug", "state": "open", "user": {"login": "ada"}},
			{"number": 4, "title": "a pr", "state": "open", "user": {"login": "bob"},
			 "pull_request": {"url": "https://api.github.com/repos/test/repo/pulls/4"}}
		]`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()

	issues, err := client.ListIssues(context.Background(), "test", "repo")

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 3, issues[0].Number)
}

func TestClient_ListIssueComments(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/test/repo/issues/comments", r.URL.Path)
		fmt.Fprintln(w, `[{"id": 99, "body": "looks good", "user": {"login": "ada"},
			"issue_url": "https://api.github.com/repos/test/repo/issues/3"}]`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()

	comments, err := client.ListIssueComments(context.Background(), "test", "repo")

	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(99), comments[0].ID)
	assert.Equal(t, 3, comments[0].IssueNumber)
	assert.Equal(t, "looks good", comments[0].Body)
}

func TestIssueNumberFromURL(t *testing.T) {
	assert.Equal(t, 42, issueNumberFromURL("https://api.github.com/repos/o/r/issues/42"))
	assert.Zero(t, issueNumberFromURL(""))
	assert.Zero(t, issueNumberFromURL("https://api.github.com/repos/o/r/issues/x"))
}
