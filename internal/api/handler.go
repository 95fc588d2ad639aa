// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-insights/internal/aggregate"
	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
	"repo-insights/internal/model"
	"repo-insights/internal/syncer"
)

type Syncer interface {
	EnsureSynced(ctx context.Context, repoURL string, opts syncer.Options) error
}

type DAGBuilder interface {
	Build(ctx context.Context, repoURL string, refresh bool) ([]model.DAGNode, error)
}

type Aggregates interface {
	Contributions(ctx context.Context, repoURL string, f aggregate.Filter) (model.ContributionReport, error)
	ChangeTree(ctx context.Context, repoURL string, f aggregate.Filter) (*model.TreeNode, error)
	TopContributors(ctx context.Context, repoURL string, limit int) ([]model.Contributor, error)
}

type Files interface {
	FileDiff(ctx context.Context, repoURL, hash, path string) (model.FileDiff, error)
	FileContent(ctx context.Context, repoURL, hash, path string) (model.FileContent, error)
}

// Deps are the collaborators served by the router.
type Deps struct {
	Store      database.Querier
	Syncer     Syncer
	DAG        DAGBuilder
	Aggregates Aggregates
	Files      Files
}

// Handler is the container for API dependencies.
type Handler struct {
	Deps
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	h := &Handler{
		Deps:   deps,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		// A sync clones and walks the whole history; it is not bound by the read timeout.
		r.Post("/repos/{host}/{owner}/{name}/sync", h.syncRepository)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/repos", h.listRepositories)
			r.Route("/repos/{host}/{owner}/{name}", func(r chi.Router) {
				r.Get("/commits", h.getCommits)
				r.Get("/dag", h.getDAG)
				r.Get("/contributions", h.getContributions)
				r.Get("/tree", h.getChangeTree)
				r.Get("/stats/top-contributors", h.getTopContributors)
				r.Get("/commits/{hash}/diff", h.getFileDiff)
				r.Get("/commits/{hash}/content", h.getFileContent)
			})
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// repoURL rebuilds the clone URL of the repository addressed by the path.
func repoURL(r *http.Request) string {
	return "https://" + chi.URLParam(r, "host") + "/" + chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
}

// respondWithFailure maps an error onto a status code and logs the ones that
// are not the caller's fault.
func (h *Handler) respondWithFailure(w http.ResponseWriter, err error, action string) {
	var invalid *custom_errors.ErrInvalidRepoFormat
	var unavailable *custom_errors.RepositoryUnavailableError
	switch {
	case errors.As(err, &invalid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custom_errors.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unavailable):
		h.logger.Warn("Repository unavailable", "action", action, "error", err)
		respondWithError(w, http.StatusBadGateway, "Repository unavailable")
	case errors.Is(err, custom_errors.ErrLockTimeout):
		respondWithError(w, http.StatusServiceUnavailable, "Repository is busy, retry later")
	default:
		h.logger.Error("Request failed", "action", action, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type syncRequest struct {
	Commits          *bool `json:"commits"`
	Stats            bool  `json:"stats"`
	Diffs            bool  `json:"diffs"`
	ExternalActivity bool  `json:"external_activity"`
	ForceFetch       bool  `json:"force_fetch"`
}

// syncRepository brings a repository up to date and returns once the requested stages ran.
// POST /v1/repos/{host}/{owner}/{name}/sync
func (h *Handler) syncRepository(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	opts := syncer.Options{
		Commits:          req.Commits == nil || *req.Commits,
		Stats:            req.Stats,
		Diffs:            req.Diffs,
		ExternalActivity: req.ExternalActivity,
		ForceFetch:       req.ForceFetch,
	}
	url := repoURL(r)
	if err := h.Syncer.EnsureSynced(r.Context(), url, opts); err != nil {
		h.respondWithFailure(w, err, "sync")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "synced", "repository": gitx.NormalizeURL(url)})
}

// listRepositories returns every tracked repository.
// GET /v1/repos
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.Store.ListRepositories(r.Context())
	if err != nil {
		h.respondWithFailure(w, err, "list repositories")
		return
	}
	out := make([]model.Repository, len(repos))
	for i, repo := range repos {
		out[i] = toRepository(repo)
	}
	respondWithJSON(w, http.StatusOK, out)
}

// getCommits handles the request to retrieve commits for a repository.
// GET /v1/repos/{host}/{owner}/{name}/commits?since=&until=
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	since, until, ok := timeRange(w, r)
	if !ok {
		return
	}
	repo, err := database.FindRepository(r.Context(), h.Store, gitx.NormalizeURL(repoURL(r)))
	if err != nil {
		h.respondWithFailure(w, err, "get repository")
		return
	}
	rows, err := h.Store.ListCommitsByRepo(r.Context(), database.ListCommitsByRepoParams{
		RepositoryID: repo.ID,
		Since:        database.Timestamptz(since),
		Until:        database.Timestamptz(until),
	})
	if err != nil {
		h.respondWithFailure(w, err, "list commits")
		return
	}
	commits := make([]model.Commit, len(rows))
	for i, c := range rows {
		commits[i] = model.Commit{
			Hash:        c.Hash,
			Message:     c.Message,
			AuthorLogin: c.AuthorLogin,
			AuthorName:  c.AuthorName,
			CommittedAt: c.CommittedAt,
		}
	}
	respondWithJSON(w, http.StatusOK, commits)
}

// getDAG returns the commit graph with branch membership.
// GET /v1/repos/{host}/{owner}/{name}/dag?refresh=true
func (h *Handler) getDAG(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	nodes, err := h.DAG.Build(r.Context(), repoURL(r), refresh)
	if err != nil {
		h.respondWithFailure(w, err, "build dag")
		return
	}
	respondWithJSON(w, http.StatusOK, nodes)
}

// getContributions returns per-author percentages by file, folder and repository.
// GET /v1/repos/{host}/{owner}/{name}/contributions?branch=&since=&until=
func (h *Handler) getContributions(w http.ResponseWriter, r *http.Request) {
	f, ok := filter(w, r)
	if !ok {
		return
	}
	report, err := h.Aggregates.Contributions(r.Context(), repoURL(r), f)
	if err != nil {
		h.respondWithFailure(w, err, "contributions")
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// getChangeTree returns the folder tree of live files with summed line changes.
// GET /v1/repos/{host}/{owner}/{name}/tree?branch=&since=&until=
func (h *Handler) getChangeTree(w http.ResponseWriter, r *http.Request) {
	f, ok := filter(w, r)
	if !ok {
		return
	}
	tree, err := h.Aggregates.ChangeTree(r.Context(), repoURL(r), f)
	if err != nil {
		h.respondWithFailure(w, err, "change tree")
		return
	}
	respondWithJSON(w, http.StatusOK, tree)
}

// getTopContributors handles the request for the authors with the most changed lines.
// GET /v1/repos/{host}/{owner}/{name}/stats/top-contributors?limit=N
func (h *Handler) getTopContributors(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10" // Default limit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	top, err := h.Aggregates.TopContributors(r.Context(), repoURL(r), limit)
	if err != nil {
		h.respondWithFailure(w, err, "top contributors")
		return
	}
	respondWithJSON(w, http.StatusOK, top)
}

// getFileDiff returns the diff of one file of a commit against its first parent.
// GET /v1/repos/{host}/{owner}/{name}/commits/{hash}/diff?path=
func (h *Handler) getFileDiff(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'path' parameter")
		return
	}
	diff, err := h.Files.FileDiff(r.Context(), repoURL(r), chi.URLParam(r, "hash"), path)
	if err != nil {
		h.respondWithFailure(w, err, "file diff")
		return
	}
	respondWithJSON(w, http.StatusOK, diff)
}

// getFileContent returns a file as it was at a commit.
// GET /v1/repos/{host}/{owner}/{name}/commits/{hash}/content?path=
func (h *Handler) getFileContent(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'path' parameter")
		return
	}
	content, err := h.Files.FileContent(r.Context(), repoURL(r), chi.URLParam(r, "hash"), path)
	if err != nil {
		h.respondWithFailure(w, err, "file content")
		return
	}
	respondWithJSON(w, http.StatusOK, content)
}

func filter(w http.ResponseWriter, r *http.Request) (aggregate.Filter, bool) {
	since, until, ok := timeRange(w, r)
	if !ok {
		return aggregate.Filter{}, false
	}
	return aggregate.Filter{Branch: r.URL.Query().Get("branch"), Since: since, Until: until}, true
}

// timeRange reads the optional since/until bounds, accepted as RFC 3339 or as a date.
func timeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'since' parameter. Use RFC 3339 or YYYY-MM-DD.")
		return time.Time{}, time.Time{}, false
	}
	until, err := parseTime(r.URL.Query().Get("until"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'until' parameter. Use RFC 3339 or YYYY-MM-DD.")
		return time.Time{}, time.Time{}, false
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		respondWithError(w, http.StatusBadRequest, "'until' must not be before 'since'")
		return time.Time{}, time.Time{}, false
	}
	return since, until, true
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func toRepository(r database.Repository) model.Repository {
	repo := model.Repository{
		ID:              r.ID,
		URL:             r.Url,
		Host:            r.Host,
		Owner:           r.Owner,
		Name:            r.Name,
		StarsCount:      int(r.StarsCount),
		ForksCount:      int(r.ForksCount),
		OpenIssuesCount: int(r.OpenIssuesCount),
		CreatedAt:       r.CreatedAt,
	}
	if r.Description.Valid {
		repo.Description = &r.Description.String
	}
	if r.DefaultBranch.Valid {
		repo.DefaultBranch = &r.DefaultBranch.String
	}
	if r.MetadataSyncedAt.Valid {
		repo.MetadataSynced = &r.MetadataSyncedAt.Time
	}
	return repo
}
