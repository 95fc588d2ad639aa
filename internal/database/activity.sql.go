// internal/database/activity.sql.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertPullRequest = `-- name: UpsertPullRequest :exec
INSERT INTO pull_requests (repository_id, number, title, state, author_id, created_at, updated_at, closed_at, merged_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (repository_id, number) DO UPDATE
SET title      = EXCLUDED.title,
    state      = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at,
    closed_at  = EXCLUDED.closed_at,
    merged_at  = EXCLUDED.merged_at
`

type UpsertPullRequestParams struct {
	RepositoryID int64              `json:"repository_id"`
	Number       int32              `json:"number"`
	Title        string             `json:"title"`
	State        string             `json:"state"`
	AuthorID     pgtype.Int8        `json:"author_id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     pgtype.Timestamptz `json:"closed_at"`
	MergedAt     pgtype.Timestamptz `json:"merged_at"`
}

func (q *Queries) UpsertPullRequest(ctx context.Context, arg UpsertPullRequestParams) error {
	_, err := q.db.Exec(ctx, upsertPullRequest,
		arg.RepositoryID,
		arg.Number,
		arg.Title,
		arg.State,
		arg.AuthorID,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.ClosedAt,
		arg.MergedAt,
	)
	return err
}

const upsertIssue = `-- name: UpsertIssue :exec
INSERT INTO issues (repository_id, number, title, state, author_id, created_at, updated_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (repository_id, number) DO UPDATE
SET title      = EXCLUDED.title,
    state      = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at,
    closed_at  = EXCLUDED.closed_at
`

type UpsertIssueParams struct {
	RepositoryID int64              `json:"repository_id"`
	Number       int32              `json:"number"`
	Title        string             `json:"title"`
	State        string             `json:"state"`
	AuthorID     pgtype.Int8        `json:"author_id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     pgtype.Timestamptz `json:"closed_at"`
}

func (q *Queries) UpsertIssue(ctx context.Context, arg UpsertIssueParams) error {
	_, err := q.db.Exec(ctx, upsertIssue,
		arg.RepositoryID,
		arg.Number,
		arg.Title,
		arg.State,
		arg.AuthorID,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.ClosedAt,
	)
	return err
}

const upsertIssueComment = `-- name: UpsertIssueComment :exec
INSERT INTO issue_comments (repository_id, github_id, issue_number, author_id, body, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (github_id) DO UPDATE
SET body       = EXCLUDED.body,
    updated_at = EXCLUDED.updated_at
`

type UpsertIssueCommentParams struct {
	RepositoryID int64       `json:"repository_id"`
	GithubID     int64       `json:"github_id"`
	IssueNumber  int32       `json:"issue_number"`
	AuthorID     pgtype.Int8 `json:"author_id"`
	Body         string      `json:"body"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (q *Queries) UpsertIssueComment(ctx context.Context, arg UpsertIssueCommentParams) error {
	_, err := q.db.Exec(ctx, upsertIssueComment,
		arg.RepositoryID,
		arg.GithubID,
		arg.IssueNumber,
		arg.AuthorID,
		arg.Body,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}
