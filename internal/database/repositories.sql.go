// internal/database/repositories.sql.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const repositoryColumns = `id, url, host, owner, name, description, default_branch, stars_count, forks_count, open_issues_count, metadata_synced_at, created_at`

func scanRepository(row interface{ Scan(...any) error }) (Repository, error) {
	var i Repository
	err := row.Scan(
		&i.ID,
		&i.Url,
		&i.Host,
		&i.Owner,
		&i.Name,
		&i.Description,
		&i.DefaultBranch,
		&i.StarsCount,
		&i.ForksCount,
		&i.OpenIssuesCount,
		&i.MetadataSyncedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createRepository = `-- name: CreateRepository :execrows
INSERT INTO repositories (url, host, owner, name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO NOTHING
`

type CreateRepositoryParams struct {
	Url   string `json:"url"`
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (q *Queries) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (int64, error) {
	result, err := q.db.Exec(ctx, createRepository, arg.Url, arg.Host, arg.Owner, arg.Name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getRepositoryByURL = `-- name: GetRepositoryByURL :one
SELECT ` + repositoryColumns + ` FROM repositories WHERE url = $1
`

func (q *Queries) GetRepositoryByURL(ctx context.Context, url string) (Repository, error) {
	return scanRepository(q.db.QueryRow(ctx, getRepositoryByURL, url))
}

const getRepositoryByOwnerAndName = `-- name: GetRepositoryByOwnerAndName :one
SELECT ` + repositoryColumns + ` FROM repositories WHERE owner = $1 AND name = $2
ORDER BY id
LIMIT 1
`

type GetRepositoryByOwnerAndNameParams struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (q *Queries) GetRepositoryByOwnerAndName(ctx context.Context, arg GetRepositoryByOwnerAndNameParams) (Repository, error) {
	return scanRepository(q.db.QueryRow(ctx, getRepositoryByOwnerAndName, arg.Owner, arg.Name))
}

const listRepositories = `-- name: ListRepositories :many
SELECT ` + repositoryColumns + ` FROM repositories ORDER BY owner, name
`

func (q *Queries) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := q.db.Query(ctx, listRepositories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Repository
	for rows.Next() {
		i, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateRepositoryMetadata = `-- name: UpdateRepositoryMetadata :one
UPDATE repositories
SET description        = $2,
    default_branch     = $3,
    stars_count        = $4,
    forks_count        = $5,
    open_issues_count  = $6,
    metadata_synced_at = now()
WHERE id = $1
RETURNING ` + repositoryColumns + `
`

type UpdateRepositoryMetadataParams struct {
	ID              int64       `json:"id"`
	Description     pgtype.Text `json:"description"`
	DefaultBranch   pgtype.Text `json:"default_branch"`
	StarsCount      int32       `json:"stars_count"`
	ForksCount      int32       `json:"forks_count"`
	OpenIssuesCount int32       `json:"open_issues_count"`
}

func (q *Queries) UpdateRepositoryMetadata(ctx context.Context, arg UpdateRepositoryMetadataParams) (Repository, error) {
	row := q.db.QueryRow(ctx, updateRepositoryMetadata,
		arg.ID,
		arg.Description,
		arg.DefaultBranch,
		arg.StarsCount,
		arg.ForksCount,
		arg.OpenIssuesCount,
	)
	return scanRepository(row)
}

const upsertUser = `-- name: UpsertUser :one
INSERT INTO users (login, name, email)
VALUES ($1, $2, $3)
ON CONFLICT (login) DO UPDATE
SET name  = CASE WHEN users.name = '' THEN EXCLUDED.name ELSE users.name END,
    email = CASE WHEN users.email = '' THEN EXCLUDED.email ELSE users.email END
RETURNING id, login, name, email
`

type UpsertUserParams struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpsertUser is find-or-create by login. Existing names and emails are only
// filled in, never overwritten.
func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) (User, error) {
	row := q.db.QueryRow(ctx, upsertUser, arg.Login, arg.Name, arg.Email)
	var i User
	err := row.Scan(&i.ID, &i.Login, &i.Name, &i.Email)
	return i, err
}
