// internal/database/commits.sql.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const createCommit = `-- name: CreateCommit :one
INSERT INTO commits (repository_id, hash, author_id, message, committed_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, repository_id, hash, author_id, message, committed_at
`

type CreateCommitParams struct {
	RepositoryID int64     `json:"repository_id"`
	Hash         string    `json:"hash"`
	AuthorID     int64     `json:"author_id"`
	Message      string    `json:"message"`
	CommittedAt  time.Time `json:"committed_at"`
}

func (q *Queries) CreateCommit(ctx context.Context, arg CreateCommitParams) (Commit, error) {
	row := q.db.QueryRow(ctx, createCommit,
		arg.RepositoryID,
		arg.Hash,
		arg.AuthorID,
		arg.Message,
		arg.CommittedAt,
	)
	var i Commit
	err := row.Scan(
		&i.ID,
		&i.RepositoryID,
		&i.Hash,
		&i.AuthorID,
		&i.Message,
		&i.CommittedAt,
	)
	return i, err
}

const getCommitByHash = `-- name: GetCommitByHash :one
SELECT id, repository_id, hash, author_id, message, committed_at
FROM commits
WHERE repository_id = $1 AND hash = $2
`

type GetCommitByHashParams struct {
	RepositoryID int64  `json:"repository_id"`
	Hash         string `json:"hash"`
}

func (q *Queries) GetCommitByHash(ctx context.Context, arg GetCommitByHashParams) (Commit, error) {
	row := q.db.QueryRow(ctx, getCommitByHash, arg.RepositoryID, arg.Hash)
	var i Commit
	err := row.Scan(
		&i.ID,
		&i.RepositoryID,
		&i.Hash,
		&i.AuthorID,
		&i.Message,
		&i.CommittedAt,
	)
	return i, err
}

const getCommitByID = `-- name: GetCommitByID :one
SELECT id, repository_id, hash, author_id, message, committed_at
FROM commits
WHERE id = $1
`

func (q *Queries) GetCommitByID(ctx context.Context, id int64) (Commit, error) {
	row := q.db.QueryRow(ctx, getCommitByID, id)
	var i Commit
	err := row.Scan(
		&i.ID,
		&i.RepositoryID,
		&i.Hash,
		&i.AuthorID,
		&i.Message,
		&i.CommittedAt,
	)
	return i, err
}

const listCommitRefs = `-- name: ListCommitRefs :many
SELECT id, hash FROM commits WHERE repository_id = $1
`

type ListCommitRefsRow struct {
	ID   int64  `json:"id"`
	Hash string `json:"hash"`
}

func (q *Queries) ListCommitRefs(ctx context.Context, repositoryID int64) ([]ListCommitRefsRow, error) {
	rows, err := q.db.Query(ctx, listCommitRefs, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListCommitRefsRow
	for rows.Next() {
		var i ListCommitRefsRow
		if err := rows.Scan(&i.ID, &i.Hash); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listCommitsByRepo = `-- name: ListCommitsByRepo :many
SELECT c.id, c.hash, c.message, c.committed_at, c.author_id, u.login AS author_login, u.name AS author_name
FROM commits c
JOIN users u ON u.id = c.author_id
WHERE c.repository_id = $1
  AND ($2::timestamptz IS NULL OR c.committed_at >= $2)
  AND ($3::timestamptz IS NULL OR c.committed_at <= $3)
ORDER BY c.committed_at ASC, c.id ASC
`

type ListCommitsByRepoParams struct {
	RepositoryID int64              `json:"repository_id"`
	Since        pgtype.Timestamptz `json:"since"`
	Until        pgtype.Timestamptz `json:"until"`
}

type ListCommitsByRepoRow struct {
	ID          int64     `json:"id"`
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	CommittedAt time.Time `json:"committed_at"`
	AuthorID    int64     `json:"author_id"`
	AuthorLogin string    `json:"author_login"`
	AuthorName  string    `json:"author_name"`
}

// ListCommitsByRepo returns commits oldest first.
func (q *Queries) ListCommitsByRepo(ctx context.Context, arg ListCommitsByRepoParams) ([]ListCommitsByRepoRow, error) {
	rows, err := q.db.Query(ctx, listCommitsByRepo, arg.RepositoryID, arg.Since, arg.Until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListCommitsByRepoRow
	for rows.Next() {
		var i ListCommitsByRepoRow
		if err := rows.Scan(
			&i.ID,
			&i.Hash,
			&i.Message,
			&i.CommittedAt,
			&i.AuthorID,
			&i.AuthorLogin,
			&i.AuthorName,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listTopContributors = `-- name: ListTopContributors :many
SELECT u.login, u.name, COUNT(DISTINCT c.id)::bigint AS commits,
       COALESCE(SUM(cf.lines_added + cf.lines_deleted), 0)::bigint AS lines_changed
FROM commits c
JOIN users u ON u.id = c.author_id
LEFT JOIN commit_files cf ON cf.commit_id = c.id
WHERE c.repository_id = $1
GROUP BY u.login, u.name
ORDER BY lines_changed DESC, commits DESC, u.login ASC
LIMIT $2
`

type ListTopContributorsParams struct {
	RepositoryID int64 `json:"repository_id"`
	Limit        int32 `json:"limit"`
}

type ListTopContributorsRow struct {
	Login        string `json:"login"`
	Name         string `json:"name"`
	Commits      int64  `json:"commits"`
	LinesChanged int64  `json:"lines_changed"`
}

func (q *Queries) ListTopContributors(ctx context.Context, arg ListTopContributorsParams) ([]ListTopContributorsRow, error) {
	rows, err := q.db.Query(ctx, listTopContributors, arg.RepositoryID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListTopContributorsRow
	for rows.Next() {
		var i ListTopContributorsRow
		if err := rows.Scan(&i.Login, &i.Name, &i.Commits, &i.LinesChanged); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createCommitParent = `-- name: CreateCommitParent :execrows
INSERT INTO commit_parents (parent_id, child_id, position)
VALUES ($1, $2, $3)
ON CONFLICT (parent_id, child_id) DO UPDATE SET position = EXCLUDED.position
WHERE commit_parents.position <> EXCLUDED.position
`

type CreateCommitParentParams struct {
	ParentID int64 `json:"parent_id"`
	ChildID  int64 `json:"child_id"`
	Position int32 `json:"position"`
}

func (q *Queries) CreateCommitParent(ctx context.Context, arg CreateCommitParentParams) (int64, error) {
	result, err := q.db.Exec(ctx, createCommitParent, arg.ParentID, arg.ChildID, arg.Position)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listCommitParentsByChildIDs = `-- name: ListCommitParentsByChildIDs :many
SELECT parent_id, child_id, position
FROM commit_parents
WHERE child_id = ANY($1::bigint[])
ORDER BY child_id, position
`

func (q *Queries) ListCommitParentsByChildIDs(ctx context.Context, childIds []int64) ([]CommitParent, error) {
	rows, err := q.db.Query(ctx, listCommitParentsByChildIDs, childIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CommitParent
	for rows.Next() {
		var i CommitParent
		if err := rows.Scan(&i.ParentID, &i.ChildID, &i.Position); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteCommitParentsByChildIDs = `-- name: DeleteCommitParentsByChildIDs :execrows
DELETE FROM commit_parents WHERE child_id = ANY($1::bigint[])
`

func (q *Queries) DeleteCommitParentsByChildIDs(ctx context.Context, childIds []int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCommitParentsByChildIDs, childIds)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
