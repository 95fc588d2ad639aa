// internal/database/branches.sql.go
package database

import (
	"context"
)

const upsertBranch = `-- name: UpsertBranch :one
INSERT INTO branches (repository_id, name)
VALUES ($1, $2)
ON CONFLICT (repository_id, name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, repository_id, name
`

type UpsertBranchParams struct {
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"name"`
}

func (q *Queries) UpsertBranch(ctx context.Context, arg UpsertBranchParams) (Branch, error) {
	row := q.db.QueryRow(ctx, upsertBranch, arg.RepositoryID, arg.Name)
	var i Branch
	err := row.Scan(&i.ID, &i.RepositoryID, &i.Name)
	return i, err
}

const getBranchByName = `-- name: GetBranchByName :one
SELECT id, repository_id, name FROM branches WHERE repository_id = $1 AND name = $2
`

type GetBranchByNameParams struct {
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"name"`
}

func (q *Queries) GetBranchByName(ctx context.Context, arg GetBranchByNameParams) (Branch, error) {
	row := q.db.QueryRow(ctx, getBranchByName, arg.RepositoryID, arg.Name)
	var i Branch
	err := row.Scan(&i.ID, &i.RepositoryID, &i.Name)
	return i, err
}

const listBranches = `-- name: ListBranches :many
SELECT id, repository_id, name FROM branches WHERE repository_id = $1 ORDER BY name
`

func (q *Queries) ListBranches(ctx context.Context, repositoryID int64) ([]Branch, error) {
	rows, err := q.db.Query(ctx, listBranches, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Branch
	for rows.Next() {
		var i Branch
		if err := rows.Scan(&i.ID, &i.RepositoryID, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createCommitBranch = `-- name: CreateCommitBranch :execrows
INSERT INTO commit_branches (commit_id, branch_id, is_primary)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`

type CreateCommitBranchParams struct {
	CommitID  int64 `json:"commit_id"`
	BranchID  int64 `json:"branch_id"`
	IsPrimary bool  `json:"is_primary"`
}

func (q *Queries) CreateCommitBranch(ctx context.Context, arg CreateCommitBranchParams) (int64, error) {
	result, err := q.db.Exec(ctx, createCommitBranch, arg.CommitID, arg.BranchID, arg.IsPrimary)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listCommitBranchesByCommitIDs = `-- name: ListCommitBranchesByCommitIDs :many
SELECT cb.commit_id, cb.branch_id, b.name AS branch_name, cb.is_primary
FROM commit_branches cb
JOIN branches b ON b.id = cb.branch_id
WHERE cb.commit_id = ANY($1::bigint[])
ORDER BY cb.commit_id, b.name
`

type ListCommitBranchesByCommitIDsRow struct {
	CommitID   int64  `json:"commit_id"`
	BranchID   int64  `json:"branch_id"`
	BranchName string `json:"branch_name"`
	IsPrimary  bool   `json:"is_primary"`
}

func (q *Queries) ListCommitBranchesByCommitIDs(ctx context.Context, commitIds []int64) ([]ListCommitBranchesByCommitIDsRow, error) {
	rows, err := q.db.Query(ctx, listCommitBranchesByCommitIDs, commitIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListCommitBranchesByCommitIDsRow
	for rows.Next() {
		var i ListCommitBranchesByCommitIDsRow
		if err := rows.Scan(&i.CommitID, &i.BranchID, &i.BranchName, &i.IsPrimary); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
