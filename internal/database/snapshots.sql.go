// internal/database/snapshots.sql.go
package database

import (
	"context"
)

const getContributionSnapshot = `-- name: GetContributionSnapshot :one
SELECT payload FROM contribution_snapshots WHERE repository_id = $1 AND cache_key = $2
`

type GetContributionSnapshotParams struct {
	RepositoryID int64  `json:"repository_id"`
	CacheKey     string `json:"cache_key"`
}

func (q *Queries) GetContributionSnapshot(ctx context.Context, arg GetContributionSnapshotParams) ([]byte, error) {
	row := q.db.QueryRow(ctx, getContributionSnapshot, arg.RepositoryID, arg.CacheKey)
	var payload []byte
	err := row.Scan(&payload)
	return payload, err
}

const saveContributionSnapshot = `-- name: SaveContributionSnapshot :exec
INSERT INTO contribution_snapshots (repository_id, cache_key, payload)
VALUES ($1, $2, $3)
ON CONFLICT (repository_id, cache_key) DO UPDATE
SET payload = EXCLUDED.payload, created_at = now()
`

type SaveContributionSnapshotParams struct {
	RepositoryID int64  `json:"repository_id"`
	CacheKey     string `json:"cache_key"`
	Payload      []byte `json:"payload"`
}

func (q *Queries) SaveContributionSnapshot(ctx context.Context, arg SaveContributionSnapshotParams) error {
	_, err := q.db.Exec(ctx, saveContributionSnapshot, arg.RepositoryID, arg.CacheKey, arg.Payload)
	return err
}

const deleteContributionSnapshots = `-- name: DeleteContributionSnapshots :exec
DELETE FROM contribution_snapshots WHERE repository_id = $1
`

func (q *Queries) DeleteContributionSnapshots(ctx context.Context, repositoryID int64) error {
	_, err := q.db.Exec(ctx, deleteContributionSnapshots, repositoryID)
	return err
}
