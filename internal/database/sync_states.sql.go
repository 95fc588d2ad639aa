// internal/database/sync_states.sql.go
package database

import (
	"context"
)

const markSynced = `-- name: MarkSynced :exec
INSERT INTO sync_states (entity_id, task_kind)
VALUES ($1, $2)
ON CONFLICT (entity_id, task_kind) DO UPDATE SET completed_at = now()
`

type MarkSyncedParams struct {
	EntityID int64  `json:"entity_id"`
	TaskKind string `json:"task_kind"`
}

// MarkSynced records that a unit of work is durably complete. Callers write it
// after the unit's side effects, inside the same transaction.
func (q *Queries) MarkSynced(ctx context.Context, arg MarkSyncedParams) error {
	_, err := q.db.Exec(ctx, markSynced, arg.EntityID, arg.TaskKind)
	return err
}

const isSynced = `-- name: IsSynced :one
SELECT EXISTS (SELECT 1 FROM sync_states WHERE entity_id = $1 AND task_kind = $2)
`

type IsSyncedParams struct {
	EntityID int64  `json:"entity_id"`
	TaskKind string `json:"task_kind"`
}

func (q *Queries) IsSynced(ctx context.Context, arg IsSyncedParams) (bool, error) {
	row := q.db.QueryRow(ctx, isSynced, arg.EntityID, arg.TaskKind)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const listSyncedEntityIDs = `-- name: ListSyncedEntityIDs :many
SELECT entity_id FROM sync_states
WHERE task_kind = $1 AND entity_id = ANY($2::bigint[])
`

type ListSyncedEntityIDsParams struct {
	TaskKind  string  `json:"task_kind"`
	EntityIds []int64 `json:"entity_ids"`
}

func (q *Queries) ListSyncedEntityIDs(ctx context.Context, arg ListSyncedEntityIDsParams) ([]int64, error) {
	rows, err := q.db.Query(ctx, listSyncedEntityIDs, arg.TaskKind, arg.EntityIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var entityID int64
		if err := rows.Scan(&entityID); err != nil {
			return nil, err
		}
		items = append(items, entityID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const clearSynced = `-- name: ClearSynced :exec
DELETE FROM sync_states WHERE entity_id = $1 AND task_kind = $2
`

type ClearSyncedParams struct {
	EntityID int64  `json:"entity_id"`
	TaskKind string `json:"task_kind"`
}

func (q *Queries) ClearSynced(ctx context.Context, arg ClearSyncedParams) error {
	_, err := q.db.Exec(ctx, clearSynced, arg.EntityID, arg.TaskKind)
	return err
}
