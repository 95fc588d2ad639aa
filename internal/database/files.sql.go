// internal/database/files.sql.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const commitFileColumns = `id, commit_id, path, lines_added, lines_deleted, content, diff, diff_parent_id, diff_state, source_path, parent_path`

func scanCommitFile(row interface{ Scan(...any) error }) (CommitFile, error) {
	var i CommitFile
	err := row.Scan(
		&i.ID,
		&i.CommitID,
		&i.Path,
		&i.LinesAdded,
		&i.LinesDeleted,
		&i.Content,
		&i.Diff,
		&i.DiffParentID,
		&i.DiffState,
		&i.SourcePath,
		&i.ParentPath,
	)
	return i, err
}

const createCommitFile = `-- name: CreateCommitFile :execrows
INSERT INTO commit_files (commit_id, path, source_path, parent_path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (commit_id, path) DO NOTHING
`

type CreateCommitFileParams struct {
	CommitID   int64  `json:"commit_id"`
	Path       string `json:"path"`
	SourcePath string `json:"source_path"`
	ParentPath string `json:"parent_path"`
}

func (q *Queries) CreateCommitFile(ctx context.Context, arg CreateCommitFileParams) (int64, error) {
	result, err := q.db.Exec(ctx, createCommitFile, arg.CommitID, arg.Path, arg.SourcePath, arg.ParentPath)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertCommitFileStats = `-- name: UpsertCommitFileStats :exec
INSERT INTO commit_files (commit_id, path, lines_added, lines_deleted)
VALUES ($1, $2, $3, $4)
ON CONFLICT (commit_id, path) DO UPDATE
SET lines_added   = EXCLUDED.lines_added,
    lines_deleted = EXCLUDED.lines_deleted
`

type UpsertCommitFileStatsParams struct {
	CommitID     int64  `json:"commit_id"`
	Path         string `json:"path"`
	LinesAdded   int32  `json:"lines_added"`
	LinesDeleted int32  `json:"lines_deleted"`
}

func (q *Queries) UpsertCommitFileStats(ctx context.Context, arg UpsertCommitFileStatsParams) error {
	_, err := q.db.Exec(ctx, upsertCommitFileStats, arg.CommitID, arg.Path, arg.LinesAdded, arg.LinesDeleted)
	return err
}

const getCommitFile = `-- name: GetCommitFile :one
SELECT ` + commitFileColumns + ` FROM commit_files WHERE commit_id = $1 AND path = $2
`

type GetCommitFileParams struct {
	CommitID int64  `json:"commit_id"`
	Path     string `json:"path"`
}

func (q *Queries) GetCommitFile(ctx context.Context, arg GetCommitFileParams) (CommitFile, error) {
	return scanCommitFile(q.db.QueryRow(ctx, getCommitFile, arg.CommitID, arg.Path))
}

const listCommitFilesByCommitIDs = `-- name: ListCommitFilesByCommitIDs :many
SELECT ` + commitFileColumns + ` FROM commit_files
WHERE commit_id = ANY($1::bigint[])
ORDER BY commit_id, path
`

func (q *Queries) ListCommitFilesByCommitIDs(ctx context.Context, commitIds []int64) ([]CommitFile, error) {
	rows, err := q.db.Query(ctx, listCommitFilesByCommitIDs, commitIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CommitFile
	for rows.Next() {
		i, err := scanCommitFile(rows)
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

const updateCommitFileDiff = `-- name: UpdateCommitFileDiff :exec
UPDATE commit_files
SET diff = $2, diff_parent_id = $3, diff_state = $4
WHERE id = $1
`

type UpdateCommitFileDiffParams struct {
	ID           int64       `json:"id"`
	Diff         pgtype.Text `json:"diff"`
	DiffParentID pgtype.Int8 `json:"diff_parent_id"`
	DiffState    string      `json:"diff_state"`
}

func (q *Queries) UpdateCommitFileDiff(ctx context.Context, arg UpdateCommitFileDiffParams) error {
	_, err := q.db.Exec(ctx, updateCommitFileDiff, arg.ID, arg.Diff, arg.DiffParentID, arg.DiffState)
	return err
}

const updateCommitFileContent = `-- name: UpdateCommitFileContent :exec
UPDATE commit_files SET content = $2 WHERE id = $1
`

type UpdateCommitFileContentParams struct {
	ID      int64       `json:"id"`
	Content pgtype.Text `json:"content"`
}

func (q *Queries) UpdateCommitFileContent(ctx context.Context, arg UpdateCommitFileContentParams) error {
	_, err := q.db.Exec(ctx, updateCommitFileContent, arg.ID, arg.Content)
	return err
}

const listFileContributions = `-- name: ListFileContributions :many
SELECT cf.path,
       u.login                          AS author_login,
       SUM(cf.lines_added)::bigint   AS lines_added,
       SUM(cf.lines_deleted)::bigint AS lines_deleted
FROM commit_files cf
JOIN commits c ON c.id = cf.commit_id
JOIN users u ON u.id = c.author_id
WHERE c.repository_id = $1
  AND ($2::bigint IS NULL OR EXISTS (
        SELECT 1 FROM commit_branches cb WHERE cb.commit_id = c.id AND cb.branch_id = $2))
  AND ($3::timestamptz IS NULL OR c.committed_at >= $3)
  AND ($4::timestamptz IS NULL OR c.committed_at <= $4)
GROUP BY cf.path, u.login
ORDER BY cf.path, u.login
`

type ListFileContributionsParams struct {
	RepositoryID int64              `json:"repository_id"`
	BranchID     pgtype.Int8        `json:"branch_id"`
	Since        pgtype.Timestamptz `json:"since"`
	Until        pgtype.Timestamptz `json:"until"`
}

type ListFileContributionsRow struct {
	Path         string `json:"path"`
	AuthorLogin  string `json:"author_login"`
	LinesAdded   int64  `json:"lines_added"`
	LinesDeleted int64  `json:"lines_deleted"`
}

// ListFileContributions sums line changes per (path, author) inside the filter.
func (q *Queries) ListFileContributions(ctx context.Context, arg ListFileContributionsParams) ([]ListFileContributionsRow, error) {
	rows, err := q.db.Query(ctx, listFileContributions, arg.RepositoryID, arg.BranchID, arg.Since, arg.Until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListFileContributionsRow
	for rows.Next() {
		var i ListFileContributionsRow
		if err := rows.Scan(&i.Path, &i.AuthorLogin, &i.LinesAdded, &i.LinesDeleted); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
