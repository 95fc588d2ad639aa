// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "repo-insights/internal/errors"
)

// Store is a Querier that can also run a function inside one transaction.
type Store interface {
	Querier
	// InTx runs fn in a transaction. It commits when fn returns nil and rolls
	// back otherwise.
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// PgStore is the Postgres-backed Store.
type PgStore struct {
	*Queries
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{Queries: New(pool), pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	if err := fn(s.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsNotFound reports whether err is the no-rows error of a :one query.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// FindRepository loads a repository by its canonical URL, reporting a missing
// row as a NotFoundError.
func FindRepository(ctx context.Context, q Querier, url string) (Repository, error) {
	repo, err := q.GetRepositoryByURL(ctx, url)
	if IsNotFound(err) {
		return Repository{}, &custom_errors.NotFoundError{Entity: "repository", Key: url}
	}
	return repo, err
}

// Timestamptz converts an optional bound into a query parameter; the zero time is NULL.
func Timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// Text converts a string into a nullable text parameter; "" is NULL.
func Text(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// Int8 converts an id into a nullable bigint parameter; 0 is NULL.
func Int8(id int64) pgtype.Int8 {
	if id == 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}
