package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/badging/internal/apperr"
)

const (
	CodeStoreUnavailable = "store_unavailable"
	CodeTxConflict       = "serialization_failure"

	serializationFailure = "40001"
)

// beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store owns the pool and the transactions the badge and workflow adapters
// run in.
type Store struct {
	db      beginner
	Queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, Queries: New(pool)}
}

// WithTx runs fn in a transaction. Errors from fn come back as returned and
// roll the transaction back. Failures to begin or commit are classified:
// serialization failures are conflicts, everything else is transient.
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Unavailable(CodeStoreUnavailable, err)
	}
	if err := fn(s.Queries.WithTx(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return commitError(err)
	}
	return nil
}

func commitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return apperr.Wrap(apperr.Conflict, CodeTxConflict, err)
	}
	return apperr.Unavailable(CodeStoreUnavailable, err)
}
