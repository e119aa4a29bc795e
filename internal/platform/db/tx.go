package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxOptions for document transactions. Read committed is required here: a
// transaction waiting on another's row lock must see the winner's committed
// state once the lock is granted, so the status-guarded updates report a
// duplicate-decision conflict. A stricter snapshot level would instead abort
// the waiter with SQLSTATE 40001.
var TxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes a function within a transaction, committing on success and
// rolling back on error. Approval and obligation writes rely on explicit
// FOR UPDATE row locks to serialize concurrent attempts on the same document.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, TxOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
