package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries an open transaction through a request context so that
// repository calls participate in it.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTxContext returns a child context carrying tx.
func WithTxContext(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// InTx runs fn inside a transaction at the given isolation level, committing
// on nil and rolling back on error or panic. The transaction is placed in the
// context passed to fn, so repos using conn(ctx) are scoped to it.
func InTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTxContext(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxRunner abstracts InTx for services, so tests can substitute a
// passthrough that runs fn without a live database.
type TxRunner func(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error

// PoolTxRunner adapts a pool to a TxRunner.
func PoolTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
		return InTx(ctx, pool, iso, fn)
	}
}
