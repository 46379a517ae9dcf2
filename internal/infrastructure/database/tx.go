package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is what repositories depend on. *pgxpool.Pool satisfies it.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// WithTx stores tx in ctx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction stored in ctx.
func TxFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the transaction in ctx, or pool when there is none.
func Conn(ctx context.Context, pool Pool) Querier {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return pool
}

// RunInTx runs fn inside a transaction. When ctx already carries one, fn joins
// it and the outer owner commits. The transaction is rolled back if fn fails
// or panics.
func RunInTx(ctx context.Context, pool Pool, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxManager exposes RunInTx to the application layer.
type TxManager struct {
	pool Pool
	log  *slog.Logger
}

func NewTxManager(pool Pool, log *slog.Logger) *TxManager {
	return &TxManager{pool: pool, log: log}
}

// WithTx runs fn in one transaction shared by every repository that receives
// the ctx passed to fn.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := RunInTx(ctx, m.pool, fn)
	if err != nil && m.log != nil {
		m.log.Debug("Transaction rolled back", "error", err)
	}
	return err
}
