// Package tx carries a SQL transaction through context so stores can join an
// ambient transaction without taking it as a parameter, and defines the
// Runner boundary services use to make multi-entity operations atomic.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner provides a transactional boundary for workflow operations. Either
// the whole fn applies or none of it does. Implementations may wrap a
// database transaction or, in-memory, a coarse lock.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs fn inside a database transaction injected into context.
type SQLRunner struct {
	db *sql.DB
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(WithTx(ctx, dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryRunner serializes transactions with a single mutex. In-memory stores
// apply writes directly, so the lock is what makes fn atomic with respect to
// other MemoryRunner transactions. Rollback of partial writes is not
// provided; callers validate before mutating.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
