package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations shared by pools and transactions.
// Repositories resolve their querier through QuerierFrom so work enlisted in
// a surrounding transaction joins it transparently.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

type hooksContextKey struct{}

type commitHooks struct {
	fns []func(ctx context.Context)
}

func (h *commitHooks) run(ctx context.Context) {
	for _, fn := range h.fns {
		fn(ctx)
	}
}

// WithTx executes fn within a repeatable-read transaction. The transaction is
// carried in the context handed to fn so nested repository calls share it
// instead of opening their own.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		// Already inside a transaction, join it.
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCtx, flush := CommitScope(context.WithValue(ctx, txContextKey{}, tx))
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	// Hooks run with the caller's context: the transaction is gone by now.
	flush(ctx)
	return nil
}

// CommitScope returns a derived context that buffers OnCommit callbacks and a
// flush function that runs them. WithTx wraps every top-level transaction in
// one; joined calls inherit the scope of the outermost transaction.
func CommitScope(ctx context.Context) (context.Context, func(ctx context.Context)) {
	hooks := &commitHooks{}
	return context.WithValue(ctx, hooksContextKey{}, hooks), hooks.run
}

// OnCommit defers fn until the surrounding transaction commits, so side
// effects such as event publication never fire for work that rolls back.
// Outside a transaction fn runs immediately.
func OnCommit(ctx context.Context, fn func(ctx context.Context)) {
	if hooks, ok := ctx.Value(hooksContextKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn(ctx)
}

// QuerierFrom returns the transaction bound to ctx when present, else the pool.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return pool
}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx
}
