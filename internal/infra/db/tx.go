package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// IsolationLevel selects the SQLite transaction mode.
type IsolationLevel int

const (
	// LevelDefault uses the engine default (same as DEFERRED in SQLite).
	LevelDefault IsolationLevel = iota
	// LevelDeferred defers lock acquisition until the first read or write.
	LevelDeferred
	// LevelImmediate takes a reserved write lock at BEGIN.
	LevelImmediate
	// LevelExclusive takes an exclusive lock at BEGIN.
	LevelExclusive
)

// String returns the isolation level name as used in BEGIN statements.
func (l IsolationLevel) String() string {
	switch l {
	case LevelDeferred:
		return "DEFERRED"
	case LevelImmediate:
		return "IMMEDIATE"
	case LevelExclusive:
		return "EXCLUSIVE"
	default:
		return "DEFAULT"
	}
}

func (l IsolationLevel) beginStatement() string {
	switch l {
	case LevelDeferred:
		return "BEGIN DEFERRED"
	case LevelImmediate:
		return "BEGIN IMMEDIATE"
	case LevelExclusive:
		return "BEGIN EXCLUSIVE"
	default:
		return "BEGIN"
	}
}

// Tx is a transaction scoped to one pooled connection. It is valid only
// inside the WithTransaction callback and must not escape it.
type Tx struct {
	conn *PooledConn
}

// ExecContext executes a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// WithTransaction acquires a connection from the pool, begins a transaction at
// the requested isolation level, and runs fn. A nil return commits; an error
// or panic rolls back. The connection is released back to the pool in a
// reusable state on every exit path.
//
// Pool errors (ErrPoolExhausted, ErrPoolClosed) propagate to the caller
// before fn runs.
func WithTransaction(ctx context.Context, pool *Pool, level IsolationLevel, fn func(*Tx) error) (err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.ExecContext(ctx, level.beginStatement()); err != nil {
		return fmt.Errorf("begin %s transaction: %w", level, err)
	}

	tx := &Tx{conn: conn}

	defer func() {
		if p := recover(); p != nil {
			rollback(conn)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollback(conn)
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback(conn)
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// rollback aborts the open transaction on its own deadline so a canceled
// caller context cannot leave the connection dirty.
func rollback(conn *PooledConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		slog.Error("transaction rollback failed", slog.Any("error", err))
	}
}
