package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sync"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
)

// Sentinel errors for pool operations.
var (
	// ErrPoolExhausted indicates no connection became free within the
	// acquisition timeout while the pool was at its maximum size.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)

// Pool is a bounded pool of SQLite connections. It maintains MinConnections
// warm connections, grows lazily up to MaxConnections, and never exceeds the
// maximum. A connection handle returned by Acquire is exclusively owned by
// the caller until released; a connection at rest in the free list is owned
// by the pool.
//
// The free list and live count are the only shared mutable state, guarded by
// a single mutex plus a buffered channel used as the free list.
type Pool struct {
	db  *sql.DB
	cfg PoolConfig

	mu     sync.Mutex
	live   int
	closed bool

	free chan *PooledConn
}

// PooledConn is an exclusively-owned handle on one pool connection.
// No two goroutines may issue commands on the same handle concurrently.
type PooledConn struct {
	conn *sql.Conn
	pool *Pool
	held bool // guarded by pool.mu
}

// NewPool creates a connection pool over the given database handle and warms
// MinConnections eagerly. The database's own pool must be sized at least as
// large as cfg.MaxConnections (see Open).
func NewPool(database *sql.DB, cfg PoolConfig) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("max_connections must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MinConnections < 0 || cfg.MinConnections > cfg.MaxConnections {
		return nil, fmt.Errorf("min_connections %d out of range [0, %d]", cfg.MinConnections, cfg.MaxConnections)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultPoolConfig().AcquireTimeout
	}

	p := &Pool{
		db:   database,
		cfg:  cfg,
		free: make(chan *PooledConn, cfg.MaxConnections),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < cfg.MinConnections; i++ {
		pc, err := p.openConn(ctx)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("warm pool connection %d: %w", i, err)
		}
		p.mu.Lock()
		p.live++
		pc.held = false
		p.mu.Unlock()
		p.free <- pc
	}

	p.publishStats()
	return p, nil
}

// Acquire returns an exclusively-owned connection handle. It prefers an idle
// connection over opening a new one, grows the pool while below the maximum,
// and otherwise blocks up to AcquireTimeout for a release. A timeout yields
// ErrPoolExhausted; context cancellation yields the context error.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	// Reuse over creation: take an idle connection when one exists.
	select {
	case pc := <-p.free:
		p.markHeld(pc)
		return pc, nil
	default:
	}

	p.mu.Lock()
	if p.live < p.cfg.MaxConnections {
		p.live++
		p.mu.Unlock()

		pc, err := p.openConn(ctx)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			return nil, err
		}
		p.publishStats()
		return pc, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case pc := <-p.free:
		p.markHeld(pc)
		return pc, nil
	case <-timer.C:
		metrics.RecordPoolExhausted()
		return nil, fmt.Errorf("no connection available within %v: %w", p.cfg.AcquireTimeout, ErrPoolExhausted)
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
	}
}

// Release returns the handle to the pool's free list for reuse.
// Releasing twice is a no-op; releasing into a closed pool closes the
// underlying connection instead.
func (c *PooledConn) Release() {
	p := c.pool

	p.mu.Lock()
	if !c.held {
		p.mu.Unlock()
		return
	}
	c.held = false
	closed := p.closed
	if closed {
		p.live--
	}
	p.mu.Unlock()

	if closed {
		_ = c.conn.Close()
		return
	}

	p.free <- c
	p.publishStats()
}

// ExecContext executes a statement on the owned connection.
func (c *PooledConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the owned connection.
func (c *PooledConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the owned connection.
func (c *PooledConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Stats reports current pool occupancy: connections held by callers and
// connections idle in the free list.
func (p *Pool) Stats() (active, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle = len(p.free)
	active = p.live - idle
	return active, idle
}

// Close shuts the pool down. Idle connections are closed immediately; held
// connections are closed as their owners release them. Acquire fails with
// ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case pc := <-p.free:
			if err := pc.conn.Close(); err != nil {
				slog.Warn("close pooled connection", slog.Any("error", err))
			}
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
		default:
			return nil
		}
	}
}

func (p *Pool) openConn(ctx context.Context) (*PooledConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open pool connection: %w", err)
	}

	// Foreign keys are per-connection in SQLite.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &PooledConn{conn: conn, pool: p, held: true}, nil
}

func (p *Pool) markHeld(pc *PooledConn) {
	p.mu.Lock()
	pc.held = true
	p.mu.Unlock()
	p.publishStats()
}

func (p *Pool) publishStats() {
	active, idle := p.Stats()
	metrics.UpdatePoolStats(active, idle)
}
