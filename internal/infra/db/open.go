// Package db provides SQLite access for the feed store: opening the database,
// schema management, a bounded connection pool, and scoped transactions.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver registration.
)

// PoolConfig holds the connection pool configuration.
type PoolConfig struct {
	// MinConnections is the number of warm connections opened eagerly.
	MinConnections int

	// MaxConnections is the hard upper bound on live connections.
	MaxConnections int

	// AcquireTimeout bounds how long Acquire waits for a free connection
	// before failing with ErrPoolExhausted.
	AcquireTimeout time.Duration
}

// DefaultPoolConfig returns the default connection pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections: 2,
		MaxConnections: 10,
		AcquireTimeout: 5 * time.Second,
	}
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the pragmas the store relies on. The stdlib pool is configured to the same
// ceiling as the explicit Pool so the two never disagree about connection
// counts.
func Open(path string, cfg PoolConfig) (*sql.DB, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxConnections)
	database.SetMaxIdleConns(cfg.MaxConnections)
	database.SetConnMaxLifetime(0)

	// WAL lets concurrent readers proceed during a write transaction.
	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := database.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("sqlite database opened",
		slog.String("path", path),
		slog.Int("min_connections", cfg.MinConnections),
		slog.Int("max_connections", cfg.MaxConnections),
		slog.Duration("acquire_timeout", cfg.AcquireTimeout))

	return database, nil
}

// PoolConfigFromEnv reads connection pool configuration from environment
// variables, falling back to defaults for unset or invalid values.
func PoolConfigFromEnv() PoolConfig {
	cfg := DefaultPoolConfig()

	if minConns := os.Getenv("DB_MIN_CONNECTIONS"); minConns != "" {
		if val, err := strconv.Atoi(minConns); err == nil && val >= 0 {
			cfg.MinConnections = val
		}
	}

	if maxConns := os.Getenv("DB_MAX_CONNECTIONS"); maxConns != "" {
		if val, err := strconv.Atoi(maxConns); err == nil && val > 0 {
			cfg.MaxConnections = val
		}
	}

	if timeout := os.Getenv("DB_ACQUIRE_TIMEOUT"); timeout != "" {
		if val, err := time.ParseDuration(timeout); err == nil && val > 0 {
			cfg.AcquireTimeout = val
		}
	}

	if cfg.MinConnections > cfg.MaxConnections {
		cfg.MinConnections = cfg.MaxConnections
	}

	return cfg
}
