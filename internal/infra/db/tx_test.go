package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countFeeds(t *testing.T, pool *Pool) int {
	t.Helper()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	var n int
	require.NoError(t, conn.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM feeds").Scan(&n))
	return n
}

func insertFeed(ctx context.Context, tx *Tx, id, title string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO feeds (id, title, link) VALUES (?, ?, ?)",
		id, title, "https://example.com/"+id)
	return err
}

func TestWithTransaction_Commit(t *testing.T) {
	pool := newTestPool(t, 1, 3, time.Second)
	ctx := context.Background()

	err := WithTransaction(ctx, pool, LevelImmediate, func(tx *Tx) error {
		return insertFeed(ctx, tx, "feed-1", "committed")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countFeeds(t, pool))
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	pool := newTestPool(t, 1, 3, time.Second)
	ctx := context.Background()

	failure := errors.New("mid-scope failure")
	err := WithTransaction(ctx, pool, LevelImmediate, func(tx *Tx) error {
		if err := insertFeed(ctx, tx, "feed-1", "doomed"); err != nil {
			return err
		}
		return failure
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, failure))

	// Nothing persisted, and the connection went back to the pool reusable.
	assert.Equal(t, 0, countFeeds(t, pool))

	err = WithTransaction(ctx, pool, LevelDeferred, func(tx *Tx) error {
		return insertFeed(ctx, tx, "feed-2", "survivor")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countFeeds(t, pool))
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	pool := newTestPool(t, 1, 3, time.Second)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = WithTransaction(ctx, pool, LevelImmediate, func(tx *Tx) error {
			if err := insertFeed(ctx, tx, "feed-1", "doomed"); err != nil {
				return err
			}
			panic("boom")
		})
	})

	assert.Equal(t, 0, countFeeds(t, pool))

	_, idle := pool.Stats()
	assert.Equal(t, 1, idle, "connection must return to the pool after a panic")
}

func TestWithTransaction_UncommittedInvisibleToReaders(t *testing.T) {
	pool := newTestPool(t, 0, 2, time.Second)
	ctx := context.Background()

	err := WithTransaction(ctx, pool, LevelImmediate, func(tx *Tx) error {
		if err := insertFeed(ctx, tx, "feed-1", "pending"); err != nil {
			return err
		}

		// A concurrent reader on its own connection must not see the
		// uncommitted row.
		reader, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer reader.Release()

		var n int
		if err := reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&n); err != nil {
			return err
		}
		assert.Equal(t, 0, n, "uncommitted write visible to concurrent reader")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countFeeds(t, pool))
}

func TestWithTransaction_PoolExhaustedPropagates(t *testing.T) {
	pool := newTestPool(t, 0, 1, 100*time.Millisecond)
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release()

	err = WithTransaction(ctx, pool, LevelDeferred, func(tx *Tx) error {
		t.Fatal("callback must not run when acquisition fails")
		return nil
	})

	assert.True(t, errors.Is(err, ErrPoolExhausted))
}

func TestIsolationLevel_String(t *testing.T) {
	tests := []struct {
		level IsolationLevel
		want  string
		begin string
	}{
		{LevelDefault, "DEFAULT", "BEGIN"},
		{LevelDeferred, "DEFERRED", "BEGIN DEFERRED"},
		{LevelImmediate, "IMMEDIATE", "BEGIN IMMEDIATE"},
		{LevelExclusive, "EXCLUSIVE", "BEGIN EXCLUSIVE"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
			assert.Equal(t, tt.begin, tt.level.beginStatement())
		})
	}
}
