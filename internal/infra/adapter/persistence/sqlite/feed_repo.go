// Package sqlite provides the SQLite implementation of the feed repository.
// All writes run inside pooled, scoped transactions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/db"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/repository"
)

// timeLayout is the canonical storage format for timestamps.
// Storing formatted strings keeps reads driver-independent.
const timeLayout = "2006-01-02T15:04:05Z"

// tagSeparator joins tag names in GROUP_CONCAT output. The unit separator
// cannot appear in a tag name, unlike a comma.
const tagSeparator = "\x1f"

// FeedRepo implements the FeedRepository interface using SQLite.
type FeedRepo struct {
	pool *db.Pool
}

// NewFeedRepo creates a new SQLite-backed feed repository.
func NewFeedRepo(pool *db.Pool) repository.FeedRepository {
	return &FeedRepo{pool: pool}
}

// AddFeed upserts the feed row keyed by id, then upserts each tag and its
// association, all inside one IMMEDIATE transaction. Associations are only
// ever added; re-adding a feed with fewer tags leaves prior associations
// intact.
//
// Internal SQL failures are logged and reported as (false, nil); pool and
// transaction errors propagate typed so callers can make their own retry
// decisions.
func (repo *FeedRepo) AddFeed(ctx context.Context, feed *entity.Feed) (bool, error) {
	if err := feed.Validate(); err != nil {
		return false, err
	}

	createdAt := feed.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	start := time.Now()
	err := db.WithTransaction(ctx, repo.pool, db.LevelImmediate, func(tx *db.Tx) error {
		const upsertFeed = `
INSERT INTO feeds (id, title, description, link, pub_date, author, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title       = excluded.title,
	description = excluded.description,
	link        = excluded.link,
	pub_date    = excluded.pub_date,
	author      = excluded.author
`
		_, err := tx.ExecContext(ctx, upsertFeed,
			feed.ID, feed.Title, feed.Description, feed.Link,
			feed.PubDate.UTC().Format(timeLayout), feed.Author,
			createdAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("AddFeed: upsert feed: %w", err)
		}

		for _, tag := range feed.Tags {
			if tag == "" {
				continue
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, tag); err != nil {
				return fmt.Errorf("AddFeed: upsert tag %q: %w", tag, err)
			}

			var tagID int64
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM tags WHERE name = ?`, tag).Scan(&tagID); err != nil {
				return fmt.Errorf("AddFeed: resolve tag %q: %w", tag, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO feed_tags (feed_id, tag_id) VALUES (?, ?)`,
				feed.ID, tagID); err != nil {
				return fmt.Errorf("AddFeed: associate tag %q: %w", tag, err)
			}
		}

		return nil
	})
	metrics.RecordDBQuery("add_feed", time.Since(start))

	if err != nil {
		if errors.Is(err, db.ErrPoolExhausted) || errors.Is(err, db.ErrPoolClosed) {
			return false, err
		}
		slog.Error("AddFeed failed",
			slog.String("feed_id", feed.ID),
			slog.Any("error", err))
		return false, nil
	}

	return true, nil
}

// ListFeeds retrieves feeds ordered by publish date (newest first) together
// with their aggregated tag names.
func (repo *FeedRepo) ListFeeds(ctx context.Context, limit, offset int) ([]*entity.Feed, error) {
	const query = `
SELECT f.id, f.title, f.description, f.link, f.pub_date, f.author, f.created_at,
       COALESCE(GROUP_CONCAT(t.name, char(31) ORDER BY t.name), '') AS tag_names
FROM feeds f
LEFT JOIN feed_tags ft ON ft.feed_id = f.id
LEFT JOIN tags t       ON t.id = ft.tag_id
GROUP BY f.id
ORDER BY f.pub_date DESC
LIMIT ? OFFSET ?
`
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	conn, err := repo.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListFeeds: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feeds := make([]*entity.Feed, 0, 50)
	for rows.Next() {
		feed, err := scanFeedRow(rows)
		if err != nil {
			return nil, fmt.Errorf("ListFeeds: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListFeeds: rows.Err: %w", err)
	}
	metrics.RecordDBQuery("list_feeds", time.Since(start))

	return feeds, nil
}

// GetFeed retrieves one feed with its tags, or (nil, nil) when no row exists.
func (repo *FeedRepo) GetFeed(ctx context.Context, id string) (*entity.Feed, error) {
	const query = `
SELECT f.id, f.title, f.description, f.link, f.pub_date, f.author, f.created_at,
       COALESCE(GROUP_CONCAT(t.name, char(31) ORDER BY t.name), '') AS tag_names
FROM feeds f
LEFT JOIN feed_tags ft ON ft.feed_id = f.id
LEFT JOIN tags t       ON t.id = ft.tag_id
WHERE f.id = ?
GROUP BY f.id
LIMIT 1
`
	conn, err := repo.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("GetFeed: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("GetFeed: rows.Err: %w", err)
		}
		return nil, nil
	}

	feed, err := scanFeedRow(rows)
	if err != nil {
		return nil, fmt.Errorf("GetFeed: %w", err)
	}
	metrics.RecordDBQuery("get_feed", time.Since(start))

	return feed, nil
}

func scanFeedRow(rows *sql.Rows) (*entity.Feed, error) {
	var (
		feed        entity.Feed
		description sql.NullString
		link        sql.NullString
		author      sql.NullString
		pubDate     sql.NullString
		createdAt   sql.NullString
		tagNames    string
	)

	if err := rows.Scan(&feed.ID, &feed.Title, &description, &link,
		&pubDate, &author, &createdAt, &tagNames); err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}

	feed.Description = description.String
	feed.Link = link.String
	feed.Author = author.String
	feed.PubDate = parseStoredTime(pubDate.String)
	feed.CreatedAt = parseStoredTime(createdAt.String)
	feed.Tags = splitTagNames(tagNames)

	return &feed, nil
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitTagNames(concatenated string) []string {
	if concatenated == "" {
		return []string{}
	}
	return strings.Split(concatenated, tagSeparator)
}
