package repository

import (
	"context"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
)

// FeedRepository is the storage facade over the feed store.
//
// AddFeed reports internal SQL failures as (false, nil) after logging them;
// pool and transaction errors (db.ErrPoolExhausted, db.ErrPoolClosed) are
// typed and propagate so integration code can react to them.
type FeedRepository interface {
	// AddFeed upserts a feed row keyed by its id and upserts each tag and
	// feed/tag association. Re-adding a feed never duplicates rows and
	// never removes existing associations.
	AddFeed(ctx context.Context, feed *entity.Feed) (bool, error)

	// ListFeeds returns feeds ordered by pub_date descending, each with its
	// aggregated tag names. limit <= 0 means no limit; offset < 0 is
	// treated as 0.
	ListFeeds(ctx context.Context, limit, offset int) ([]*entity.Feed, error)

	// GetFeed returns one feed with its tags, or (nil, nil) when absent.
	GetFeed(ctx context.Context, id string) (*entity.Feed, error)
}
