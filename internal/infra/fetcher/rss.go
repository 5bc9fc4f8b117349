// Package fetcher retrieves RSS/Atom feeds and maps them into feed records.
// It uses the gofeed library with circuit breaker and retry logic.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/resilience/circuitbreaker"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/resilience/retry"
)

const userAgent = "feed-processor/1.0"

// RSSFetcher fetches and parses RSS/Atom feeds into entity.Feed records.
// Safe for concurrent use across sources.
type RSSFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewRSSFetcher creates a fetcher with circuit breaker and retry logic
// already configured for feed endpoints.
func NewRSSFetcher(client *http.Client) *RSSFetcher {
	return &RSSFetcher{
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
	}
}

// Fetch retrieves one feed URL and returns its entries as feed records.
// Transient failures are retried with backoff; sustained failures open the
// circuit and reject requests until the endpoint recovers.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) ([]*entity.Feed, error) {
	var feeds []*entity.Feed

	retryErr := retry.WithBackoff(ctx, f.retryConfig, func() error {
		cbResult, err := f.circuitBreaker.Execute(func() (interface{}, error) {
			return f.doFetch(ctx, feedURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("feed fetch circuit breaker open, request rejected",
					slog.String("url", feedURL),
					slog.String("state", f.circuitBreaker.State().String()))
			}
			return err
		}

		feeds = cbResult.([]*entity.Feed)
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return feeds, nil
}

// doFetch performs the actual fetch and mapping without retry or breaker.
func (f *RSSFetcher) doFetch(ctx context.Context, feedURL string) ([]*entity.Feed, error) {
	fp := gofeed.NewParser()
	fp.UserAgent = userAgent
	fp.Client = f.client

	parsed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		// Map gofeed's status errors so the retry policy can classify them.
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &retry.HTTPError{StatusCode: httpErr.StatusCode, Message: httpErr.Status}
		}
		return nil, err
	}

	feeds := make([]*entity.Feed, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		feed := mapItem(item)
		if feed == nil {
			continue
		}
		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// mapItem converts one feed item into a record. Items without a link have no
// stable identity and are dropped.
func mapItem(item *gofeed.Item) *entity.Feed {
	if item.Link == "" {
		return nil
	}

	pubDate := time.Now().UTC()
	if item.PublishedParsed != nil {
		pubDate = item.PublishedParsed.UTC()
	}

	description := item.Content
	if description == "" {
		description = item.Description
	}

	var author string
	if len(item.Authors) > 0 {
		author = item.Authors[0].Name
	}

	return &entity.Feed{
		ID:          item.Link,
		Title:       item.Title,
		Description: description,
		Link:        item.Link,
		PubDate:     pubDate,
		Author:      author,
		Tags:        item.Categories,
	}
}
