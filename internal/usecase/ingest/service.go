// Package ingest orchestrates the feed pipeline: fetch configured sources,
// persist records through the storage facade, and deliver them to the
// webhook endpoint in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/webhook"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/repository"
)

// Fetcher retrieves feed records from one source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]*entity.Feed, error)
}

// Dispatcher delivers payloads to the webhook endpoint.
type Dispatcher interface {
	BatchSend(ctx context.Context, payloads []webhook.Payload) []webhook.Response
}

// Config controls pipeline behavior for one service instance.
type Config struct {
	// Sources are the feed URLs fetched on every run.
	Sources []string

	// FetchParallelism bounds concurrent source fetches.
	FetchParallelism int

	// QueueCapacity bounds the dispatch queue. Records that arrive while
	// the queue is full are stored but not delivered, and counted as
	// overflow.
	QueueCapacity int
}

const (
	defaultFetchParallelism = 4
	defaultQueueCapacity    = 256
)

// Stats summarizes one pipeline run.
type Stats struct {
	Sources        int
	Fetched        int64
	Stored         int64
	StoreFailed    int64
	Enqueued       int64
	Dropped        int64
	Delivered      int64
	DeliveryFailed int64
	Duration       time.Duration
}

// Service wires the fetcher, the storage facade, and the dispatcher into one
// pipeline. Safe for concurrent runs, though the worker schedules them
// serially.
type Service struct {
	repo       repository.FeedRepository
	fetcher    Fetcher
	dispatcher Dispatcher
	cfg        Config

	inflight sync.WaitGroup
}

// NewService creates a pipeline service. Zero config fields fall back to
// defaults.
func NewService(repo repository.FeedRepository, fetcher Fetcher, dispatcher Dispatcher, cfg Config) *Service {
	if cfg.FetchParallelism <= 0 {
		cfg.FetchParallelism = defaultFetchParallelism
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}

	return &Service{
		repo:       repo,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// RunOnce executes one full pipeline pass: fetch all sources with bounded
// parallelism, store each record, enqueue stored records for delivery, then
// drain the queue with batched webhook sends.
//
// Per-source fetch failures are logged and skipped; storage failures are
// counted and skipped so one bad record never aborts the run.
func (s *Service) RunOnce(ctx context.Context) (*Stats, error) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	logger := slog.Default()
	start := time.Now()
	stats := &Stats{Sources: len(s.cfg.Sources)}

	queue := make(chan webhook.Payload, s.cfg.QueueCapacity)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.FetchParallelism)

	for _, source := range s.cfg.Sources {
		group.Go(func() error {
			s.processSource(groupCtx, source, queue, stats)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return stats, fmt.Errorf("fetch sources: %w", err)
	}
	close(queue)
	metrics.UpdateQueueSize(len(queue))

	payloads := make([]webhook.Payload, 0, len(queue))
	for payload := range queue {
		payloads = append(payloads, payload)
	}

	for _, resp := range s.dispatcher.BatchSend(ctx, payloads) {
		if resp.Success {
			stats.Delivered++
		} else {
			stats.DeliveryFailed++
			logger.Warn("webhook batch delivery failed",
				slog.String("state", string(resp.State)),
				slog.Int("status", resp.StatusCode),
				slog.String("error", resp.ErrorMessage))
		}
	}
	metrics.UpdateQueueSize(0)

	stats.Duration = time.Since(start)
	logger.Info("pipeline run completed",
		slog.Int("sources", stats.Sources),
		slog.Int64("fetched", stats.Fetched),
		slog.Int64("stored", stats.Stored),
		slog.Int64("store_failed", stats.StoreFailed),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("delivered", stats.Delivered),
		slog.Int64("delivery_failed", stats.DeliveryFailed),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

// processSource fetches one source and stores its records, enqueueing each
// stored record for delivery.
func (s *Service) processSource(ctx context.Context, source string, queue chan<- webhook.Payload, stats *Stats) {
	logger := slog.Default()

	feeds, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		logger.Warn("failed to fetch source",
			slog.String("source", source),
			slog.Any("error", err))
		return
	}

	atomic.AddInt64(&stats.Fetched, int64(len(feeds)))

	for _, feed := range feeds {
		feedStart := time.Now()

		ok, err := s.repo.AddFeed(ctx, feed)
		if err != nil || !ok {
			atomic.AddInt64(&stats.StoreFailed, 1)
			metrics.RecordFeedProcessed(storeResult(err), time.Since(feedStart))
			if err != nil {
				logger.Warn("failed to store feed",
					slog.String("feed_id", feed.ID),
					slog.Any("error", err))
			}
			continue
		}

		atomic.AddInt64(&stats.Stored, 1)
		metrics.RecordFeedProcessed("stored", time.Since(feedStart))

		select {
		case queue <- buildPayload(feed):
			atomic.AddInt64(&stats.Enqueued, 1)
			metrics.UpdateQueueSize(len(queue))
		default:
			atomic.AddInt64(&stats.Dropped, 1)
			metrics.RecordQueueOverflow()
			logger.Warn("dispatch queue full, dropping delivery",
				slog.String("feed_id", feed.ID))
		}
	}
}

// storeResult maps a failed AddFeed outcome onto the feeds_processed_total
// label vocabulary.
func storeResult(err error) string {
	var vErr *entity.ValidationError
	if errors.As(err, &vErr) {
		return "invalid"
	}
	return "store_failed"
}

// Shutdown waits for in-flight runs to finish or the context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// buildPayload maps a stored record onto the webhook wire shape.
func buildPayload(feed *entity.Feed) webhook.Payload {
	payload := webhook.Payload{
		"type":  "feed",
		"title": feed.Title,
		"link":  feed.Link,
	}
	if feed.Description != "" {
		payload["description"] = feed.Description
	}
	if feed.Author != "" {
		payload["author"] = feed.Author
	}
	if !feed.PubDate.IsZero() {
		payload["pub_date"] = feed.PubDate.UTC().Format(time.RFC3339)
	}
	if len(feed.Tags) > 0 {
		payload["tags"] = feed.Tags
	}
	return payload
}
