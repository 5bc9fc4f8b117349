package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/webhook"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
)

type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string][]*entity.Feed
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]*entity.Feed, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.feeds[url], nil
}

type fakeRepo struct {
	mu      sync.Mutex
	stored  []*entity.Feed
	failIDs map[string]bool
	err     error
}

func (r *fakeRepo) AddFeed(_ context.Context, feed *entity.Feed) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return false, r.err
	}
	if r.failIDs[feed.ID] {
		return false, nil
	}
	r.stored = append(r.stored, feed)
	return true, nil
}

func (r *fakeRepo) ListFeeds(_ context.Context, _, _ int) ([]*entity.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stored, nil
}

func (r *fakeRepo) GetFeed(_ context.Context, id string) (*entity.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, feed := range r.stored {
		if feed.ID == id {
			return feed, nil
		}
	}
	return nil, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	batches  [][]webhook.Payload
	respond  func(payloads []webhook.Payload) []webhook.Response
	blockFor time.Duration
}

func (d *fakeDispatcher) BatchSend(_ context.Context, payloads []webhook.Payload) []webhook.Response {
	if d.blockFor > 0 {
		time.Sleep(d.blockFor)
	}

	d.mu.Lock()
	d.batches = append(d.batches, payloads)
	d.mu.Unlock()

	if d.respond != nil {
		return d.respond(payloads)
	}

	if len(payloads) == 0 {
		return nil
	}
	return []webhook.Response{{State: webhook.StateSuccess, Success: true, StatusCode: 200}}
}

func makeFeeds(prefix string, n int) []*entity.Feed {
	feeds := make([]*entity.Feed, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		feeds = append(feeds, &entity.Feed{
			ID:      id,
			Title:   "Title " + id,
			Link:    "https://example.com/" + id,
			PubDate: time.Now().UTC(),
		})
	}
	return feeds
}

func TestService_RunOnce_HappyPath(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
		"https://a.example.com/rss": makeFeeds("a", 3),
		"https://b.example.com/rss": makeFeeds("b", 2),
	}}
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources: []string{"https://a.example.com/rss", "https://b.example.com/rss"},
	})

	stats, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, int64(5), stats.Fetched)
	assert.Equal(t, int64(5), stats.Stored)
	assert.Equal(t, int64(5), stats.Enqueued)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, int64(1), stats.Delivered)

	assert.Len(t, repo.stored, 5)
	require.Len(t, dispatcher.batches, 1)
	assert.Len(t, dispatcher.batches[0], 5)
}

func TestService_RunOnce_FetchFailureSkipsSource(t *testing.T) {
	fetcher := &fakeFetcher{
		feeds: map[string][]*entity.Feed{
			"https://ok.example.com/rss": makeFeeds("ok", 2),
		},
		errs: map[string]error{
			"https://bad.example.com/rss": errors.New("connection refused"),
		},
	}
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources: []string{"https://bad.example.com/rss", "https://ok.example.com/rss"},
	})

	stats, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Fetched)
	assert.Equal(t, int64(2), stats.Stored)
	assert.Len(t, repo.stored, 2)
}

func TestService_RunOnce_StoreFailureNotDelivered(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
		"https://a.example.com/rss": makeFeeds("a", 3),
	}}
	repo := &fakeRepo{failIDs: map[string]bool{"a-1": true}}
	dispatcher := &fakeDispatcher{}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources: []string{"https://a.example.com/rss"},
	})

	stats, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Stored)
	assert.Equal(t, int64(1), stats.StoreFailed)
	assert.Equal(t, int64(2), stats.Enqueued)

	require.Len(t, dispatcher.batches, 1)
	assert.Len(t, dispatcher.batches[0], 2)
}

func TestService_RunOnce_FeedProcessedLabels(t *testing.T) {
	storedBefore := testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("stored"))
	failedBefore := testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("store_failed"))
	invalidBefore := testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("invalid"))

	fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
		"https://a.example.com/rss": makeFeeds("a", 3),
	}}
	repo := &fakeRepo{failIDs: map[string]bool{"a-1": true}}
	dispatcher := &fakeDispatcher{}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources: []string{"https://a.example.com/rss"},
	})
	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storedBefore+2, testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("stored")))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("store_failed")))

	// A validation failure counts as invalid, not store_failed.
	rejectingRepo := &fakeRepo{err: &entity.ValidationError{Field: "title", Message: "feed title is required"}}
	svc = NewService(rejectingRepo, fetcher, dispatcher, Config{
		Sources: []string{"https://a.example.com/rss"},
	})
	_, err = svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, invalidBefore+3, testutil.ToFloat64(metrics.FeedsProcessedTotal.WithLabelValues("invalid")))
}

func TestService_RunOnce_QueueOverflowDropsDeliveries(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
		"https://a.example.com/rss": makeFeeds("a", 5),
	}}
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources:       []string{"https://a.example.com/rss"},
		QueueCapacity: 2,
	})

	stats, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	// Every record is stored; only what fits in the queue is delivered.
	assert.Equal(t, int64(5), stats.Stored)
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, int64(3), stats.Dropped)

	require.Len(t, dispatcher.batches, 1)
	assert.Len(t, dispatcher.batches[0], 2)
}

func TestService_RunOnce_DeliveryFailureCounted(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
		"https://a.example.com/rss": makeFeeds("a", 2),
	}}
	repo := &fakeRepo{}
	dispatcher := &fakeDispatcher{
		respond: func(_ []webhook.Payload) []webhook.Response {
			return []webhook.Response{{State: webhook.StateExhausted, StatusCode: 500}}
		},
	}

	svc := NewService(repo, fetcher, dispatcher, Config{
		Sources: []string{"https://a.example.com/rss"},
	})

	stats, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.Delivered)
	assert.Equal(t, int64(1), stats.DeliveryFailed)
}

func TestService_Shutdown(t *testing.T) {
	t.Run("returns immediately with no in-flight runs", func(t *testing.T) {
		svc := NewService(&fakeRepo{}, &fakeFetcher{}, &fakeDispatcher{}, Config{})
		require.NoError(t, svc.Shutdown(context.Background()))
	})

	t.Run("waits for an in-flight run", func(t *testing.T) {
		fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
			"https://a.example.com/rss": makeFeeds("a", 1),
		}}
		dispatcher := &fakeDispatcher{blockFor: 100 * time.Millisecond}

		svc := NewService(&fakeRepo{}, fetcher, dispatcher, Config{
			Sources: []string{"https://a.example.com/rss"},
		})

		done := make(chan struct{})
		go func() {
			_, _ = svc.RunOnce(context.Background())
			close(done)
		}()

		time.Sleep(20 * time.Millisecond) // let the run reach the dispatcher

		started := time.Now()
		require.NoError(t, svc.Shutdown(context.Background()))
		if waited := time.Since(started); waited < 40*time.Millisecond {
			t.Errorf("shutdown returned after %v, expected it to wait for the run", waited)
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("run never finished")
		}
	})

	t.Run("honors the shutdown deadline", func(t *testing.T) {
		fetcher := &fakeFetcher{feeds: map[string][]*entity.Feed{
			"https://a.example.com/rss": makeFeeds("a", 1),
		}}
		dispatcher := &fakeDispatcher{blockFor: 300 * time.Millisecond}

		svc := NewService(&fakeRepo{}, fetcher, dispatcher, Config{
			Sources: []string{"https://a.example.com/rss"},
		})

		go func() { _, _ = svc.RunOnce(context.Background()) }()
		time.Sleep(20 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := svc.Shutdown(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBuildPayload(t *testing.T) {
	pubDate := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	feed := &entity.Feed{
		ID:          "feed-1",
		Title:       "A Title",
		Description: "A Description",
		Link:        "https://example.com/feed-1",
		PubDate:     pubDate,
		Author:      "author",
		Tags:        []string{"go"},
	}

	payload := buildPayload(feed)

	assert.Equal(t, "feed", payload["type"])
	assert.Equal(t, "A Title", payload["title"])
	assert.Equal(t, "https://example.com/feed-1", payload["link"])
	assert.Equal(t, "A Description", payload["description"])
	assert.Equal(t, "author", payload["author"])
	assert.Equal(t, "2026-03-15T10:30:00Z", payload["pub_date"])
	assert.Equal(t, []string{"go"}, payload["tags"])

	minimal := buildPayload(&entity.Feed{ID: "x", Title: "t", Link: "l"})
	assert.NotContains(t, minimal, "description")
	assert.NotContains(t, minimal, "pub_date")
	assert.NotContains(t, minimal, "tags")
}
