package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
)

func validPayload() Payload {
	return Payload{
		"type":  "feed",
		"title": "Test Feed",
		"link":  "https://example.com/feed-1",
	}
}

// scriptedServer returns each status in sequence, then repeats the last one.
func scriptedServer(t *testing.T, calls *int32, statuses ...int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
	}))
}

func testDispatcher(t *testing.T, endpoint string, maxRetries int) *Dispatcher {
	t.Helper()
	cfg, err := NewConfig(endpoint, "test-token", maxRetries,
		WithRetryDelay(10*time.Millisecond),
		WithTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	return NewDispatcher(cfg, time.Millisecond)
}

func TestDispatcher_Send_Validation(t *testing.T) {
	t.Run("TC-1: should reject payload missing link without any HTTP call", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusOK)
		defer server.Close()

		d := testDispatcher(t, server.URL, 2)
		payload := validPayload()
		delete(payload, "link")

		resp := d.Send(context.Background(), payload)

		if resp.State != StateInvalidPayload {
			t.Errorf("expected state=%s, got %s", StateInvalidPayload, resp.State)
		}
		if resp.Success {
			t.Error("expected success=false")
		}
		if got := atomic.LoadInt32(&calls); got != 0 {
			t.Errorf("expected 0 HTTP calls, got %d", got)
		}
	})

	t.Run("TC-2: should reject empty required field", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusOK)
		defer server.Close()

		d := testDispatcher(t, server.URL, 0)
		payload := validPayload()
		payload["title"] = ""

		resp := d.Send(context.Background(), payload)

		if resp.State != StateInvalidPayload {
			t.Errorf("expected state=%s, got %s", StateInvalidPayload, resp.State)
		}
		if got := atomic.LoadInt32(&calls); got != 0 {
			t.Errorf("expected 0 HTTP calls, got %d", got)
		}
	})
}

func TestDispatcher_Send_RetryBehavior(t *testing.T) {
	t.Run("TC-1: should succeed after two 500s with retry_count=2", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
		defer server.Close()

		d := testDispatcher(t, server.URL, 2)
		resp := d.Send(context.Background(), validPayload())

		if !resp.Success || resp.State != StateSuccess {
			t.Fatalf("expected success, got state=%s error=%q", resp.State, resp.ErrorMessage)
		}
		if resp.RetryCount != 2 {
			t.Errorf("expected retry_count=2, got %d", resp.RetryCount)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected 3 HTTP calls, got %d", got)
		}
	})

	t.Run("TC-2: should exhaust after three 500s with retry_count=2", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusInternalServerError)
		defer server.Close()

		d := testDispatcher(t, server.URL, 2)
		resp := d.Send(context.Background(), validPayload())

		if resp.Success {
			t.Error("expected success=false")
		}
		if resp.State != StateExhausted {
			t.Errorf("expected state=%s, got %s", StateExhausted, resp.State)
		}
		if resp.RetryCount != 2 {
			t.Errorf("expected retry_count=2, got %d", resp.RetryCount)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected status=500, got %d", resp.StatusCode)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected 3 HTTP calls (no further attempts), got %d", got)
		}
	})

	t.Run("TC-3: should not retry when max_retries=0", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusInternalServerError)
		defer server.Close()

		d := testDispatcher(t, server.URL, 0)
		resp := d.Send(context.Background(), validPayload())

		if resp.State != StateExhausted {
			t.Errorf("expected state=%s, got %s", StateExhausted, resp.State)
		}
		if resp.RetryCount != 0 {
			t.Errorf("expected retry_count=0, got %d", resp.RetryCount)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("expected 1 HTTP call, got %d", got)
		}
	})

	t.Run("TC-4: should retry transport errors then report exhausted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // every attempt is a connection error

		d := testDispatcher(t, server.URL, 1)
		resp := d.Send(context.Background(), validPayload())

		if resp.State != StateExhausted {
			t.Errorf("expected state=%s, got %s", StateExhausted, resp.State)
		}
		if resp.StatusCode != 0 {
			t.Errorf("expected no status code, got %d", resp.StatusCode)
		}
		if resp.ErrorMessage == "" {
			t.Error("expected transport error message")
		}
	})
}

func TestDispatcher_Send_RetryMetrics(t *testing.T) {
	t.Run("TC-1: should count each retry exactly once", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
		defer server.Close()

		d := testDispatcher(t, server.URL, 2)
		before := testutil.ToFloat64(metrics.WebhookRetriesTotal)

		resp := d.Send(context.Background(), validPayload())
		if !resp.Success {
			t.Fatalf("expected success, got state=%s error=%q", resp.State, resp.ErrorMessage)
		}

		if delta := testutil.ToFloat64(metrics.WebhookRetriesTotal) - before; delta != 2 {
			t.Errorf("expected retries counter delta=2 for 2 retries, got %v", delta)
		}
	})

	t.Run("TC-2: should clear the rate limit delay gauge on success", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusOK)
		defer server.Close()

		metrics.SetRateLimitDelay(5 * time.Second)
		d := testDispatcher(t, server.URL, 0)

		resp := d.Send(context.Background(), validPayload())
		if !resp.Success {
			t.Fatalf("expected success, got state=%s", resp.State)
		}

		if got := testutil.ToFloat64(metrics.WebhookRateLimitDelay); got != 0 {
			t.Errorf("expected rate limit delay gauge cleared, got %v", got)
		}
	})
}

func TestDispatcher_Send_ContextCanceledDuringRetry(t *testing.T) {
	var calls int32
	server := scriptedServer(t, &calls, http.StatusInternalServerError)
	defer server.Close()

	cfg, err := NewConfig(server.URL, "test-token", 3,
		WithRetryDelay(5*time.Second),
		WithTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	d := NewDispatcher(cfg, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	retriesBefore := testutil.ToFloat64(metrics.WebhookRetriesTotal)
	resp := d.Send(ctx, validPayload())

	if resp.State != StateExhausted {
		t.Errorf("expected state=%s, got %s", StateExhausted, resp.State)
	}
	if resp.RetryCount != 0 {
		t.Errorf("expected retry_count=0 (only the first attempt ran), got %d", resp.RetryCount)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 HTTP call, got %d", got)
	}
	if delta := testutil.ToFloat64(metrics.WebhookRetriesTotal) - retriesBefore; delta != 0 {
		t.Errorf("expected no retries counted for an aborted sleep, got delta=%v", delta)
	}
}

func TestDispatcher_Send_RateLimit(t *testing.T) {
	t.Run("TC-1: should honor retry_after from body and short-circuit", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.05}`))
		}))
		defer server.Close()

		d := testDispatcher(t, server.URL, 3)

		started := time.Now()
		resp := d.Send(context.Background(), validPayload())
		elapsed := time.Since(started)

		if resp.State != StateRateLimited || !resp.RateLimited {
			t.Fatalf("expected rate_limited, got state=%s", resp.State)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected status=429, got %d", resp.StatusCode)
		}
		if resp.RetryCount != 0 {
			t.Errorf("expected retry_count=0 (first attempt), got %d", resp.RetryCount)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("expected 1 HTTP call (no retries on 429), got %d", got)
		}
		if elapsed < 50*time.Millisecond {
			t.Errorf("expected sleep of at least 50ms, got %v", elapsed)
		}
	})

	t.Run("TC-2: should honor Retry-After header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		d := testDispatcher(t, server.URL, 0)

		started := time.Now()
		resp := d.Send(context.Background(), validPayload())
		elapsed := time.Since(started)

		if resp.State != StateRateLimited {
			t.Fatalf("expected rate_limited, got state=%s", resp.State)
		}
		if elapsed < time.Second {
			t.Errorf("expected sleep of at least 1s, got %v", elapsed)
		}
	})
}

func TestDispatcher_Send_AuthFailure(t *testing.T) {
	t.Run("TC-1: should fail terminally on 401 without retry", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusUnauthorized)
		defer server.Close()

		d := testDispatcher(t, server.URL, 3)
		resp := d.Send(context.Background(), validPayload())

		if resp.State != StateAuthFailed {
			t.Errorf("expected state=%s, got %s", StateAuthFailed, resp.State)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected status=401, got %d", resp.StatusCode)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("expected 1 HTTP call, got %d", got)
		}
	})
}

func TestDispatcher_Send_RequestShape(t *testing.T) {
	t.Run("TC-1: should send bearer auth, JSON content type, and the payload body", func(t *testing.T) {
		var gotAuth, gotContentType string
		var gotBody []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status": "accepted"}`))
		}))
		defer server.Close()

		d := testDispatcher(t, server.URL, 0)
		resp := d.Send(context.Background(), validPayload())

		if !resp.Success {
			t.Fatalf("expected success, got state=%s", resp.State)
		}
		if gotAuth != "Bearer test-token" {
			t.Errorf("expected bearer auth header, got %q", gotAuth)
		}
		if gotContentType != "application/json" {
			t.Errorf("expected JSON content type, got %q", gotContentType)
		}

		var sent map[string]interface{}
		if err := json.Unmarshal(gotBody, &sent); err != nil {
			t.Fatalf("request body is not JSON: %v", err)
		}
		if sent["link"] != "https://example.com/feed-1" {
			t.Errorf("expected payload link in body, got %v", sent["link"])
		}

		if resp.Body == nil || resp.Body["status"] != "accepted" {
			t.Errorf("expected parsed response body, got %v", resp.Body)
		}
	})
}

func TestDispatcher_BatchSend(t *testing.T) {
	makePayloads := func(n int) []Payload {
		payloads := make([]Payload, 0, n)
		for i := 0; i < n; i++ {
			payloads = append(payloads, validPayload())
		}
		return payloads
	}

	t.Run("TC-1: should chunk 25 items into calls of 10, 10, 5", func(t *testing.T) {
		var sizes []int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Feeds []json.RawMessage `json:"feeds"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("batch body is not JSON: %v", err)
			}
			sizes = append(sizes, len(body.Feeds))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg, err := NewConfig(server.URL, "test-token", 2,
			WithRetryDelay(10*time.Millisecond),
			WithBatchSize(10),
		)
		if err != nil {
			t.Fatalf("NewConfig failed: %v", err)
		}
		d := NewDispatcher(cfg, time.Millisecond)

		responses := d.BatchSend(context.Background(), makePayloads(25))

		if len(responses) != 3 {
			t.Fatalf("expected 3 responses, got %d", len(responses))
		}
		for i, resp := range responses {
			if !resp.Success {
				t.Errorf("chunk %d: expected success, got state=%s", i, resp.State)
			}
		}
		if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 5 {
			t.Errorf("expected chunk sizes [10 10 5], got %v", sizes)
		}
	})

	t.Run("TC-2: should not retry failed chunks", func(t *testing.T) {
		var calls int32
		server := scriptedServer(t, &calls, http.StatusInternalServerError)
		defer server.Close()

		cfg, err := NewConfig(server.URL, "test-token", 5,
			WithRetryDelay(10*time.Millisecond),
			WithBatchSize(2),
		)
		if err != nil {
			t.Fatalf("NewConfig failed: %v", err)
		}
		d := NewDispatcher(cfg, time.Millisecond)

		responses := d.BatchSend(context.Background(), makePayloads(4))

		if len(responses) != 2 {
			t.Fatalf("expected 2 responses, got %d", len(responses))
		}
		for i, resp := range responses {
			if resp.State != StateExhausted {
				t.Errorf("chunk %d: expected state=%s, got %s", i, StateExhausted, resp.State)
			}
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("expected exactly 2 HTTP calls (one per chunk), got %d", got)
		}
	})

	t.Run("TC-3: should return nil for empty input", func(t *testing.T) {
		d := testDispatcher(t, "https://example.com/webhook", 0)
		if responses := d.BatchSend(context.Background(), nil); responses != nil {
			t.Errorf("expected nil responses, got %v", responses)
		}
	})
}

func TestExtractRetryAfter(t *testing.T) {
	fallback := 5 * time.Second

	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{
			name: "TC-1: JSON body takes precedence",
			body: `{"retry_after": 2.5}`,
			want: 2500 * time.Millisecond,
		},
		{
			name:   "TC-2: header used when body has no retry_after",
			header: "3",
			body:   `{"message": "slow down"}`,
			want:   3 * time.Second,
		},
		{
			name: "TC-3: fallback when neither is present",
			body: `not json`,
			want: fallback,
		},
		{
			name:   "TC-4: invalid header falls back",
			header: "soon",
			want:   fallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Retry-After", tt.header)
			}
			got := extractRetryAfter(header, []byte(tt.body), fallback)
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
