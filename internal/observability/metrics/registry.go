// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics track feed processing throughput and latency
var (
	// FeedsProcessedTotal counts feed items processed by result
	FeedsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeds_processed_total",
			Help: "Total number of feed items processed",
		},
		[]string{"result"}, // result: stored, store_failed, invalid
	)

	// FeedProcessingDuration measures end-to-end processing time per feed item
	FeedProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_processing_duration_seconds",
			Help:    "Time taken to process a single feed item",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// DispatchQueueSize tracks the number of feed items waiting for delivery
	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_size",
			Help: "Number of feed items queued for webhook delivery",
		},
	)

	// DispatchQueueOverflowTotal counts items dropped because the queue was full
	DispatchQueueOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_queue_overflow_total",
			Help: "Total number of feed items dropped due to a full dispatch queue",
		},
	)
)

// Webhook metrics track delivery attempts against the downstream endpoint
var (
	// WebhookDeliveriesTotal counts delivery outcomes by terminal state
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook deliveries by terminal state",
		},
		[]string{"state"}, // state: success, rate_limited, auth_failed, exhausted, invalid
	)

	// WebhookRetriesTotal counts individual retry attempts
	WebhookRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_retries_total",
			Help: "Total number of webhook delivery retries",
		},
	)

	// WebhookDeliveryDuration measures the wall-clock time of a delivery call,
	// including retries and backoff sleeps
	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Duration of webhook delivery calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// WebhookPayloadSize measures the JSON payload size in bytes
	WebhookPayloadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_payload_size_bytes",
			Help:    "Webhook payload size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
	)

	// WebhookRateLimitDelay tracks the delay currently imposed by 429 responses
	WebhookRateLimitDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_rate_limit_delay_seconds",
			Help: "Delay requested by the most recent rate-limited webhook response",
		},
	)
)

// Database metrics track the connection pool and query performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DBPoolConnectionsActive tracks connections currently checked out
	DBPoolConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_active",
			Help: "Number of pool connections currently held by callers",
		},
	)

	// DBPoolConnectionsIdle tracks connections resting in the pool
	DBPoolConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_idle",
			Help: "Number of idle connections in the pool",
		},
	)

	// DBPoolExhaustedTotal counts acquisition timeouts
	DBPoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_pool_exhausted_total",
			Help: "Total number of pool acquisitions that timed out",
		},
	)
)

// RecordDBQuery records the duration of a database query operation.
// Operation should describe the query type (e.g., "add_feed", "list_feeds").
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
