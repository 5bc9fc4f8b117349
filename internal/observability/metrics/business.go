package metrics

import "time"

// RecordFeedProcessed records the outcome of processing one feed item.
// Result should be one of "stored", "store_failed", or "invalid".
func RecordFeedProcessed(result string, duration time.Duration) {
	FeedsProcessedTotal.WithLabelValues(result).Inc()
	FeedProcessingDuration.Observe(duration.Seconds())
}

// RecordWebhookDelivery records the terminal state of a delivery call along
// with its total duration. Retries are counted individually by the
// dispatcher as they run, not here.
func RecordWebhookDelivery(state string, duration time.Duration) {
	WebhookDeliveriesTotal.WithLabelValues(state).Inc()
	WebhookDeliveryDuration.Observe(duration.Seconds())
}

// RecordWebhookPayloadSize records the size in bytes of an outbound payload.
func RecordWebhookPayloadSize(size int) {
	WebhookPayloadSize.Observe(float64(size))
}

// SetRateLimitDelay publishes the delay requested by the most recent
// rate-limited response. The dispatcher clears it with zero once a delivery
// succeeds.
func SetRateLimitDelay(delay time.Duration) {
	WebhookRateLimitDelay.Set(delay.Seconds())
}

// UpdateQueueSize publishes the current dispatch queue depth.
func UpdateQueueSize(size int) {
	DispatchQueueSize.Set(float64(size))
}

// RecordQueueOverflow records a feed item dropped because the dispatch queue
// was full.
func RecordQueueOverflow() {
	DispatchQueueOverflowTotal.Inc()
}

// UpdatePoolStats publishes connection pool occupancy.
func UpdatePoolStats(active, idle int) {
	DBPoolConnectionsActive.Set(float64(active))
	DBPoolConnectionsIdle.Set(float64(idle))
}

// RecordPoolExhausted records an acquisition that timed out waiting for a
// free connection.
func RecordPoolExhausted() {
	DBPoolExhaustedTotal.Inc()
}
