package webhook

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// backoffCap bounds exponential backoff delays.
const backoffCap = 60 * time.Second

// RateLimiter enforces a minimum interval between permitted operations.
// Safe for concurrent callers; exactly one waiter proceeds per elapsed
// interval.
type RateLimiter struct {
	minInterval time.Duration
	limiter     *rate.Limiter
}

// NewRateLimiter creates a limiter that spaces operations at least
// minInterval apart. A non-positive interval disables limiting.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval <= 0 {
		return &RateLimiter{
			minInterval: 0,
			limiter:     rate.NewLimiter(rate.Inf, 1),
		}
	}
	return &RateLimiter{
		minInterval: minInterval,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Wait blocks until the minimum interval since the last permitted operation
// has elapsed, or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Backoff blocks for min(minInterval * 2^attempt, 60s) plus up to 10%
// jitter. A negative attempt is a no-op. Returns early with the context
// error on cancellation.
func (r *RateLimiter) Backoff(ctx context.Context, attempt int) error {
	if attempt < 0 {
		return nil
	}

	delay := r.BackoffDelay(attempt)

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackoffDelay computes the backoff duration for an attempt without
// sleeping.
func (r *RateLimiter) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}

	base := r.minInterval
	if base <= 0 {
		base = time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}
