// Package webhook delivers feed payloads to an external HTTP endpoint with
// rate limiting, bounded retries, and response classification.
package webhook

import (
	"time"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/domain/entity"
)

// Config contains the delivery settings for one webhook endpoint.
// Treat a constructed Config as immutable.
type Config struct {
	// Endpoint is the absolute HTTP(S) URL deliveries are posted to.
	// Localhost and bare IP endpoints with an optional port are accepted.
	Endpoint string

	// AuthToken is sent as an Authorization bearer token on every request.
	AuthToken string

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// RetryDelay is the pause between retryable attempts and the fallback
	// Retry-After for rate-limited responses.
	RetryDelay time.Duration

	// Timeout is the HTTP request timeout per attempt.
	Timeout time.Duration

	// BatchSize is the maximum number of payloads per batch request.
	BatchSize int
}

const (
	defaultRetryDelay = 5 * time.Second
	defaultTimeout    = 30 * time.Second
	defaultBatchSize  = 10
)

// NewConfig validates the endpoint and bounds and fills in defaults for the
// timing fields. An invalid endpoint fails construction.
func NewConfig(endpoint, authToken string, maxRetries int, opts ...Option) (Config, error) {
	if err := entity.ValidateEndpointURL(endpoint); err != nil {
		return Config{}, err
	}
	if maxRetries < 0 {
		return Config{}, &entity.ValidationError{
			Field:   "max_retries",
			Message: "must be zero or positive",
		}
	}

	cfg := Config{
		Endpoint:   endpoint,
		AuthToken:  authToken,
		MaxRetries: maxRetries,
		RetryDelay: defaultRetryDelay,
		Timeout:    defaultTimeout,
		BatchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.RetryDelay <= 0 {
		return Config{}, &entity.ValidationError{
			Field:   "retry_delay",
			Message: "must be positive",
		}
	}
	if cfg.Timeout <= 0 {
		return Config{}, &entity.ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		}
	}
	if cfg.BatchSize <= 0 {
		return Config{}, &entity.ValidationError{
			Field:   "batch_size",
			Message: "must be positive",
		}
	}

	return cfg, nil
}

// Option adjusts optional Config fields during construction.
type Option func(*Config)

// WithRetryDelay overrides the default pause between retry attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithTimeout overrides the default per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithBatchSize overrides the default batch chunk size.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}
