package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DeliveryState is the terminal state of one delivery attempt sequence.
type DeliveryState string

const (
	// StateSuccess means the endpoint accepted the payload.
	StateSuccess DeliveryState = "success"
	// StateInvalidPayload means validation failed before any network call.
	StateInvalidPayload DeliveryState = "invalid_payload"
	// StateRateLimited means the endpoint returned 429 and the call
	// short-circuited after honoring Retry-After.
	StateRateLimited DeliveryState = "rate_limited"
	// StateAuthFailed means the endpoint rejected the bearer token.
	StateAuthFailed DeliveryState = "auth_failed"
	// StateExhausted means every attempt failed and the retry budget is spent.
	StateExhausted DeliveryState = "exhausted"
)

// Response is the result value produced once per Send or per batch chunk.
// Callers branch on State; nothing escapes the dispatcher as a bare error.
type Response struct {
	State        DeliveryState
	Success      bool
	StatusCode   int
	ErrorMessage string
	RetryCount   int
	RateLimited  bool
	Body         map[string]interface{}
}

// Webhook error taxonomy. The dispatcher maps HTTP statuses onto these so
// retry decisions and logs stay type-driven.

// RateLimitError represents a 429 response from the endpoint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a 4xx response other than 429.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents a 5xx response.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// retryAfterBody is the optional JSON error shape some endpoints return
// alongside a 429.
type retryAfterBody struct {
	RetryAfter float64 `json:"retry_after"`
}

// extractRetryAfter resolves the backoff for a 429 response: JSON body first,
// then the Retry-After header, then the configured fallback.
func extractRetryAfter(header http.Header, body []byte, fallback time.Duration) time.Duration {
	var parsed retryAfterBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}

	if value := header.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return fallback
}
