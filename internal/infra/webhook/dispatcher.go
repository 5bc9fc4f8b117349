package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/metrics"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/resilience/circuitbreaker"
)

// Payload is one outbound feed object. Required keys: type, title, link.
type Payload map[string]interface{}

// requiredFields must be present and non-empty before any network call.
var requiredFields = [...]string{"type", "title", "link"}

// Dispatcher posts payloads to a configured webhook endpoint. Each Send runs
// the delivery state machine: validate, then attempt up to MaxRetries+1
// posts, classifying the outcome into a Response. Safe for concurrent use.
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *circuitbreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher for the given config. All deliveries
// share one rate limiter spaced at minInterval and one circuit breaker
// guarding the endpoint.
func NewDispatcher(cfg Config, minInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: NewRateLimiter(minInterval),
		breaker: circuitbreaker.New(circuitbreaker.WebhookDeliveryConfig()),
	}
}

// Config returns the dispatcher's delivery settings.
func (d *Dispatcher) Config() Config {
	return d.config
}

// validate checks the required payload fields. It returns the name of the
// first missing field, or "" when the payload is deliverable.
func validate(payload Payload) string {
	for _, field := range requiredFields {
		value, ok := payload[field]
		if !ok || value == nil {
			return field
		}
		if s, isString := value.(string); isString && s == "" {
			return field
		}
	}
	return ""
}

// Send delivers one payload and returns the terminal Response.
//
// An invalid payload fails fast without touching the network or the rate
// limiter. Otherwise each attempt posts through the rate limiter and the
// circuit breaker: 429 honors Retry-After and short-circuits as rate
// limited, 401 is a terminal auth failure, 200 succeeds, and anything else
// (including transport errors and an open breaker) retries after RetryDelay
// until the budget is spent.
func (d *Dispatcher) Send(ctx context.Context, payload Payload) Response {
	requestID := uuid.New().String()
	logger := slog.Default().With(
		slog.String("request_id", requestID),
		slog.String("endpoint", d.config.Endpoint))

	if field := validate(payload); field != "" {
		logger.Warn("webhook payload rejected",
			slog.String("missing_field", field))
		return d.finish(Response{
			State:        StateInvalidPayload,
			ErrorMessage: fmt.Sprintf("missing required field %q", field),
		}, time.Now())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return d.finish(Response{
			State:        StateInvalidPayload,
			ErrorMessage: fmt.Sprintf("marshal payload: %v", err),
		}, time.Now())
	}

	start := time.Now()
	metrics.RecordWebhookPayloadSize(len(body))

	var (
		lastStatus  int
		lastErr     error
		lastAttempt int
	)

attempts:
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		lastAttempt = attempt
		if err := d.limiter.Wait(ctx); err != nil {
			return d.finish(Response{
				State:        StateExhausted,
				ErrorMessage: fmt.Sprintf("rate limiter wait: %v", err),
				RetryCount:   attempt,
			}, start)
		}

		result, err := d.post(ctx, body)
		if err != nil {
			lastErr = err
			lastStatus = 0
			logger.Warn("webhook delivery attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			if !d.sleepBeforeRetry(ctx, attempt, logger) {
				break attempts
			}
			continue
		}

		switch result.status {
		case http.StatusTooManyRequests:
			return d.rateLimited(ctx, attempt, result, start, logger)

		case http.StatusUnauthorized:
			logger.Error("webhook authentication failed",
				slog.Int("attempt", attempt))
			return d.finish(Response{
				State:        StateAuthFailed,
				StatusCode:   result.status,
				ErrorMessage: "authentication failed",
				RetryCount:   attempt,
			}, start)

		case http.StatusOK:
			logger.Info("webhook delivered",
				slog.Int("attempt", attempt))
			return d.finish(Response{
				State:      StateSuccess,
				Success:    true,
				StatusCode: result.status,
				RetryCount: attempt,
				Body:       parseBody(result.body),
			}, start)

		default:
			lastStatus = result.status
			lastErr = classifyStatus(result.status, result.body)
			logger.Warn("webhook delivery attempt rejected",
				slog.Int("attempt", attempt),
				slog.Int("status", result.status))
			if !d.sleepBeforeRetry(ctx, attempt, logger) {
				break attempts
			}
		}
	}

	errMsg := "delivery failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	logger.Error("webhook delivery exhausted",
		slog.Int("max_retries", d.config.MaxRetries),
		slog.Int("attempts", lastAttempt+1),
		slog.String("error", errMsg))

	return d.finish(Response{
		State:        StateExhausted,
		StatusCode:   lastStatus,
		ErrorMessage: errMsg,
		RetryCount:   lastAttempt,
	}, start)
}

// BatchSend partitions payloads into BatchSize chunks and posts each chunk
// once as {"feeds": chunk}. No retries at the batch level; one Response per
// chunk, classified the same way as single sends.
func (d *Dispatcher) BatchSend(ctx context.Context, payloads []Payload) []Response {
	if len(payloads) == 0 {
		return nil
	}

	responses := make([]Response, 0, (len(payloads)+d.config.BatchSize-1)/d.config.BatchSize)

	for startIdx := 0; startIdx < len(payloads); startIdx += d.config.BatchSize {
		end := startIdx + d.config.BatchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		responses = append(responses, d.sendChunk(ctx, payloads[startIdx:end]))
	}

	return responses
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []Payload) Response {
	body, err := json.Marshal(map[string]interface{}{"feeds": chunk})
	if err != nil {
		return Response{
			State:        StateInvalidPayload,
			ErrorMessage: fmt.Sprintf("marshal batch: %v", err),
		}
	}

	start := time.Now()
	metrics.RecordWebhookPayloadSize(len(body))

	if err := d.limiter.Wait(ctx); err != nil {
		return d.finish(Response{
			State:        StateExhausted,
			ErrorMessage: fmt.Sprintf("rate limiter wait: %v", err),
		}, start)
	}

	result, err := d.post(ctx, body)
	if err != nil {
		return d.finish(Response{
			State:        StateExhausted,
			ErrorMessage: err.Error(),
		}, start)
	}

	switch result.status {
	case http.StatusOK:
		return d.finish(Response{
			State:      StateSuccess,
			Success:    true,
			StatusCode: result.status,
			Body:       parseBody(result.body),
		}, start)
	case http.StatusTooManyRequests:
		return d.finish(Response{
			State:        StateRateLimited,
			StatusCode:   result.status,
			RateLimited:  true,
			ErrorMessage: "rate limit exceeded",
		}, start)
	case http.StatusUnauthorized:
		return d.finish(Response{
			State:        StateAuthFailed,
			StatusCode:   result.status,
			ErrorMessage: "authentication failed",
		}, start)
	default:
		return d.finish(Response{
			State:        StateExhausted,
			StatusCode:   result.status,
			ErrorMessage: classifyStatus(result.status, result.body).Error(),
		}, start)
	}
}

// post issues one HTTP POST through the circuit breaker. Transport failures
// and an open breaker surface as errors; 5xx responses are reported to the
// breaker as failures but still return their status to the caller.
func (d *Dispatcher) post(ctx context.Context, body []byte) (*postResult, error) {
	result, err := d.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+d.config.AuthToken)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, _ := io.ReadAll(resp.Body)
		pr := &postResult{status: resp.StatusCode, header: resp.Header, body: respBody}
		if pr.status >= 500 {
			return pr, &ServerError{StatusCode: pr.status, Message: fmt.Sprintf("server error %d", pr.status)}
		}
		return pr, nil
	})
	if pr, ok := result.(*postResult); ok {
		return pr, nil
	}
	return nil, err
}

type postResult struct {
	status int
	header http.Header
	body   []byte
}

// rateLimited honors Retry-After, then short-circuits with a rate-limited
// Response. The sleep does not consume a retry.
func (d *Dispatcher) rateLimited(ctx context.Context, attempt int, result *postResult, start time.Time, logger *slog.Logger) Response {
	retryAfter := extractRetryAfter(result.header, result.body, d.config.RetryDelay)

	logger.Warn("webhook rate limited",
		slog.Int("attempt", attempt),
		slog.Duration("retry_after", retryAfter))
	metrics.SetRateLimitDelay(retryAfter)

	select {
	case <-time.After(retryAfter):
	case <-ctx.Done():
	}

	return d.finish(Response{
		State:        StateRateLimited,
		StatusCode:   http.StatusTooManyRequests,
		RateLimited:  true,
		ErrorMessage: (&RateLimitError{RetryAfter: retryAfter}).Error(),
		RetryCount:   attempt,
	}, start)
}

// sleepBeforeRetry pauses for RetryDelay when attempts remain. Returns false
// when the budget is spent or the context is canceled. The retry counter
// moves only once the sleep completes and another attempt will actually run.
func (d *Dispatcher) sleepBeforeRetry(ctx context.Context, attempt int, logger *slog.Logger) bool {
	if attempt >= d.config.MaxRetries {
		return false
	}

	logger.Info("webhook retrying",
		slog.Int("attempt", attempt),
		slog.Duration("delay", d.config.RetryDelay))

	select {
	case <-time.After(d.config.RetryDelay):
		metrics.WebhookRetriesTotal.Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) finish(resp Response, start time.Time) Response {
	metrics.RecordWebhookDelivery(string(resp.State), time.Since(start))
	if resp.State == StateSuccess {
		metrics.SetRateLimitDelay(0)
	}
	return resp
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 500:
		return &ServerError{StatusCode: status, Message: fmt.Sprintf("server error %d: %s", status, body)}
	case status >= 400:
		return &ClientError{StatusCode: status, Message: fmt.Sprintf("client error %d: %s", status, body)}
	default:
		return fmt.Errorf("unexpected status code %d: %s", status, body)
	}
}

func parseBody(body []byte) map[string]interface{} {
	if len(body) == 0 {
		return nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	return parsed
}
