// Package resilience groups the fault tolerance building blocks used around
// outbound calls: circuit breakers for webhook endpoints and feed hosts, and
// retry with exponential backoff for transient failures.
//
// Typical wiring:
//
//	cb := circuitbreaker.New(circuitbreaker.WebhookDeliveryConfig())
//	_, err := cb.Execute(func() (interface{}, error) {
//	    return nil, deliver(payload)
//	})
//
//	err := retry.WithBackoff(ctx, retry.FeedFetchConfig(), func() error {
//	    return fetchFeed(url)
//	})
package resilience
