// Package resilience provides the failure-isolation and bounded-retry
// machinery that keeps a single provider call correct under transient
// failures.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker prevents hammering an unhealthy provider by rejecting
// requests for a cooldown period after a run of consecutive failures, then
// admitting a single trial request before closing again.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "anthropic.stream_chat",
//		FailureThreshold: 3,
//		ResetTimeout:     30 * time.Second,
//	}, logger)
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return provider.StreamChat(ctx, req)
//	})
//
// # Retry with Exponential Backoff
//
// The retrier retries rate-limit-class failures (rate limit, overloaded,
// timeout, network) with exponential backoff and jitter, preferring a
// provider-supplied retry hint when one is present. All other error classes
// propagate immediately.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig(), logger)
//	result, err := retrier.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return provider.StreamChat(ctx, req)
//	})
//
// # Combined Usage
//
// The relay pipeline composes both per named operation, breaker outermost:
//
//	op := resilience.NewRelayOperation("anthropic.stream_chat", cbConfig, retryConfig, logger)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return provider.StreamChat(ctx, req)
//	})
//
// One RelayOperation per named operation is shared across all concurrent
// requests; its counters are updated under a serialization point, never a
// racy read-modify-write. Caller-initiated cancellations are not counted
// toward the breaker's failure threshold.
package resilience
