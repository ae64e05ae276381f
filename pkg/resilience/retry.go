package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
)

// RetryConfig holds configuration for the rate limit retry logic
type RetryConfig struct {
	// MaxRetries is the maximum number of retries after the initial attempt
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay is the cap applied to the exponential backoff
	MaxDelay time.Duration
	// JitterFactor randomizes each delay within delay ± delay*JitterFactor/2
	JitterFactor float64
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    1000 * time.Millisecond,
		MaxDelay:     32000 * time.Millisecond,
		JitterFactor: 0.1,
	}
}

// Retrier wraps a single provider call with bounded retry and exponential
// backoff plus jitter. Only rate-limit-class errors (rate limit, overloaded,
// timeout, network) are retried; everything else propagates immediately.
// Provider-supplied retry hints take precedence over computed backoff.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig, logger *logging.Logger) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1000 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 32000 * time.Millisecond
	}
	if config.JitterFactor < 0 || config.JitterFactor > 1 {
		config.JitterFactor = 0.1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Retrier{
		config: config,
		logger: logger,
	}
}

// Execute executes the given operation with retry logic
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	result, _, err := r.ExecuteWithCount(ctx, operation)
	return result, err
}

// ExecuteWithCount executes the operation and reports how many retries were
// performed. Exhausting the retry budget yields a terminal, non-retryable
// error carrying the attempt count and the last-known rate limit info.
func (r *Retrier) ExecuteWithCount(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, int, error) {
	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, attempt, errors.Classify(ctx.Err())
		}

		result, err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"retries", attempt,
					"max_retries", r.config.MaxRetries,
				)
			}
			return result, attempt, nil
		}

		classified := errors.Classify(err)

		if !errors.IsRateLimitClass(classified) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", classified.Error(),
				"error_type", string(classified.Type),
				"retries", attempt,
			)
			return nil, attempt, classified
		}

		if attempt >= r.config.MaxRetries {
			r.logger.Error("Operation failed after all retry attempts",
				"error", classified.Error(),
				"retries", attempt,
			)
			return nil, attempt, errors.NewRetryExhaustedError(attempt, classified)
		}

		delay := r.NextDelay(attempt, classified)

		r.logger.Debug("Rate limited, retrying",
			"error", classified.Error(),
			"error_type", string(classified.Type),
			"attempt", attempt+1,
			"max_retries", r.config.MaxRetries,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, classified, delay)
		}

		select {
		case <-ctx.Done():
			return nil, attempt, errors.Classify(ctx.Err())
		case <-time.After(delay):
		}

		attempt++
	}
}

// NextDelay returns the delay before the retry following the given attempt
// number (0-based). A provider-supplied retry hint wins over backoff.
func (r *Retrier) NextDelay(attempt int, err error) time.Duration {
	if hint, ok := errors.RetryHint(err); ok {
		if hint > r.config.MaxDelay {
			return r.config.MaxDelay
		}
		return hint
	}
	return BackoffDelay(attempt, r.config.BaseDelay, r.config.MaxDelay, r.config.JitterFactor)
}

// BackoffDelay computes min(maxDelay, baseDelay*2^attempt) with symmetric
// jitter of ±(delay*jitterFactor/2), clamped to be non-negative. The client
// reconnection scheduler uses the same formula.
func BackoffDelay(attempt int, baseDelay, maxDelay time.Duration, jitterFactor float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitterFactor > 0 {
		jitter := (rand.Float64() - 0.5) * delay * jitterFactor
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// RelayOperation composes a circuit breaker around a retrier for a single
// named provider operation, matching the relay pipeline's call order:
// the breaker decides whether any attempt happens at all, the retrier
// bounds the attempts within one admitted execution.
type RelayOperation struct {
	breaker *CircuitBreaker
	retrier *Retrier
}

// NewRelayOperation creates the shared breaker/retrier pair for a named operation
func NewRelayOperation(name string, cbConfig CircuitBreakerConfig, retryConfig RetryConfig, logger *logging.Logger) *RelayOperation {
	if cbConfig.Name == "" {
		cbConfig.Name = name
	}

	return &RelayOperation{
		breaker: NewCircuitBreaker(cbConfig, logger),
		retrier: NewRetrier(retryConfig, logger),
	}
}

// Execute runs an operation guarded by the breaker with retries inside
func (op *RelayOperation) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return op.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return op.retrier.Execute(ctx, operation)
	})
}

// Breaker returns the underlying circuit breaker
func (op *RelayOperation) Breaker() *CircuitBreaker {
	return op.breaker
}

// Retrier returns the underlying retrier
func (op *RelayOperation) Retrier() *Retrier {
	return op.retrier
}
