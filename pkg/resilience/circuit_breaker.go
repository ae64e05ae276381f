package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, exactly one trial request is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit breaker from closed to open
	FailureThreshold int
	// ResetTimeout is the period of the open state, after which a single
	// trial request is allowed
	ResetTimeout time.Duration
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// State is a snapshot of a circuit breaker's observable state
type State struct {
	Name                string
	State               CircuitState
	ConsecutiveFailures int
	TotalRequests       uint64
	NextAttemptTime     time.Time
}

// CircuitBreaker is a per-named-operation state machine that fails fast when
// a downstream dependency is unhealthy. One instance per named operation is
// shared across all concurrent requests invoking that operation; counter
// updates are serialized under the mutex.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex               sync.Mutex
	state               CircuitState
	consecutiveFailures int
	totalRequests       uint64
	nextAttemptTime     time.Time
	trialInFlight       bool

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig, logger *logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logger,
	}
}

// Execute runs the given request if the circuit breaker accepts it.
//
// A caller-initiated cancellation does not count toward the failure
// threshold: it is not evidence the downstream dependency is unhealthy.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeRequest(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(false, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	if err == nil {
		cb.afterRequest(true, false)
		return result, nil
	}

	cb.afterRequest(false, errors.IsCanceled(errors.Classify(err)))
	return nil, err
}

// State returns a snapshot of the breaker's current state
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.advance(time.Now())
	return State{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalRequests:       cb.totalRequests,
		NextAttemptTime:     cb.nextAttemptTime,
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.advance(time.Now())

	switch cb.state {
	case StateOpen:
		return newOpenError(cb.name)
	case StateHalfOpen:
		if cb.trialInFlight {
			return newOpenError(cb.name)
		}
		cb.trialInFlight = true
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success, canceled bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	if canceled {
		// Release the trial slot without judging the dependency.
		if cb.state == StateHalfOpen {
			cb.trialInFlight = false
		}
		return
	}

	if success {
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.consecutiveFailures++
	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// advance performs the time-driven OPEN -> HALF_OPEN transition.
// Caller must hold the mutex.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.state == StateOpen && !now.Before(cb.nextAttemptTime) {
		cb.setState(StateHalfOpen, now)
	}
}

// setState transitions the breaker. Caller must hold the mutex.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.nextAttemptTime = now.Add(cb.resetTimeout)
		cb.trialInFlight = false
	case StateHalfOpen:
		cb.trialInFlight = false
	case StateClosed:
		cb.nextAttemptTime = time.Time{}
		cb.consecutiveFailures = 0
		cb.trialInFlight = false
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
		"total_requests", cb.totalRequests,
	)
}

// newOpenError builds the non-retryable overloaded error returned while the
// breaker rejects requests.
func newOpenError(name string) *errors.ProviderError {
	e := errors.NewOverloadedError(fmt.Sprintf("circuit breaker %q is open", name))
	e.Retryable = false
	return e.WithDetail("circuit_breaker", name)
}

// IsCircuitOpenError checks if an error is a circuit breaker rejection
func IsCircuitOpenError(err error) bool {
	pe := errors.Classify(err)
	if pe == nil || pe.Type != errors.ErrorTypeOverloaded {
		return false
	}
	_, ok := pe.Details["circuit_breaker"]
	return ok
}
