package wsclient

import (
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/resilience"
)

// ReconnectState tracks where the reconnection loop stands
type ReconnectState int

const (
	// ReconnectIdle means connected, or never disconnected
	ReconnectIdle ReconnectState = iota

	// ReconnectScheduled means a retry timer is pending
	ReconnectScheduled

	// ReconnectAttempting means a dial is in flight
	ReconnectAttempting

	// ReconnectExhausted means the retry budget is spent
	ReconnectExhausted
)

func (s ReconnectState) String() string {
	switch s {
	case ReconnectIdle:
		return "IDLE"
	case ReconnectScheduled:
		return "SCHEDULED"
	case ReconnectAttempting:
		return "ATTEMPTING"
	case ReconnectExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// ReconnectConfig bounds the reconnection loop
type ReconnectConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultReconnectConfig returns the standard reconnection policy
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:   5,
		BaseDelay:    time.Second,
		MaxDelay:     32 * time.Second,
		JitterFactor: 0.1,
	}
}

// Reconnector schedules bounded, backed-off reconnection attempts. At most
// one timer is pending at a time; scheduling while a timer is pending is a
// no-op. Exhaustion fires the callback exactly once per disconnect episode.
type Reconnector struct {
	config ReconnectConfig
	logger *logging.Logger

	mu        sync.Mutex
	state     ReconnectState
	attempt   int
	timer     *time.Timer
	exhausted bool

	onAttempt   func(attempt int)
	onExhausted func()
}

// NewReconnector creates a reconnector. onAttempt runs on the timer
// goroutine when a scheduled delay elapses; onExhausted runs once when
// the retry budget is spent.
func NewReconnector(config ReconnectConfig, logger *logging.Logger, onAttempt func(attempt int), onExhausted func()) *Reconnector {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultReconnectConfig().MaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultReconnectConfig().BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultReconnectConfig().MaxDelay
	}

	return &Reconnector{
		config:      config,
		logger:      logger,
		onAttempt:   onAttempt,
		onExhausted: onExhausted,
	}
}

// State returns the current reconnection state
func (r *Reconnector) State() ReconnectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt returns the number of attempts made this episode
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// CanRetry reports whether the retry budget still has room
func (r *Reconnector) CanRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt < r.config.MaxRetries
}

// Schedule arms the next reconnection attempt. If the budget is exhausted
// it transitions to EXHAUSTED instead and fires onExhausted once. Returns
// the delay before the attempt, or zero when nothing was scheduled.
func (r *Reconnector) Schedule() time.Duration {
	r.mu.Lock()

	if r.state == ReconnectScheduled || r.state == ReconnectExhausted {
		r.mu.Unlock()
		return 0
	}

	if r.attempt >= r.config.MaxRetries {
		r.state = ReconnectExhausted
		fire := !r.exhausted
		r.exhausted = true
		r.mu.Unlock()
		if fire && r.onExhausted != nil {
			r.onExhausted()
		}
		return 0
	}

	delay := resilience.BackoffDelay(r.attempt, r.config.BaseDelay, r.config.MaxDelay, r.config.JitterFactor)
	r.attempt++
	attempt := r.attempt
	r.state = ReconnectScheduled

	r.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max_retries", r.config.MaxRetries,
		"delay_ms", delay.Milliseconds(),
	)

	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.state != ReconnectScheduled {
			r.mu.Unlock()
			return
		}
		r.state = ReconnectAttempting
		r.mu.Unlock()

		if r.onAttempt != nil {
			r.onAttempt(attempt)
		}
	})
	r.mu.Unlock()

	return delay
}

// Failed records a failed attempt, returning the loop to IDLE so the next
// Schedule call can arm another timer
func (r *Reconnector) Failed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReconnectAttempting {
		r.state = ReconnectIdle
	}
}

// Reset clears the episode after a successful connection, restoring the
// full retry budget for the next disconnect
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = ReconnectIdle
	r.attempt = 0
	r.exhausted = false
}

// Stop cancels any pending timer without resetting the episode
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.state == ReconnectScheduled {
		r.state = ReconnectIdle
	}
}
