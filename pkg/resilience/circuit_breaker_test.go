package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatrelay/chatrelay/pkg/errors"
)

func failingCall(ctx context.Context) (interface{}, error) {
	return nil, apperrors.NewNetworkError("connection reset")
}

func succeedingCall(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		ResetTimeout:     time.Second,
	}, nil)

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), succeedingCall)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	}

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, uint64(5), snap.TotalRequests)
}

func TestCircuitBreaker_TripsAtThresholdAndFailsFast(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), failingCall)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State().State)

	// The 4th call must fail fast without invoking the wrapped function.
	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not execute", nil
	})
	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, IsCircuitOpenError(err))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.ErrorTypeOverloaded, apperrors.GetType(err))
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	}, nil)

	_, err := cb.Execute(context.Background(), failingCall)
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State().State)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State().State)

	// Hold the single trial slot open; a concurrent caller must be rejected.
	release := make(chan struct{})
	trialStarted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(trialStarted)
			<-release
			return "ok", nil
		})
		done <- err
	}()

	<-trialStarted
	_, err = cb.Execute(context.Background(), succeedingCall)
	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State().State)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	}, nil)

	_, _ = cb.Execute(context.Background(), failingCall)
	time.Sleep(30 * time.Millisecond)

	before := time.Now()
	_, err := cb.Execute(context.Background(), failingCall)
	require.Error(t, err)

	snap := cb.State()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.NextAttemptTime.After(before))
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}, nil)

	_, _ = cb.Execute(context.Background(), failingCall)
	_, _ = cb.Execute(context.Background(), failingCall)
	_, _ = cb.Execute(context.Background(), succeedingCall)
	_, _ = cb.Execute(context.Background(), failingCall)
	_, _ = cb.Execute(context.Background(), failingCall)

	// Two failures after the reset: still under the threshold.
	assert.Equal(t, StateClosed, cb.State().State)
	assert.Equal(t, 2, cb.State().ConsecutiveFailures)
}

func TestCircuitBreaker_CancelDoesNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, context.Canceled
		})
		require.Error(t, err)
	}

	snap := cb.State()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestCircuitBreaker_ConcurrentFailuresSerialized(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1000,
		ResetTimeout:     time.Minute,
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = cb.Execute(context.Background(), failingCall)
			}
		}()
	}
	wg.Wait()

	snap := cb.State()
	assert.Equal(t, 500, snap.ConsecutiveFailures)
	assert.Equal(t, uint64(500), snap.TotalRequests)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	var mu sync.Mutex

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	}, nil)

	_, _ = cb.Execute(context.Background(), failingCall)
	time.Sleep(20 * time.Millisecond)
	_, _ = cb.Execute(context.Background(), succeedingCall)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}
