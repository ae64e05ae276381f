package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultSeverityAndRetryability(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		severity  Severity
		retryable bool
	}{
		{ErrorTypeAuthentication, SeverityCritical, false},
		{ErrorTypeBilling, SeverityCritical, false},
		{ErrorTypeQuotaExceeded, SeverityCritical, false},
		{ErrorTypeInvalidRequest, SeverityHigh, false},
		{ErrorTypeValidation, SeverityHigh, false},
		{ErrorTypeRateLimit, SeverityMedium, true},
		{ErrorTypeOverloaded, SeverityMedium, true},
		{ErrorTypeTimeout, SeverityMedium, true},
		{ErrorTypeNetwork, SeverityLow, true},
		{ErrorTypeStreamInterrupted, SeverityLow, true},
		{ErrorTypeInternal, SeverityHigh, false},
		{ErrorTypeUnknown, SeverityHigh, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := New(tt.errType, "test message")
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError("request failed").WithCause(cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProviderError_UserMessage_NeverEchoesProviderText(t *testing.T) {
	raw := "upstream says: invalid x-api-key sk-ant-1234"
	err := NewAuthenticationError(raw)

	assert.NotContains(t, err.UserMessage(), "sk-ant")
	assert.NotContains(t, err.UserMessage(), raw)
	assert.NotEmpty(t, err.UserMessage())
}

func TestIsRateLimitClass(t *testing.T) {
	assert.True(t, IsRateLimitClass(NewRateLimitError("slow down", nil)))
	assert.True(t, IsRateLimitClass(NewOverloadedError("busy")))
	assert.True(t, IsRateLimitClass(NewTimeoutError("call")))
	assert.True(t, IsRateLimitClass(NewNetworkError("reset")))
	assert.True(t, IsRateLimitClass(NewStreamInterruptedError("cut")))

	cut := NewStreamInterruptedError("cut")
	cut.Retryable = false
	assert.False(t, IsRateLimitClass(cut))

	assert.False(t, IsRateLimitClass(NewAuthenticationError("bad key")))
	assert.False(t, IsRateLimitClass(NewInvalidRequestError("bad body")))
	assert.False(t, IsRateLimitClass(errors.New("plain error")))
}

func TestIsRateLimitClass_WrappedError(t *testing.T) {
	inner := NewRateLimitError("slow down", nil)
	wrapped := fmt.Errorf("call failed: %w", inner)

	assert.True(t, IsRateLimitClass(wrapped))
	assert.Equal(t, ErrorTypeRateLimit, GetType(wrapped))
}

func TestNewRetryExhaustedError(t *testing.T) {
	last := NewRateLimitError("slow down", &RateLimitInfo{
		IsRateLimited: true,
		RetryAfter:    2 * time.Second,
		Remaining:     0,
	}).WithProvider("anthropic")

	terminal := NewRetryExhaustedError(3, last)

	assert.Equal(t, ErrorTypeRateLimit, terminal.Type)
	assert.False(t, terminal.Retryable)
	assert.False(t, IsRateLimitClass(terminal))
	assert.Equal(t, 3, terminal.Attempts)
	assert.Equal(t, "anthropic", terminal.Provider)
	require.NotNil(t, terminal.RateLimit)
	assert.Equal(t, 2*time.Second, terminal.RateLimit.RetryAfter)
	assert.True(t, errors.Is(terminal, last))
}

func TestNewRetryExhaustedErrorKeepsLastType(t *testing.T) {
	cases := []struct {
		last *ProviderError
		want ErrorType
	}{
		{NewTimeoutError("provider call"), ErrorTypeTimeout},
		{NewNetworkError("connection reset"), ErrorTypeNetwork},
		{NewOverloadedError("busy"), ErrorTypeOverloaded},
		{nil, ErrorTypeRateLimit},
	}

	for _, tc := range cases {
		terminal := NewRetryExhaustedError(2, tc.last)
		assert.Equal(t, tc.want, terminal.Type)
		assert.False(t, terminal.Retryable)
		assert.False(t, IsRateLimitClass(terminal))
	}
}

func TestRetryHint(t *testing.T) {
	hint, ok := RetryHint(NewRateLimitError("slow down", &RateLimitInfo{
		IsRateLimited: true,
		RetryAfter:    5 * time.Second,
	}))
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, hint)

	_, ok = RetryHint(NewRateLimitError("slow down", nil))
	assert.False(t, ok)

	_, ok = RetryHint(errors.New("plain"))
	assert.False(t, ok)
}
