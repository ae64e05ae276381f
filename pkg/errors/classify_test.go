package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ContextErrors(t *testing.T) {
	assert.Equal(t, ErrorTypeCanceled, Classify(context.Canceled).Type)
	assert.Equal(t, ErrorTypeTimeout, Classify(context.DeadlineExceeded).Type)
}

func TestClassify_PassthroughAndUnknown(t *testing.T) {
	original := NewOverloadedError("busy")
	assert.Same(t, original, Classify(original))

	unknown := Classify(errors.New("something odd"))
	assert.Equal(t, ErrorTypeUnknown, unknown.Type)
	assert.False(t, unknown.Retryable)

	assert.Nil(t, Classify(nil))
}

func TestClassifyHTTP_StatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		errType ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeAuthentication},
		{http.StatusForbidden, ErrorTypeAuthentication},
		{http.StatusPaymentRequired, ErrorTypeBilling},
		{http.StatusBadRequest, ErrorTypeInvalidRequest},
		{http.StatusUnprocessableEntity, ErrorTypeInvalidRequest},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusRequestTimeout, ErrorTypeTimeout},
		{http.StatusGatewayTimeout, ErrorTypeTimeout},
		{529, ErrorTypeOverloaded},
		{http.StatusInternalServerError, ErrorTypeInternal},
		{http.StatusBadGateway, ErrorTypeInternal},
	}

	for _, tt := range tests {
		err := ClassifyHTTP("anthropic", tt.status, nil, nil)
		assert.Equal(t, tt.errType, err.Type, "status %d", tt.status)
		assert.Equal(t, "anthropic", err.Provider)
	}
}

func TestClassifyHTTP_QuotaFromErrorBody(t *testing.T) {
	body := []byte(`{"error":{"type":"quota_exceeded_error","message":"monthly quota exhausted"}}`)
	err := ClassifyHTTP("anthropic", http.StatusTooManyRequests, body, nil)

	assert.Equal(t, ErrorTypeQuotaExceeded, err.Type)
	assert.False(t, err.Retryable)
}

func TestClassifyHTTP_ParsesProviderMessage(t *testing.T) {
	body := []byte(`{"error":{"type":"invalid_request_error","message":"max_tokens is too large"}}`)
	err := ClassifyHTTP("anthropic", http.StatusBadRequest, body, nil)

	assert.Equal(t, "max_tokens is too large", err.Message)
}

func TestParseRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")
	header.Set("anthropic-ratelimit-requests-limit", "1000")
	header.Set("anthropic-ratelimit-requests-remaining", "0")
	header.Set("anthropic-ratelimit-requests-reset", "2026-01-02T15:04:05Z")

	info := ParseRateLimitHeaders(header)

	require.NotNil(t, info)
	assert.True(t, info.IsRateLimited)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, 1000, info.Limit)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 2026, info.Reset.Year())
}

func TestParseRateLimitHeaders_Empty(t *testing.T) {
	info := ParseRateLimitHeaders(nil)
	require.NotNil(t, info)
	assert.True(t, info.IsRateLimited)
	assert.Zero(t, info.RetryAfter)
}
