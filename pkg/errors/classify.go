package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Classify maps any raw failure into a typed, severity-tagged ProviderError.
// Already-classified errors pass through unchanged.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.Canceled) {
		return NewCanceledError("request").WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("request").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError("network operation").WithCause(err)
		}
		return NewNetworkError(err.Error()).WithCause(err)
	}

	return New(ErrorTypeUnknown, err.Error()).WithCause(err)
}

// providerErrorBody is the shape most providers use for error responses
type providerErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClassifyHTTP maps a provider HTTP error response into a ProviderError,
// extracting rate limit metadata from response headers where present.
func ClassifyHTTP(provider string, status int, body []byte, header http.Header) *ProviderError {
	var errBody providerErrorBody
	_ = json.Unmarshal(body, &errBody)

	message := errBody.Error.Message
	if message == "" {
		message = http.StatusText(status)
	}

	var pe *ProviderError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe = NewAuthenticationError(message)
	case status == http.StatusPaymentRequired:
		pe = NewBillingError(message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		pe = NewInvalidRequestError(message)
	case status == http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(errBody.Error.Type), "quota") {
			pe = NewQuotaExceededError(message)
		} else {
			pe = NewRateLimitError(message, ParseRateLimitHeaders(header))
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		pe = NewTimeoutError("provider request")
	case status == 529: // anthropic overloaded_error
		pe = NewOverloadedError(message)
	case status >= 500:
		pe = NewInternalError(message)
	default:
		pe = New(ErrorTypeUnknown, message)
	}

	return pe.WithProvider(provider).WithDetail("status", strconv.Itoa(status))
}

// ParseRateLimitHeaders extracts rate limit metadata from provider response
// headers. It understands the standard Retry-After header plus the
// anthropic-ratelimit-* and x-ratelimit-* families.
func ParseRateLimitHeaders(header http.Header) *RateLimitInfo {
	info := &RateLimitInfo{IsRateLimited: true}
	if header == nil {
		return info
	}

	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			info.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	info.Limit = firstIntHeader(header,
		"anthropic-ratelimit-requests-limit", "x-ratelimit-limit-requests", "x-ratelimit-limit")
	info.Remaining = firstIntHeader(header,
		"anthropic-ratelimit-requests-remaining", "x-ratelimit-remaining-requests", "x-ratelimit-remaining")

	for _, key := range []string{"anthropic-ratelimit-requests-reset", "x-ratelimit-reset-requests", "x-ratelimit-reset"} {
		if v := header.Get(key); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				info.Reset = t
				break
			}
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.Reset = time.Unix(secs, 0)
				break
			}
		}
	}

	return info
}

func firstIntHeader(header http.Header, keys ...string) int {
	for _, key := range keys {
		if v := header.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
