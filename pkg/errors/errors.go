package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the classified type of a provider error
type ErrorType string

const (
	ErrorTypeAuthentication    ErrorType = "authentication"
	ErrorTypeBilling           ErrorType = "billing"
	ErrorTypeQuotaExceeded     ErrorType = "quota_exceeded"
	ErrorTypeInvalidRequest    ErrorType = "invalid_request"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeOverloaded        ErrorType = "overloaded"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeNetwork           ErrorType = "network"
	ErrorTypeStreamInterrupted ErrorType = "stream_interrupted"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeUnknown           ErrorType = "unknown"
	// ErrorTypeCanceled marks a caller-initiated cancellation. It is never
	// retried and is excluded from circuit breaker failure accounting.
	ErrorTypeCanceled ErrorType = "canceled"
)

// Severity indicates how serious a classified error is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// defaultSeverity maps each error type to its default severity
var defaultSeverity = map[ErrorType]Severity{
	ErrorTypeAuthentication:    SeverityCritical,
	ErrorTypeBilling:           SeverityCritical,
	ErrorTypeQuotaExceeded:     SeverityCritical,
	ErrorTypeInvalidRequest:    SeverityHigh,
	ErrorTypeValidation:        SeverityHigh,
	ErrorTypeRateLimit:         SeverityMedium,
	ErrorTypeOverloaded:        SeverityMedium,
	ErrorTypeTimeout:           SeverityMedium,
	ErrorTypeNetwork:           SeverityLow,
	ErrorTypeStreamInterrupted: SeverityLow,
	ErrorTypeInternal:          SeverityHigh,
	ErrorTypeUnknown:           SeverityHigh,
	ErrorTypeCanceled:          SeverityLow,
}

// defaultRetryable maps each error type to its default retryability
var defaultRetryable = map[ErrorType]bool{
	ErrorTypeRateLimit:         true,
	ErrorTypeOverloaded:        true,
	ErrorTypeTimeout:           true,
	ErrorTypeNetwork:           true,
	ErrorTypeStreamInterrupted: true,
}

// userMessages maps error types to user-visible text. Raw provider error
// strings are never shown to end users.
var userMessages = map[ErrorType]string{
	ErrorTypeAuthentication:    "The AI provider rejected our credentials. Please contact your administrator.",
	ErrorTypeBilling:           "The AI provider account has a billing problem. Please contact your administrator.",
	ErrorTypeQuotaExceeded:     "The AI provider usage quota has been exhausted. Please try again later.",
	ErrorTypeInvalidRequest:    "The request could not be processed. Please try rephrasing your message.",
	ErrorTypeValidation:        "The request could not be processed. Please try rephrasing your message.",
	ErrorTypeRateLimit:         "The assistant is receiving too many requests. Please wait a moment and try again.",
	ErrorTypeOverloaded:        "The assistant is temporarily overloaded. Please wait a moment and try again.",
	ErrorTypeTimeout:           "The assistant took too long to respond. Please try again.",
	ErrorTypeNetwork:           "A network problem interrupted the request. Please try again.",
	ErrorTypeStreamInterrupted: "The response was interrupted. The partial answer has been kept.",
	ErrorTypeInternal:          "Something went wrong on our side. Please try again.",
	ErrorTypeUnknown:           "Something went wrong on our side. Please try again.",
	ErrorTypeCanceled:          "The request was cancelled.",
}

// RateLimitInfo carries provider rate limit metadata extracted from an error
// response. Derived per-error, never persisted.
type RateLimitInfo struct {
	IsRateLimited bool          `json:"is_rate_limited"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
	Limit         int           `json:"limit,omitempty"`
	Remaining     int           `json:"remaining,omitempty"`
	Reset         time.Time     `json:"reset,omitempty"`
}

// ProviderError represents a classified provider failure with context
type ProviderError struct {
	Type      ErrorType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Provider  string            `json:"provider,omitempty"`
	Retryable bool              `json:"retryable"`
	Attempts  int               `json:"attempts,omitempty"`
	RateLimit *RateLimitInfo    `json:"rate_limit,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the user-visible text for this error's type
func (e *ProviderError) UserMessage() string {
	if msg, ok := userMessages[e.Type]; ok {
		return msg
	}
	return userMessages[ErrorTypeUnknown]
}

// New creates a classified error of the given type with default severity and
// retryability for that type
func New(errorType ErrorType, message string) *ProviderError {
	severity, ok := defaultSeverity[errorType]
	if !ok {
		severity = SeverityHigh
	}
	return &ProviderError{
		Type:      errorType,
		Severity:  severity,
		Message:   message,
		Retryable: defaultRetryable[errorType],
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *ProviderError) WithCause(cause error) *ProviderError {
	e.Cause = cause
	return e
}

// WithProvider tags the error with the provider it originated from
func (e *ProviderError) WithProvider(provider string) *ProviderError {
	e.Provider = provider
	return e
}

// WithRateLimit attaches rate limit metadata to the error
func (e *ProviderError) WithRateLimit(info *RateLimitInfo) *ProviderError {
	e.RateLimit = info
	return e
}

// WithDetail adds a detail to the error
func (e *ProviderError) WithDetail(key, value string) *ProviderError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewAuthenticationError(message string) *ProviderError {
	return New(ErrorTypeAuthentication, message)
}

func NewBillingError(message string) *ProviderError {
	return New(ErrorTypeBilling, message)
}

func NewQuotaExceededError(message string) *ProviderError {
	return New(ErrorTypeQuotaExceeded, message)
}

func NewInvalidRequestError(message string) *ProviderError {
	return New(ErrorTypeInvalidRequest, message)
}

func NewValidationError(message string) *ProviderError {
	return New(ErrorTypeValidation, message)
}

func NewRateLimitError(message string, info *RateLimitInfo) *ProviderError {
	return New(ErrorTypeRateLimit, message).WithRateLimit(info)
}

func NewOverloadedError(message string) *ProviderError {
	return New(ErrorTypeOverloaded, message)
}

func NewTimeoutError(operation string) *ProviderError {
	return New(ErrorTypeTimeout, fmt.Sprintf("%s timed out", operation))
}

func NewNetworkError(message string) *ProviderError {
	return New(ErrorTypeNetwork, message)
}

func NewStreamInterruptedError(message string) *ProviderError {
	return New(ErrorTypeStreamInterrupted, message)
}

func NewInternalError(message string) *ProviderError {
	return New(ErrorTypeInternal, message)
}

func NewCanceledError(operation string) *ProviderError {
	return New(ErrorTypeCanceled, fmt.Sprintf("%s was cancelled by the caller", operation))
}

// NewRetryExhaustedError creates the terminal, non-retryable error raised when
// the retry budget is spent. It keeps the type of the last transient failure
// so user messages and error-log aggregates reflect what actually failed, and
// carries the number of attempts made plus the last-known rate limit info.
func NewRetryExhaustedError(attempts int, last *ProviderError) *ProviderError {
	errorType := ErrorTypeRateLimit
	if last != nil {
		errorType = last.Type
	}

	e := New(errorType, fmt.Sprintf("retry budget exhausted after %d retries", attempts))
	e.Retryable = false
	e.Attempts = attempts
	if last != nil {
		e.Provider = last.Provider
		e.RateLimit = last.RateLimit
		e.Cause = last
	}
	return e
}

// IsType checks if the error (or any error in its chain) is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type == errorType
	}
	return false
}

// GetType returns the classified type, or unknown for foreign errors
func GetType(err error) ErrorType {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether the error is marked retryable
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsRateLimitClass reports whether the error belongs to the transient class
// that the retry layer is allowed to retry: rate limit, overloaded, timeout,
// network, or an interrupted stream that is still marked retryable.
func IsRateLimitClass(err error) bool {
	switch GetType(err) {
	case ErrorTypeRateLimit, ErrorTypeOverloaded, ErrorTypeTimeout,
		ErrorTypeNetwork, ErrorTypeStreamInterrupted:
		return IsRetryable(err)
	default:
		return false
	}
}

// IsCanceled reports whether the error represents a caller-initiated cancel
func IsCanceled(err error) bool {
	return IsType(err, ErrorTypeCanceled)
}

// RetryHint returns the provider-supplied retry delay, if any
func RetryHint(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RateLimit != nil && pe.RateLimit.RetryAfter > 0 {
		return pe.RateLimit.RetryAfter, true
	}
	return 0, false
}
