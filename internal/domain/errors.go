package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput signals a malformed, empty, or oversized prompt.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQuotaExceeded signals a session or IP over its request/token ceiling.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRelayFailed signals that the upstream completion call did not produce a usable answer.
	ErrRelayFailed = errors.New("relay failed")
	// ErrUpstream signals a non-success response from the completion API.
	ErrUpstream = errors.New("upstream completion error")
	// ErrMalformedResponse signals a success status with missing completion fields.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrBudgetExhausted signals an exhausted upstream token budget.
	ErrBudgetExhausted = errors.New("token budget exhausted")
)

// QuotaKind identifies which identity dimension a quota applies to.
type QuotaKind string

// Quota identity kinds.
const (
	QuotaKindSession QuotaKind = "session"
	QuotaKindIP      QuotaKind = "ip"
)

// QuotaDimension identifies which counter tripped a quota.
// Request and token checks are independent; either can trip first.
type QuotaDimension string

// Quota counter dimensions.
const (
	QuotaDimensionRequests QuotaDimension = "requests"
	QuotaDimensionTokens   QuotaDimension = "tokens"
)

// QuotaExceededError wraps ErrQuotaExceeded with the limit that was hit.
type QuotaExceededError struct {
	Kind        QuotaKind
	Dimension   QuotaDimension
	Current     int
	Max         int
	ResetAt     time.Time
	WaitSeconds int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %s %s limit reached (%d/%d), resets in %ds",
		ErrQuotaExceeded.Error(), e.Kind, e.Dimension, e.Current, e.Max, e.WaitSeconds)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// UpstreamError wraps ErrUpstream with the HTTP status returned by the
// completion API. Timeout marks transport deadline failures.
type UpstreamError struct {
	StatusCode int
	Message    string
	Timeout    bool
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return ErrUpstream.Error() + ": request timed out"
	}
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream.Error(), e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// NewUpstreamError creates an upstream error for a non-success status.
func NewUpstreamError(statusCode int, message string) error {
	return &UpstreamError{StatusCode: statusCode, Message: message}
}

// NewUpstreamTimeout creates an upstream error marking a deadline failure.
func NewUpstreamTimeout(message string) error {
	return &UpstreamError{Message: message, Timeout: true}
}
