package restq

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds classify failures across the transport, envelope and cache
// layers. Kinds are stable strings so they can double as metric labels.
const (
	KindTransport   = "Transport"
	KindProtocol    = "Protocol"
	KindAuth        = "Auth"
	KindValidation  = "Validation"
	KindCancelled   = "Cancelled"
	KindRateLimit   = "RateLimit"
	KindCircuitOpen = "CircuitOpen"
	KindConfig      = "Config"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("restq: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting
	ErrRateLimited = errors.New("restq: rate limited")

	// ErrFetchDisabled is returned when a fetch runs with Enabled(false)
	ErrFetchDisabled = errors.New("restq: fetch disabled")

	// ErrCancelled is returned when a confirmer declines a mutation
	ErrCancelled = errors.New("restq: mutation cancelled")

	// ErrMissingData is returned when an envelope lacks the data field
	ErrMissingData = errors.New("restq: envelope missing data field")
)

// Error is the typed error returned by restq operations. Kind carries the
// taxonomy, StatusCode the envelope (or HTTP) status when one was observed.
type Error struct {
	Kind       string
	Message    string
	Cause      error
	StatusCode int
	Method     string
	URL        string
	RequestID  string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry. Network errors, 5xx responses, rate limiting and
// an open breaker are transient; protocol, auth, validation and cancelled
// failures are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var rqErr *Error
	if errors.As(err, &rqErr) {
		switch rqErr.Kind {
		case KindTransport, KindRateLimit, KindCircuitOpen:
			return true
		case KindProtocol:
			// 429 Too Many Requests and 5xx envelopes are worth one more try.
			return rqErr.StatusCode == 429 || rqErr.StatusCode >= 500
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
