package routing

import (
	"errors"
	"fmt"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing engine is down, unreachable
	// or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidInput indicates caller-supplied parameters are invalid or
	// self-contradictory. Raised before any network call.
	ErrInvalidInput = errors.New("invalid request input")
)

// APIError is the uniform error shape every adapter reports. For engine API
// errors the HTTP fields and the engine's own error code and message are
// populated; for pre-request validation failures only Provider, Message and
// the wrapped ErrInvalidInput sentinel are set.
type APIError struct {
	// Provider identifies the engine that produced the error.
	Provider string
	// Message is the original, human-readable error message.
	Message string
	// StatusCode is the HTTP status code, 0 for local errors.
	StatusCode int
	// Status is the HTTP reason phrase.
	Status string
	// ErrorCode is the engine-specific error code, if the engine reported one.
	ErrorCode string
	// ErrorMessage is the engine-specific error message.
	ErrorMessage string
	// Err is the wrapped sentinel error.
	Err error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s request failed", e.Provider)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be
// retried by the caller.
func (e *APIError) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

// NewValidationError builds the APIError for a pre-request validation
// failure. No HTTP fields are set because no request was made.
func NewValidationError(provider, message string) *APIError {
	return &APIError{
		Provider: provider,
		Message:  message,
		Err:      ErrInvalidInput,
	}
}
