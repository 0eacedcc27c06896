// Package apperr defines the error taxonomy shared by the ledger, the risk
// gate, the canary controller and the HTTP surface.
//
// Every rejection carries a machine-readable Code, a human-readable Message
// and, where the caller is expected to back off, a RetryAfter hint.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code categorizes an error for callers and for the HTTP layer.
type Code string

const (
	// CodeValidation indicates bad input.
	CodeValidation Code = "VALIDATION"

	// CodeLimitExceeded indicates a risk threshold breach.
	CodeLimitExceeded Code = "LIMIT_EXCEEDED"

	// CodeCircuitOpen indicates the breaker is open and an operator must close it.
	CodeCircuitOpen Code = "CIRCUIT_OPEN"

	// CodeDuplicateInFlight indicates another caller holds the idempotency key.
	CodeDuplicateInFlight Code = "DUPLICATE_IN_FLIGHT"

	// CodeOperationFailure indicates the wrapped action failed earlier.
	CodeOperationFailure Code = "OPERATION_FAILURE"

	// CodeTimeout indicates the wrapped action ran past its deadline.
	CodeTimeout Code = "TIMEOUT"

	// CodeDriftCritical indicates promotion was blocked by drift.
	CodeDriftCritical Code = "DRIFT_CRITICAL"
)

// Error is the structured error returned across component boundaries.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Status overrides the HTTP status derived from Code when non-zero.
	Status int

	// RetryAfter is the backoff hint, zero when none applies.
	RetryAfter time.Duration

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error to a response status.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeLimitExceeded:
		return http.StatusBadRequest
	case CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeDuplicateInFlight, CodeOperationFailure:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeDriftCritical:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns err's Code, or "" when err carries none.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// Is reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// RetryAfterOf returns the retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	if ae, ok := As(err); ok {
		return ae.RetryAfter
	}
	return 0
}
