package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNoHandler         = "NO_HANDLER"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeSchema            = "SCHEMA_ERROR"
	ErrCodeCollaborator      = "COLLABORATOR_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// RelayError is the structured error type for all relay operations.
type RelayError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RelayError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RelayError.
func NewError(code, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

// NewErrorf creates a new RelayError with a formatted message.
func NewErrorf(code, format string, args ...any) *RelayError {
	return &RelayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *RelayError) WithStep(step string) *RelayError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *RelayError) WithCause(err error) *RelayError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RelayError) WithDetails(details map[string]any) *RelayError {
	e.Details = details
	return e
}

// IsNotFound reports whether err is a RelayError with code NOT_FOUND.
// A snapshot miss on resume must stay distinguishable from a corrupt
// snapshot, so callers branch on this rather than on the message.
func IsNotFound(err error) bool {
	var re *RelayError
	return errors.As(err, &re) && re.Code == ErrCodeNotFound
}
