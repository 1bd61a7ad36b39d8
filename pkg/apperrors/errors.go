package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")
	ErrUnknownOperation = errors.New("unknown operation")
)

// AdapterErrorKind classifies failures reported by the advertising platform adapter.
type AdapterErrorKind string

const (
	// AdapterErrorStructural means the request was malformed or rejected by schema validation.
	AdapterErrorStructural AdapterErrorKind = "structural"
	// AdapterErrorTransport means the call never produced a platform answer (network, session, auth handshake).
	AdapterErrorTransport AdapterErrorKind = "transport"
	// AdapterErrorPlatform means the platform answered with a business-rule rejection.
	AdapterErrorPlatform AdapterErrorKind = "platform"
)

// AdapterError is any failure returned by the external advertising platform.
type AdapterError struct {
	Operation string
	Kind      AdapterErrorKind
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Operation != "" {
		b.WriteString(" calling ")
		b.WriteString(e.Operation)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
// Only transport failures are worth retrying, and only before a mutation was sent.
func (e *AdapterError) IsRetryable() bool {
	return e.Kind == AdapterErrorTransport
}

// NewAdapterError creates a new AdapterError.
func NewAdapterError(kind AdapterErrorKind, operation, message string, cause error) *AdapterError {
	return &AdapterError{
		Kind:      kind,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// PartialCompositeError reports child steps of a composite operation that failed
// after the parent entity was created. It is informational: the parent change
// still counts as applied.
type PartialCompositeError struct {
	Operation string
	ParentID  string
	Errors    []string
}

// Error implements the error interface.
func (e *PartialCompositeError) Error() string {
	return fmt.Sprintf("%s created %s with %d failed step(s): %s",
		e.Operation, e.ParentID, len(e.Errors), strings.Join(e.Errors, "; "))
}

// Validationf returns an error wrapping ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidStatef returns an error wrapping ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
