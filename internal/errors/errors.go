// Package errors defines the typed error taxonomy shared by every layer of the
// workflow service. Errors carry a Code that transports map onto HTTP status
// codes and gRPC codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for callers and transports.
type Code string

const (
	ErrCodeValidation   Code = "VALIDATION"
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeForbidden    Code = "FORBIDDEN"
	ErrCodeInvalidState Code = "INVALID_STATE"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeInternal     Code = "INTERNAL"
)

// Error is the concrete error type returned by services and repositories.
type Error struct {
	Code     Code
	Message  string
	Field    string // set for validation errors
	Resource string // set for not-found errors
	ID       string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
		Resource: resource,
		ID:       id,
	}
}

// InvalidInput reports malformed input on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, Field: field}
}

// Forbidden reports that the caller's role lacks a capability.
func Forbidden(message string) *Error {
	return &Error{Code: ErrCodeForbidden, Message: message}
}

// InvalidState reports an operation that is not legal in the current state.
func InvalidState(message string) *Error {
	return &Error{Code: ErrCodeInvalidState, Message: message}
}

// Conflict reports a lost race or a contradicting duplicate request.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// CodeOf returns the code of the first *Error in the chain, or ErrCodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// As is re-exported so callers that import this package as "errors" keep
// access to the standard helpers.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is re-exported for the same reason as As.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func IsValidation(err error) bool   { return CodeOf(err) == ErrCodeValidation }
func IsNotFound(err error) bool     { return CodeOf(err) == ErrCodeNotFound }
func IsForbidden(err error) bool    { return CodeOf(err) == ErrCodeForbidden }
func IsInvalidState(err error) bool { return CodeOf(err) == ErrCodeInvalidState }
func IsConflict(err error) bool     { return CodeOf(err) == ErrCodeConflict }
