// Package domainerrors provides coded domain errors shared across services.
//
// Stores return sentinel errors (pkg/platform/sentinel) for infrastructure
// facts; services translate those into coded errors from this package so
// handlers can map them onto the HTTP surface without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure kind. Codes are part of the API contract:
// they appear verbatim in error response bodies.
type ErrorCode string

const (
	// Generic transport-level codes.
	CodeBadRequest ErrorCode = "bad_request"
	CodeInternal   ErrorCode = "internal_error"
	CodeTimeout    ErrorCode = "timeout"

	// Workflow failure taxonomy.
	CodeNotFound             ErrorCode = "not_found"
	CodeValidation           ErrorCode = "validation_error"
	CodeInvalidTransition    ErrorCode = "invalid_transition"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeReferentialViolation ErrorCode = "referential_violation"
	CodeStaleState           ErrorCode = "stale_state"

	// Intake-specific codes.
	CodeOrderNotConfirmed     ErrorCode = "order_not_confirmed"
	CodeOrderAlreadyReceipted ErrorCode = "order_already_receipted"
)

// Error is a coded domain error. Message is user-presentable for all codes
// except CodeInternal, which handlers must not echo to clients.
type Error struct {
	code    ErrorCode
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrorCode returns the code carried by this error.
func (e *Error) ErrorCode() ErrorCode { return e.code }

// Message returns the human-readable description without the code prefix.
func (e *Error) Message() string { return e.message }

// New creates a coded error with no underlying cause.
func New(code ErrorCode, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/errors.As.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code extracts the ErrorCode from an error chain. Unrecognized errors map
// to CodeInternal so callers always have a usable code.
func Code(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}
