// Package obserr defines GrepWise's closed set of error kinds and the
// HTTP status each one maps to. It is adapted from the teacher's
// infrastructure/errors ServiceError: same Error/Unwrap/WithDetails
// shape, but the open-ended category-prefixed error codes are replaced
// by the fixed Kind enum spec §7 names.
package obserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enumeration of the error categories spec §7 names.
// Every user-visible core operation returns an error of one of these
// kinds (wrapped in *Error) instead of a bare error.
type Kind string

const (
	Validation   Kind = "VALIDATION"
	NotFoundKind Kind = "NOT_FOUND"
	Conflict     Kind = "CONFLICT"
	Unauthorized Kind = "UNAUTHORIZED"
	Forbidden    Kind = "FORBIDDEN"
	TransientIO  Kind = "TRANSIENT_IO"
	ParseFailure Kind = "PARSE_FAILURE"
	Timeout      Kind = "TIMEOUT"
	Internal     Kind = "INTERNAL"
)

// httpStatus maps each Kind to the HTTP status spec §7 names.
var httpStatus = map[Kind]int{
	Validation:   http.StatusBadRequest,
	NotFoundKind: http.StatusNotFound,
	Conflict:     http.StatusConflict,
	Unauthorized: http.StatusUnauthorized,
	Forbidden:    http.StatusForbidden,
	TransientIO:  http.StatusInternalServerError,
	ParseFailure: http.StatusInternalServerError,
	Timeout:      http.StatusGatewayTimeout,
	Internal:     http.StatusInternalServerError,
}

// Error is GrepWise's structured error type: a Kind, a human message,
// optional structured Details, and an optionally wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured key/value to the error and returns
// it for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the status code this error's Kind maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ValidationErr reports a request/record that failed field validation.
func ValidationErr(field, reason string) *Error {
	return New(Validation, fmt.Sprintf("%s: %s", field, reason)).WithDetails("field", field)
}

// NotFound reports a missing resource by kind and id.
func NotFound(resource, id string) *Error {
	return New(NotFoundKind, fmt.Sprintf("%s %q not found", resource, id)).
		WithDetails("resource", resource).WithDetails("id", id)
}

// ConflictErr reports a uniqueness or state conflict (e.g. duplicate alarm name).
func ConflictErr(resource, field, value string) *Error {
	return New(Conflict, fmt.Sprintf("%s: %s %q already in use", resource, field, value)).
		WithDetails("resource", resource).WithDetails(field, value)
}

// UnauthorizedErr reports a missing or invalid ingestion credential.
func UnauthorizedErr(message string) *Error {
	return New(Unauthorized, message)
}

// ForbiddenErr reports an authenticated caller lacking permission.
func ForbiddenErr(message string) *Error {
	return New(Forbidden, message)
}

// TransientIOErr wraps a retryable I/O failure (disk, network) for an operation.
func TransientIOErr(op string, err error) *Error {
	return Wrap(TransientIO, fmt.Sprintf("transient failure during %s", op), err)
}

// ParseFailureErr reports a line that no parser (including the generic
// fallback) could turn into a complete record.
func ParseFailureErr(reason string) *Error {
	return New(ParseFailure, reason)
}

// TimeoutErr reports a deadline exceeded for a named operation.
func TimeoutErr(operation string) *Error {
	return New(Timeout, fmt.Sprintf("%s timed out", operation)).WithDetails("operation", operation)
}

// InternalErr wraps an unexpected failure with no more specific kind.
func InternalErr(message string, err error) *Error {
	return Wrap(Internal, message, err)
}

// As reports whether err is (or wraps) an *Error, populating target.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// GetKind returns the Kind of err if it is an *Error, and Internal otherwise.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// GetHTTPStatus returns the HTTP status err maps to, defaulting to 500
// for errors that are not *Error.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
