package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss  = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrDuplicateVersion     = New("DUPLICATE_VERSION", http.StatusConflict, "version already registered")
	ErrUnknownVersion       = New("UNKNOWN_VERSION", http.StatusBadRequest, "version not registered")
	ErrInvalidVersionFormat = New("INVALID_VERSION_FORMAT", http.StatusBadRequest, "version must be of the form MAJOR.MINOR.PATCH")
	ErrNotInitialized       = New("NOT_INITIALIZED", http.StatusConflict, "traffic router not initialized")
	ErrNoStableVersion      = New("NO_STABLE_VERSION", http.StatusPreconditionFailed, "no stable version available to roll back to")
	ErrCannotRollbackStable = New("CANNOT_ROLLBACK_STABLE", http.StatusPreconditionFailed, "cannot roll back the stable version itself")
	ErrConnectionExhausted  = New("CONNECTION_EXHAUSTED", http.StatusServiceUnavailable, "connection attempts exhausted")
	ErrShiftInProgress      = New("SHIFT_IN_PROGRESS", http.StatusConflict, "a traffic shift is already running for this service")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target. Predefined errors
// are matched by code so wrapped and cloned instances still compare equal.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	e := FromError(err)
	return e.Code == target.Code
}
