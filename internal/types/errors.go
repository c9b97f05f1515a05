package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies API errors for the HTTP boundary and the CLI.
type ErrorKind string

const (
	ErrValidation   ErrorKind = "validation"
	ErrNotFound     ErrorKind = "not_found"
	ErrCycle        ErrorKind = "cycle"
	ErrRebuilding   ErrorKind = "rebuilding"
	ErrConfig       ErrorKind = "config_missing"
	ErrShuttingDown ErrorKind = "shutting_down"
	ErrInternal     ErrorKind = "internal"
)

// Error is the API-surface error. Git failures never become Errors on the
// write path; they are reported through availability events instead.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps the kind to the wire status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrCycle:
		return http.StatusConflict
	case ErrRebuilding, ErrConfig, ErrShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Cyclef builds a CycleError naming both endpoints.
func Cyclef(needing, needed string) *Error {
	return &Error{
		Kind:    ErrCycle,
		Message: fmt.Sprintf("dependency %s -> %s would create a cycle", needing, needed),
	}
}

// KindOf extracts the error kind, defaulting to internal for plain errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// StatusOf maps any error to an HTTP status code.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
