// Package apperrors defines the error kinds surfaced to API callers.
//
// Services return errors built with NotFound, Validation, Conflict,
// Unauthorized, Forbidden or Upstream. Handlers map them to HTTP status codes
// with HTTPStatus. Any other error is treated as internal.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream error")
)

// Error pairs an error kind with a message that is safe to return to callers.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error   { return newf(ErrNotFound, format, args...) }
func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }
func Conflict(format string, args ...any) error   { return newf(ErrConflict, format, args...) }
func Forbidden(format string, args ...any) error  { return newf(ErrForbidden, format, args...) }

func Unauthorized(format string, args ...any) error {
	return newf(ErrUnauthorized, format, args...)
}

// Upstream wraps a provider failure, keeping the provider's message.
func Upstream(err error) error {
	return &Error{Kind: ErrUpstream, Message: err.Error()}
}

// HTTPStatus maps an error to its response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsInternal reports whether err carries no known kind.
func IsInternal(err error) bool {
	return HTTPStatus(err) == http.StatusInternalServerError
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if IsInternal(err) {
		return "internal server error"
	}
	return err.Error()
}
