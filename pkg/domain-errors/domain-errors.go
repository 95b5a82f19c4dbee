// Package domainerrors carries a stable failure code from stores and
// services up to whichever transport renders it.
package domainerrors

import (
	"errors"
	"time"
)

type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"

	// Capacity and upstream failures. Only CodeRateLimited carries RetryAfter.
	CodeRateLimited Code = "rate_limited"
	CodeUnavailable Code = "unavailable"
	CodeTimeout     Code = "timeout"
)

type Error struct {
	Code       Code
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err,
// &Error{Code: CodeNotFound}) works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == e.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func NewRateLimited(msg string, retryAfter time.Duration) error {
	return &Error{Code: CodeRateLimited, Message: msg, RetryAfter: retryAfter}
}

// Wrap annotates err with msg. An error that already has a code keeps it,
// along with its retry hint; code only applies to uncoded errors.
func Wrap(err error, code Code, msg string) error {
	wrapped := &Error{Code: code, Message: msg, Err: err}
	if inner, ok := as(err); ok {
		wrapped.Code = inner.Code
		wrapped.RetryAfter = inner.RetryAfter
	}
	return wrapped
}

func HasCode(err error, code Code) bool {
	e, ok := as(err)
	return ok && e.Code == code
}

// RetryAfterOf is zero unless err carries a hint.
func RetryAfterOf(err error) time.Duration {
	if e, ok := as(err); ok {
		return e.RetryAfter
	}
	return 0
}

func as(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
