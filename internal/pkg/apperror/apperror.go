// Package apperror carries the error taxonomy shared by the trust and payment
// services. Services return *Error values; the HTTP layer maps the Kind to a
// status code and renders {"error": code, "message": text}.
package apperror

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error   { return newError(KindValidation, code, msg) }
func Unauthorized(code, msg string) *Error { return newError(KindUnauthorized, code, msg) }
func Forbidden(code, msg string) *Error    { return newError(KindForbidden, code, msg) }
func NotFound(code, msg string) *Error     { return newError(KindNotFound, code, msg) }
func Conflict(code, msg string) *Error     { return newError(KindConflict, code, msg) }
func Unavailable(code, msg string) *Error  { return newError(KindUnavailable, code, msg) }

func RateLimited(msg string, retryAfter time.Duration) *Error {
	e := newError(KindRateLimited, "rate_limited", msg)
	e.RetryAfter = retryAfter
	return e
}

// Internal wraps an unexpected backend failure. The message is safe to show;
// the cause is only logged.
func Internal(msg string, cause error) *Error {
	e := newError(KindInternal, "internal_error", msg)
	e.Err = cause
	return e
}

// KindOf reports the kind of err; errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
