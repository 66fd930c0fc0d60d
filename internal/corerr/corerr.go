// Package corerr defines the typed error-kind scheme returned by every
// engine (spec.md §7). A collaborator HTTP layer maps Kind to a stable
// status code without this module importing net/http.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	BadRequest     Kind = "BadRequest"
	NotFound       Kind = "NotFound"
	Unavailable    Kind = "Unavailable"
	BidTooLow      Kind = "BidTooLow"
	Conflict       Kind = "Conflict"
	LockUnavailable Kind = "LockUnavailable"
	RateLimited    Kind = "RateLimited"
	Forbidden      Kind = "Forbidden"
	Internal       Kind = "Internal"
)

// Error wraps a cause with a Kind and optional machine-readable hints.
// At most one of the hint fields is populated, by the constructor matching
// the Kind that set it; New and Newf leave all of them zero.
type Error struct {
	kind           Kind
	cause          error
	AvailableRooms int
	Minimum        int64
	RetryAfterMS   int64
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.kind, e.cause)
	}
	return string(e.kind)
}

func (e *Error) Unwrap() error { return e.cause }

// KindValue returns the error kind. Callers use corerr.KindOf(err), below.
func (e *Error) KindValue() Kind { return e.kind }

func newErr(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

// New wraps cause with a bare Kind (no hint fields).
func New(kind Kind, cause error) *Error { return newErr(kind, cause) }

// Newf builds a Kind error from a format string, with no wrapped cause.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return newErr(kind, fmt.Errorf(format, args...))
}

// WrapUnavailable builds an Unavailable error carrying the current count of
// free units, surfaced to callers as a 409 with an availableRooms hint.
func WrapUnavailable(available int) *Error {
	e := newErr(Unavailable, fmt.Errorf("only %d available", available))
	e.AvailableRooms = available
	return e
}

// WrapBidTooLow builds a BidTooLow error carrying the minimum acceptable bid.
func WrapBidTooLow(minimum int64) *Error {
	e := newErr(BidTooLow, fmt.Errorf("bid below minimum %d", minimum))
	e.Minimum = minimum
	return e
}

// WrapRateLimited builds a RateLimited error carrying a retry-after hint.
func WrapRateLimited(retryAfterMS int64) *Error {
	e := newErr(RateLimited, fmt.Errorf("rate limited, retry after %dms", retryAfterMS))
	e.RetryAfterMS = retryAfterMS
	return e
}

// As reports whether err is (or wraps) a *corerr.Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is a *corerr.Error, else Internal.
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.kind
	}
	return Internal
}
