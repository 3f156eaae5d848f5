package source

import (
	"errors"
	"fmt"
)

// Kind classifies a source failure. The sync loop keys its skip policy off
// this: unauthorized skips the source for the run, rate-limited and
// transient skip the item, not-found is an empty result upstream and never
// reaches callers as an error.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "notfound"
	KindTransient    Kind = "transient"
	KindRateLimited  Kind = "ratelimited"
)

// Error is a typed failure from one source call.
type Error struct {
	Source string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(src string, kind Kind, err error) *Error {
	return &Error{Source: src, Kind: kind, Err: err}
}

func kindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsUnauthorized reports whether the source denied the whole call.
func IsUnauthorized(err error) bool { return kindOf(err) == KindUnauthorized }

// IsTransient reports whether the failure is worth retrying.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsRateLimited reports whether the source signalled throttling.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }
