// Package apperr defines the error kinds surfaced to callers of the dispatch core.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindProviderFailure Kind = "provider_failure"
	KindUnauthorized    Kind = "unauthorized"
)

// Error is a classified error with a stable wire code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// sentinels below regardless of code or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrRateLimited     = &Error{Kind: KindRateLimited, Code: "rate_limited", Msg: "rate limited"}
	ErrQuotaExceeded   = &Error{Kind: KindQuotaExceeded, Code: "quota_exceeded", Msg: "monthly submission quota exceeded"}
	ErrNotFound        = &Error{Kind: KindNotFound, Code: "not_found", Msg: "not found"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Code: "invalid_state", Msg: "invalid state"}
	ErrProviderFailure = &Error{Kind: KindProviderFailure, Code: "send_failed", Msg: "provider failure"}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Code: "unauthorized", Msg: "unauthorized"}
)

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Msg: msg}
}

func InvalidState(code, msg string) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Msg: msg}
}

func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Msg: msg}
}

func QuotaExceeded(msg string) *Error {
	return &Error{Kind: KindQuotaExceeded, Code: "quota_exceeded", Msg: msg}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Code: "rate_limited", Msg: msg}
}

func ProviderFailure(msg string, err error) *Error {
	return &Error{Kind: KindProviderFailure, Code: "send_failed", Msg: msg, Err: err}
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
