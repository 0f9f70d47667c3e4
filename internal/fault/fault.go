// Package fault defines the error taxonomy shared by the session core. Every
// error carries a stable machine-readable kind so HTTP handlers and callers
// can branch on the class of failure without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error. Validation, authorization, not-found, and
// conflict errors are caller bugs and never retried; infrastructure errors
// are retryable and never leave partial state behind.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
	KindInternal       Kind = "internal"
)

// Error pairs a kind with a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the human-readable message without the wrapped cause,
// suitable for API responses.
func (e *Error) Message() string {
	return e.Msg
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed or out-of-range request field.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// Unauthorized reports a caller acting outside their authority.
func Unauthorized(format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, format, args...)
}

// NotFound reports an absent session, room, or account.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Conflict reports a state-machine violation or duplicate create.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// Infrastructure wraps a store or external-platform failure. The cause is
// retained for logs but not exposed through Message.
func Infrastructure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInfrastructure, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to internal for
// unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
