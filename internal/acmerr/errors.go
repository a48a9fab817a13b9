package acmerr

import (
	"errors"
	"fmt"
)

// Kind classifies the failures the service boundary exposes. Callers only
// ever see one of these three; lower-level errors are wrapped.
type Kind int

const (
	// KindInvalidRequest marks malformed or unsatisfiable input.
	KindInvalidRequest Kind = iota + 1
	// KindObjectNotFound marks a reference to an entity that does not exist.
	KindObjectNotFound
	// KindInternal marks an unexpected lower-level failure.
	KindInternal
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindObjectNotFound:
		return "ObjectNotFound"
	case KindInternal:
		return "SystemInternalError"
	default:
		return "Unknown"
	}
}

// Error is the typed error that crosses the service boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Invalidf creates an InvalidRequest error
func Invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates an ObjectNotFound error
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindObjectNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected error as a SystemInternalError
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// Wrap converts err for the service boundary. Domain kinds pass through
// unchanged; anything else becomes a SystemInternalError.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(err)
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsInvalidRequest reports whether err is an InvalidRequest error
func IsInvalidRequest(err error) bool {
	return KindOf(err) == KindInvalidRequest
}

// IsNotFound reports whether err is an ObjectNotFound error
func IsNotFound(err error) bool {
	return KindOf(err) == KindObjectNotFound
}
