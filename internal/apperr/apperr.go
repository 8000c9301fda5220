// Package apperr defines the business-error taxonomy shared by both
// transports. Every operation boundary recovers one of these kinds and maps
// it to a stable caller-visible result; anything else is treated as an
// unexpected infrastructure failure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	// KindValidation - malformed or missing input.
	KindValidation Kind = iota
	// KindNotFound - conversation/message/user/event absent.
	KindNotFound
	// KindForbidden - authenticated but not authorized for the action.
	KindForbidden
	// KindConflict - state-transition violation (e.g. editing a deleted message).
	KindConflict
	// KindTransient - store or fan-out temporarily unavailable.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient_error"
	}
	return "unknown"
}

// Error is a classified application error with a human-readable message that
// is safe to return to callers.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a KindForbidden error.
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure. The original error is retained
// for logging but never leaks to callers.
func Transient(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from err, or KindTransient when err is not a
// classified application error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// MessageOf returns the caller-safe message for err. Unclassified errors get
// a generic message so internal detail never leaks.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
