package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable error category returned to clients.
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindConflict        Kind = "CONFLICT"
	KindInternal        Kind = "INTERNAL"
)

// Error carries a Kind and a client-safe message. Cause is never serialized.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Unauthenticated(msg string) error { return New(KindUnauthenticated, msg) }

func InvalidArgument(msg string) error { return New(KindInvalidArgument, msg) }

func NotFound(msg string) error { return New(KindNotFound, msg) }

func Forbidden(msg string) error { return New(KindForbidden, msg) }

func Conflict(msg string) error { return New(KindConflict, msg) }

// Internal hides cause behind a generic message.
func Internal(cause error) error {
	return Wrap(KindInternal, "internal error", cause)
}

// KindOf reports the Kind of err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the client-facing view of err. Internal details are replaced
// with a generic message.
func Public(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return &Error{Kind: appErr.Kind, Message: appErr.Message}
	}
	return &Error{Kind: KindInternal, Message: "internal error"}
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
