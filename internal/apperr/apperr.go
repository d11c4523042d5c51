// Package apperr defines the error taxonomy shared by the query, streaming
// and sync subsystems, and its mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a user-visible failure.
type Kind string

const (
	UnknownField       Kind = "UNKNOWN_FIELD"
	InvalidPagination  Kind = "INVALID_PAGINATION"
	NotFound           Kind = "NOT_FOUND"
	BadRequest         Kind = "BAD_REQUEST"
	Forbidden          Kind = "FORBIDDEN"
	Unsupported        Kind = "UNSUPPORTED"
	UpstreamError      Kind = "UPSTREAM_ERROR"
	Timeout            Kind = "TIMEOUT"
	Conflict           Kind = "CONFLICT"
	ConfigurationError Kind = "CONFIGURATION_ERROR"
)

// Error is a classified error. Every failure surfaced to a client is wrapped
// in one of these; internal errors are translated before leaving a handler.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or ConfigurationError's sibling default:
// any unclassified error is reported as an upstream failure rather than leaked.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return UpstreamError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// HTTPStatus maps every kind to its documented status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case UnknownField, InvalidPagination, BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Unsupported:
		return http.StatusNotImplemented
	case Timeout:
		return http.StatusGatewayTimeout
	case Conflict:
		return http.StatusConflict
	case ConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Message returns the client-safe message for err. Unclassified errors get a
// generic message so internals are never exposed.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "upstream failure"
}
