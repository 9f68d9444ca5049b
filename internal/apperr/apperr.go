// Package apperr defines the error kinds surfaced by the HTTP layer.
// Every error that crosses a package boundary is either a plain wrapped
// error (treated as Internal) or an *Error carrying one of the kinds below.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry decisions.
type Kind string

const (
	// Validation is a malformed request (HTTP 400).
	Validation Kind = "validation"
	// NotFound is a missing upload, page, or schema (HTTP 404).
	NotFound Kind = "not_found"
	// Conflict is a state-rule violation, e.g. resuming an active upload (HTTP 409).
	Conflict Kind = "conflict"
	// Upstream is an OCR/VLM/LLM/store failure (HTTP 502).
	Upstream Kind = "upstream"
	// Decode is malformed input to the renderer (HTTP 400).
	Decode Kind = "decode"
	// Internal is a bug (HTTP 500).
	Internal Kind = "internal"
)

// Error pairs a kind with a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation, Decode:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
