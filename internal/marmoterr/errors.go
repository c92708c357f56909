// Package marmoterr defines the error kinds from spec section 7 and how
// they map onto HTTP status codes. The handlers in internal/httpapi do not
// use this package; they write their status codes directly.
package marmoterr

import (
	"errors"
	"net/http"
)

// Kind classifies an error the way the HTTP surface and the operator-facing
// logs need to distinguish it.
type Kind int

const (
	// KindUnknown is the zero value; treated as a 500.
	KindUnknown Kind = iota
	// KindConfiguration marks malformed or absent configuration. Fatal at
	// startup.
	KindConfiguration
	// KindAuthentication marks an unknown client/channel, a missing role,
	// or a signature mismatch.
	KindAuthentication
	// KindProtocol marks a malformed request: missing headers, bad JSON.
	KindProtocol
	// KindStore marks a stream-store I/O failure.
	KindStore
)

// Error wraps an underlying cause with a Kind for status-code mapping and
// structured logging.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind carried by err, defaulting to KindUnknown for
// errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a Kind to the status code spec section 7 assigns it.
// KindAuthentication resolves to 403 here; /api/whistle callers don't use
// this mapping at all (per-message authorization is reflected in the
// response body's boolean list, never as an HTTP status).
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindAuthentication:
		return http.StatusForbidden
	case KindProtocol:
		return http.StatusBadRequest
	case KindStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
