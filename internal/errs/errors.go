// Package errs defines the error taxonomy shared by the store, the engine and
// the HTTP/WebSocket handlers. Callers wrap these sentinels with fmt.Errorf
// and classify them with errors.Is.
package errs

import "errors"

var (
	// ErrValidation rejects a single event or request; nothing is applied.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when an edit or delete references an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrTransport means a connection could not be written to.
	ErrTransport = errors.New("transport error")
	// ErrPersistence means a durable write or read failed.
	ErrPersistence = errors.New("persistence error")

	ErrNotAuthenticated = errors.New("login required")
	ErrSessionClosed    = errors.New("session closed")
)

// IsClientError reports whether err was caused by the request itself rather
// than by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrSessionClosed)
}
