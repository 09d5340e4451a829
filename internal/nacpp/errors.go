package nacpp

import (
	"errors"
	"fmt"
)

// ErrCatalogNotFound reports that a named catalog does not exist on this
// installation (404 or empty body). Some catalogs are optional; call sites
// decide whether that is fatal.
var ErrCatalogNotFound = errors.New("nacpp: catalog not found")

// AuthError means the session could not be established or verified: missing
// credentials, a login that produced no session cookie, or a liveness probe
// that came back unauthenticated. Fatal to the whole run, never retried.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nacpp auth: %s: %v", e.Reason, e.Err)
	}
	return "nacpp auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is a non-2xx response after retries are exhausted.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nacpp transport: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("nacpp transport: %s: status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is a malformed XML or JSON response body.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nacpp parse: %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
