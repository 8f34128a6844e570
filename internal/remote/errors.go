package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from the storage API.
type StatusError struct {
	// Op names the client call, e.g. "save blocks".
	Op string
	// Status is the HTTP status code.
	Status int
	// Body holds the first bytes of the response body, for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

// IsProvisioning reports whether err is a 501 table-provisioning response.
func IsProvisioning(err error) bool {
	return StatusOf(err) == http.StatusNotImplemented
}

// StatusOf returns the HTTP status carried by err, or 0 if there is none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsTransient reports whether a fetch failure is worth retrying.
// Network errors, 429 and 5xx other than 501 are transient; context
// cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status := StatusOf(err)
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusNotImplemented:
		return false
	case status >= 500:
		return true
	default:
		return false
	}
}
