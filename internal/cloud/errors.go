package cloud

import (
	"errors"
	"fmt"
)

// Domain-specific errors for portal operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthFailed is returned when the portal rejects the API key or the
	// auth endpoint cannot be reached.
	ErrAuthFailed = errors.New("cloud: authentication failed")

	// ErrDispatchFailed is returned when a device command cannot be delivered.
	ErrDispatchFailed = errors.New("cloud: command dispatch failed")

	// ErrStreamClosed wraps any error that terminates a stream connection.
	ErrStreamClosed = errors.New("cloud: stream closed")

	// ErrMalformedEvent is returned when a stream frame cannot be decoded.
	ErrMalformedEvent = errors.New("cloud: malformed event")

	// ErrUnknownAction is returned when an action is not in the supported set.
	ErrUnknownAction = errors.New("cloud: unknown action")
)

// StatusError reports a non-2xx response from the portal REST API.
// It wraps the sentinel for the failed operation so errors.Is() still works.
type StatusError struct {
	Op     string // "auth", "dispatch", "devices"
	Status int    // HTTP status code
	Body   string // response body, truncated
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cloud: %s returned status %d: %s", e.Op, e.Status, e.Body)
}
