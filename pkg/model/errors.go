package model

import "fmt"

// BackendError reports a non-success response from the model backend. It is
// always returned as a typed error so that callers can distinguish
// transport failure from malformed-but-delivered output, and it retains the
// raw payload for diagnostics.
type BackendError struct {
	// Status is the HTTP status code reported by the backend, or 0 when the
	// request never reached it.
	Status int

	// Payload is the raw response body, possibly truncated by the adapter.
	Payload string
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("model: backend unreachable: %s", e.Payload)
	}
	return fmt.Sprintf("model: backend returned status %d: %s", e.Status, e.Payload)
}
