package endpoint

import (
	"errors"
	"fmt"
)

// ErrAllEndpointsExhausted is returned when every candidate endpoint failed
var ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

// HTTPError represents a non-2xx HTTP response. The body is preserved so
// callers can interpret structured error payloads (e.g. a 409 conflict).
type HTTPError struct {
	StatusCode int
	URL        string
	Body       []byte
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s", e.StatusCode, e.URL)
}

// DecodeError represents a 2xx response whose payload did not match the
// expected shape. A malformed-but-200 response usually indicates a server
// logic bug, so it propagates instead of advancing to the next candidate.
type DecodeError struct {
	URL string
	Err error
}

// Error returns the error message
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying decode failure
func (e *DecodeError) Unwrap() error {
	return e.Err
}
