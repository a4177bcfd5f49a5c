package ollama

import (
	"errors"
	"fmt"
)

// ErrMalformedLine marks a stream line that could not be decoded. Such lines are
// skipped and counted, never returned to callers.
var ErrMalformedLine = errors.New("malformed stream line")

// ErrClosed is returned for requests issued after Close.
var ErrClosed = errors.New("ollama client closed")

// StatusError is a non-success HTTP response from the backend.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("Ollama returned status %d: %s", e.Code, e.Body)
}

// ConnectionError is a transport failure before or during a request, including
// cancellation of the request context.
type ConnectionError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("error connecting to Ollama (%s): %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StreamError is an error object reported by the backend inside a successful stream,
// e.g. a model that failed to load after the response started.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return "Ollama stream error: " + e.Message
}

// IsStatusError reports whether err is, or wraps, a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsConnectionError reports whether err is, or wraps, a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
