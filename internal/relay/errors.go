package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/ollamacord/internal/ollama"
	"github.com/Veraticus/ollamacord/internal/render"
)

var (
	// ErrTurnTimeout marks a turn cut short by the configured turn timeout.
	ErrTurnTimeout = errors.New("turn timed out")
	// ErrStreamTruncated is reported when a generator closes its stream without a
	// terminal event.
	ErrStreamTruncated = errors.New("stream ended without a terminal event")
)

// DeliveryError is a failed send or edit of one chunk.
type DeliveryError struct {
	Index int
	Op    render.OpKind
	Err   error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s chunk %d: %v", e.Op, e.Index, e.Err)
}

// Unwrap returns the channel error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrorKind is a coarse error class used for logs and user-facing text.
type ErrorKind int

const (
	// ErrorKindNone means there was no error.
	ErrorKindNone ErrorKind = iota
	// ErrorKindTimeout is a turn that ran out of time.
	ErrorKindTimeout
	// ErrorKindCancelled is a turn whose context was canceled.
	ErrorKindCancelled
	// ErrorKindBackendConnection is a transport failure talking to Ollama.
	ErrorKindBackendConnection
	// ErrorKindBackendStatus is an error reported by Ollama itself.
	ErrorKindBackendStatus
	// ErrorKindDelivery is a failure to send or edit a platform message.
	ErrorKindDelivery
	// ErrorKindUnexpected is anything else.
	ErrorKindUnexpected
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindCancelled:
		return "cancelled"
	case ErrorKindBackendConnection:
		return "backend_connection"
	case ErrorKindBackendStatus:
		return "backend_status"
	case ErrorKindDelivery:
		return "delivery"
	default:
		return "unexpected"
	}
}

// Classify determines the kind of err. Context errors win over the transport errors
// that wrap them.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	if errors.Is(err, ErrTurnTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}

	var (
		streamErr *ollama.StreamError
		delivErr  *DeliveryError
	)
	switch {
	case ollama.IsStatusError(err), errors.As(err, &streamErr):
		return ErrorKindBackendStatus
	case ollama.IsConnectionError(err):
		return ErrorKindBackendConnection
	case errors.As(err, &delivErr):
		return ErrorKindDelivery
	default:
		return ErrorKindUnexpected
	}
}

// userMessages are the friendly texts for each kind.
var userMessages = map[ErrorKind]string{
	ErrorKindTimeout:           "The response took too long and was stopped. Try a shorter question or /clear_context.",
	ErrorKindCancelled:         "The request was canceled.",
	ErrorKindBackendConnection: "I couldn't reach Ollama. Make sure it is running and try again.",
	ErrorKindBackendStatus:     "Ollama rejected the request. Check that the model is available with /list_models.",
	ErrorKindDelivery:          "Some messages could not be delivered to Discord.",
	ErrorKindUnexpected:        "Something unexpected went wrong. Please try again.",
}

// UserMessage returns a friendly explanation for err, or "" for nil.
func UserMessage(err error) string {
	return userMessages[Classify(err)]
}
