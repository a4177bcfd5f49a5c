package relay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"

	"github.com/Veraticus/ollamacord/internal/ollama"
	"github.com/Veraticus/ollamacord/internal/relay"
	"github.com/Veraticus/ollamacord/internal/render"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want relay.ErrorKind
	}{
		{name: "nil", err: nil, want: relay.ErrorKindNone},
		{name: "turn timeout", err: fmt.Errorf("%w after 5m0s", relay.ErrTurnTimeout), want: relay.ErrorKindTimeout},
		{
			name: "deadline inside connection error",
			err:  &ollama.ConnectionError{Op: "read stream", Err: context.DeadlineExceeded},
			want: relay.ErrorKindTimeout,
		},
		{
			name: "canceled inside connection error",
			err:  &ollama.ConnectionError{Op: "read stream", Err: context.Canceled},
			want: relay.ErrorKindCancelled,
		},
		{name: "status", err: &ollama.StatusError{Code: 404, Body: "model not found"}, want: relay.ErrorKindBackendStatus},
		{name: "stream error", err: &ollama.StreamError{Message: "oom"}, want: relay.ErrorKindBackendStatus},
		{
			name: "connection",
			err:  fmt.Errorf("wrapped: %w", &ollama.ConnectionError{Op: "request", Err: errors.New("refused")}),
			want: relay.ErrorKindBackendConnection,
		},
		{
			name: "aggregated delivery",
			err: multierr.Combine(
				&relay.DeliveryError{Index: 0, Op: render.OpEdit, Err: errors.New("a")},
				&relay.DeliveryError{Index: 1, Op: render.OpCreate, Err: errors.New("b")},
			),
			want: relay.ErrorKindDelivery,
		},
		{name: "truncated", err: relay.ErrStreamTruncated, want: relay.ErrorKindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relay.Classify(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, relay.UserMessage(nil))
	assert.Contains(t, relay.UserMessage(&ollama.ConnectionError{Op: "request", Err: errors.New("x")}), "Ollama")
	assert.Contains(t, relay.UserMessage(relay.ErrTurnTimeout), "too long")
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("missing access")
	err := &relay.DeliveryError{Index: 2, Op: render.OpCreate, Err: cause}

	assert.Equal(t, "create chunk 2: missing access", err.Error())
	assert.ErrorIs(t, err, cause)
}
