package relay

import (
	"context"
	"errors"
)

// Handle identifies a message previously sent through a Channel.
type Handle string

// ErrMessageGone is returned by Channel.Edit when the message no longer exists, e.g.
// because the user dismissed or deleted it. The relay re-sends the content.
var ErrMessageGone = errors.New("message no longer exists")

// Channel is the platform capability a turn renders into.
type Channel interface {
	// Send posts a new message and returns its handle.
	Send(ctx context.Context, content string) (Handle, error)
	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, h Handle, content string) error
}
