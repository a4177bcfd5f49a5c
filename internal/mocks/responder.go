package mocks

import (
	"context"
	"sync"

	"github.com/Veraticus/ollamacord/internal/activity"
	"github.com/Veraticus/ollamacord/internal/bot"
	"github.com/Veraticus/ollamacord/internal/relay"
)

// Responder is a bot.Responder that records replies and streams into a Channel.
type Responder struct {
	mu       sync.Mutex
	deferred bool
	replies  []string

	// DeferErr and ReplyErr are returned by the corresponding calls when set.
	DeferErr error
	ReplyErr error
	// PanicOnStream makes Stream panic, to exercise the panic boundary.
	PanicOnStream bool

	Channel *Channel
}

// NewResponder creates a responder with an empty channel.
func NewResponder() *Responder {
	return &Responder{Channel: NewChannel()}
}

// Defer implements bot.Responder.
func (r *Responder) Defer(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeferErr != nil {
		return r.DeferErr
	}
	r.deferred = true
	return nil
}

// Reply implements bot.Responder.
func (r *Responder) Reply(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReplyErr != nil {
		return r.ReplyErr
	}
	r.replies = append(r.replies, content)
	return nil
}

// Stream implements bot.Responder.
func (r *Responder) Stream() relay.Channel {
	if r.PanicOnStream {
		panic("stream unavailable")
	}
	return r.Channel
}

// Deferred reports whether Defer succeeded.
func (r *Responder) Deferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred
}

// Replies returns every reply in order.
func (r *Responder) Replies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

// LastReply returns the most recent reply, or "".
func (r *Responder) LastReply() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

var _ bot.Responder = (*Responder)(nil)

// Models is a static bot.ModelLister.
type Models []string

// ListModels implements bot.ModelLister.
func (m Models) ListModels(context.Context) []string {
	return append([]string{}, m...)
}

// Sink is an activity.Sink that keeps entries in memory.
type Sink struct {
	mu      sync.Mutex
	entries []activity.Entry
	closed  bool
}

// Record implements activity.Sink.
func (s *Sink) Record(_ context.Context, e activity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Close implements activity.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Entries returns every recorded entry.
func (s *Sink) Entries() []activity.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]activity.Entry(nil), s.entries...)
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ activity.Sink = (*Sink)(nil)
