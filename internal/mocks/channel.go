// Package mocks provides test doubles for the relay and bot packages.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/ollamacord/internal/relay"
)

// ChannelOp is one recorded call on a Channel.
type ChannelOp struct {
	Kind    string // "send" or "edit"
	Handle  relay.Handle
	Content string
	Err     error
}

// Channel is a relay.Channel that keeps every message in memory and records every call.
type Channel struct {
	mu       sync.Mutex
	order    []relay.Handle
	contents map[relay.Handle]string
	ops      []ChannelOp
	next     int

	// failures keyed by the 1-based call number of each kind
	sendFailures map[int]error
	editFailures map[int]error
	sends        int
	edits        int
	gone         map[relay.Handle]bool
	rejectDone   bool
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{
		contents:     make(map[relay.Handle]string),
		sendFailures: make(map[int]error),
		editFailures: make(map[int]error),
		gone:         make(map[relay.Handle]bool),
	}
}

// FailSend makes the n-th Send call (1-based) return err.
func (c *Channel) FailSend(n int, err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendFailures[n] = err
	return c
}

// FailEdit makes the n-th Edit call (1-based) return err.
func (c *Channel) FailEdit(n int, err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editFailures[n] = err
	return c
}

// RejectDone makes Send and Edit fail with the context's error once ctx is done, as a
// real network client would.
func (c *Channel) RejectDone() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectDone = true
	return c
}

// Delete removes a message as a user would; later edits report relay.ErrMessageGone.
func (c *Channel) Delete(h relay.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gone[h] = true
}

// Send implements relay.Channel.
func (c *Channel) Send(ctx context.Context, content string) (relay.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sends++
	err, failed := c.sendFailures[c.sends]
	if c.rejectDone && ctx.Err() != nil {
		err, failed = ctx.Err(), true
	}
	if failed {
		c.ops = append(c.ops, ChannelOp{Kind: "send", Content: content, Err: err})
		return "", err
	}

	c.next++
	h := relay.Handle(fmt.Sprintf("msg-%d", c.next))
	c.order = append(c.order, h)
	c.contents[h] = content
	c.ops = append(c.ops, ChannelOp{Kind: "send", Handle: h, Content: content})
	return h, nil
}

// Edit implements relay.Channel.
func (c *Channel) Edit(ctx context.Context, h relay.Handle, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.edits++
	err, failed := c.editFailures[c.edits]
	switch {
	case failed:
	case c.rejectDone && ctx.Err() != nil:
		err = ctx.Err()
	case c.gone[h]:
		err = relay.ErrMessageGone
	case !c.has(h):
		err = fmt.Errorf("unknown message %s", h)
	}
	c.ops = append(c.ops, ChannelOp{Kind: "edit", Handle: h, Content: content, Err: err})
	if err != nil {
		return err
	}

	c.contents[h] = content
	return nil
}

func (c *Channel) has(h relay.Handle) bool {
	_, ok := c.contents[h]
	return ok
}

// Visible returns the contents of messages that were not deleted, in send order.
func (c *Channel) Visible() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.order))
	for _, h := range c.order {
		if !c.gone[h] {
			out = append(out, c.contents[h])
		}
	}
	return out
}

// Content returns the current content of a message.
func (c *Channel) Content(h relay.Handle) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contents[h]
}

// Ops returns every recorded call.
func (c *Channel) Ops() []ChannelOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChannelOp(nil), c.ops...)
}

// Counts returns how many sends and edits were attempted.
func (c *Channel) Counts() (sends, edits int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends, c.edits
}

var _ relay.Channel = (*Channel)(nil)
