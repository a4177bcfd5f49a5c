package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Veraticus/ollamacord/internal/bot"
	"github.com/Veraticus/ollamacord/internal/relay"
	"github.com/Veraticus/ollamacord/internal/render"
)

// restClient is the part of *discordgo.Session used to answer interactions.
type restClient interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageEdit(i *discordgo.Interaction, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// responder answers one interaction with ephemeral messages.
type responder struct {
	rest        restClient
	interaction *discordgo.Interaction

	mu sync.Mutex
	// acknowledged is set once the initial response (deferred or not) was sent;
	// every message after that is a followup.
	acknowledged bool
}

func newResponder(rest restClient, i *discordgo.Interaction) *responder {
	return &responder{rest: rest, interaction: i}
}

// Defer implements bot.Responder.
func (r *responder) Defer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.acknowledged {
		return nil
	}
	err := r.rest.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	r.acknowledged = true
	return nil
}

// Reply implements bot.Responder. Long replies are split across several messages.
func (r *responder) Reply(ctx context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, chunk := range render.Partition(content, render.DefaultLimit) {
		if err := r.replyLocked(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *responder) replyLocked(ctx context.Context, content string) error {
	if r.acknowledged {
		_, err := r.rest.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		return err
	}

	err := r.rest.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	r.acknowledged = true
	return nil
}

// Stream implements bot.Responder.
func (r *responder) Stream() relay.Channel {
	return &followups{rest: r.rest, interaction: r.interaction}
}

var _ bot.Responder = (*responder)(nil)

// followups renders a streamed response as ephemeral followup messages.
type followups struct {
	rest        restClient
	interaction *discordgo.Interaction
}

// Send implements relay.Channel.
func (f *followups) Send(ctx context.Context, content string) (relay.Handle, error) {
	msg, err := f.rest.FollowupMessageCreate(f.interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return relay.Handle(msg.ID), nil
}

// Edit implements relay.Channel.
func (f *followups) Edit(ctx context.Context, h relay.Handle, content string) error {
	_, err := f.rest.FollowupMessageEdit(f.interaction, string(h), &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))
	if isUnknownMessage(err) {
		return errors.Join(relay.ErrMessageGone, err)
	}
	return err
}

var _ relay.Channel = (*followups)(nil)

// isUnknownMessage reports whether Discord no longer has the message.
func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
