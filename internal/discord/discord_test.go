package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ollamacord/internal/bot"
	"github.com/Veraticus/ollamacord/internal/relay"
)

type call struct {
	method  string
	kind    discordgo.InteractionResponseType
	id      string
	content string
	flags   discordgo.MessageFlags
}

// fakeREST records interaction REST calls.
type fakeREST struct {
	mu      sync.Mutex
	calls   []call
	next    int
	editErr error
}

func (f *fakeREST) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{method: "respond", kind: resp.Type}
	if resp.Data != nil {
		c.content, c.flags = resp.Data.Content, resp.Data.Flags
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeREST) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("m%d", f.next)
	f.calls = append(f.calls, call{method: "create", id: id, content: data.Content, flags: data.Flags})
	return &discordgo.Message{ID: id}, nil
}

func (f *fakeREST) FollowupMessageEdit(_ *discordgo.Interaction, messageID string, data *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "edit", id: messageID, content: *data.Content})
	if f.editErr != nil {
		return nil, f.editErr
	}
	return &discordgo.Message{ID: messageID}, nil
}

func (f *fakeREST) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestResponder_ReplyWithoutDefer(t *testing.T) {
	rest := &fakeREST{}
	r := newResponder(rest, &discordgo.Interaction{})

	require.NoError(t, r.Reply(context.Background(), "hello"))
	require.NoError(t, r.Reply(context.Background(), "again"))

	assert.Equal(t, []call{
		{method: "respond", kind: discordgo.InteractionResponseChannelMessageWithSource, content: "hello", flags: discordgo.MessageFlagsEphemeral},
		{method: "create", id: "m1", content: "again", flags: discordgo.MessageFlagsEphemeral},
	}, rest.recorded())
}

func TestResponder_DeferThenReply(t *testing.T) {
	rest := &fakeREST{}
	r := newResponder(rest, &discordgo.Interaction{})

	require.NoError(t, r.Defer(context.Background()))
	require.NoError(t, r.Defer(context.Background()), "second defer is a no-op")
	require.NoError(t, r.Reply(context.Background(), "done"))

	assert.Equal(t, []call{
		{method: "respond", kind: discordgo.InteractionResponseDeferredChannelMessageWithSource, flags: discordgo.MessageFlagsEphemeral},
		{method: "create", id: "m1", content: "done", flags: discordgo.MessageFlagsEphemeral},
	}, rest.recorded())
}

func TestResponder_LongReplySplit(t *testing.T) {
	rest := &fakeREST{}
	r := newResponder(rest, &discordgo.Interaction{})
	require.NoError(t, r.Defer(context.Background()))

	require.NoError(t, r.Reply(context.Background(), strings.Repeat("x", 4000)))

	calls := rest.recorded()
	require.Len(t, calls, 4)
	assert.Len(t, calls[1].content, 1900)
	assert.Len(t, calls[2].content, 1900)
	assert.Len(t, calls[3].content, 200)
}

func TestFollowups_SendAndEdit(t *testing.T) {
	rest := &fakeREST{}
	ch := newResponder(rest, &discordgo.Interaction{}).Stream()

	h, err := ch.Send(context.Background(), "part one")
	require.NoError(t, err)
	assert.Equal(t, relay.Handle("m1"), h)

	require.NoError(t, ch.Edit(context.Background(), h, "part one, longer"))
	assert.Equal(t, call{method: "edit", id: "m1", content: "part one, longer"}, rest.recorded()[1])
}

func TestFollowups_EditUnknownMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		gone bool
	}{
		{
			name: "unknown message code",
			err:  &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"}},
			gone: true,
		},
		{
			name: "plain 404",
			err:  &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}},
			gone: true,
		},
		{
			name: "forbidden",
			err:  &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}},
		},
		{
			name: "transport",
			err:  errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rest := &fakeREST{editErr: tt.err}
			ch := newResponder(rest, &discordgo.Interaction{}).Stream()

			err := ch.Edit(context.Background(), "m1", "x")

			require.Error(t, err)
			assert.Equal(t, tt.gone, errors.Is(err, relay.ErrMessageGone))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestApplicationCommands(t *testing.T) {
	cmds := applicationCommands(bot.Commands())
	require.Len(t, cmds, len(bot.Commands()))

	byName := map[string]*discordgo.ApplicationCommand{}
	for _, c := range cmds {
		byName[c.Name] = c
	}

	chat := byName[bot.CommandChat]
	require.NotNil(t, chat)
	require.Len(t, chat.Options, 1)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, chat.Options[0].Type)
	assert.Equal(t, bot.OptionMessage, chat.Options[0].Name)
	assert.True(t, chat.Options[0].Required)

	prompt := byName[bot.CommandSystemPrompt]
	require.NotNil(t, prompt)
	require.Len(t, prompt.Options, 1)
	assert.False(t, prompt.Options[0].Required)

	assert.Empty(t, byName[bot.CommandHelp].Options)
}

func TestInvocation(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: bot.CommandChat,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: bot.OptionMessage, Type: discordgo.ApplicationCommandOptionString, Value: "hi there"},
			{Name: "count", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		},
	}

	t.Run("guild member", func(t *testing.T) {
		i := &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			Data:    data,
			GuildID: "g1",
			Member:  &discordgo.Member{User: &discordgo.User{ID: "1", Username: "bob"}},
		}

		inv := invocation(i, guildName(nil, i.GuildID))

		assert.Equal(t, bot.Invocation{
			Command: bot.CommandChat,
			Options: map[string]string{bot.OptionMessage: "hi there"},
			User:    bot.User{ID: "1", Name: "bob"},
			Guild:   "g1",
		}, inv)
	})

	t.Run("direct message", func(t *testing.T) {
		i := &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: data,
			User: &discordgo.User{ID: "2", Username: "amy"},
		}

		inv := invocation(i, guildName(nil, i.GuildID))

		assert.Equal(t, bot.User{ID: "2", Name: "amy"}, inv.User)
		assert.Empty(t, inv.Guild)
	})
}

func TestGuildName(t *testing.T) {
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{ID: "g1", Name: "Lab"}))

	assert.Equal(t, "Lab", guildName(state, "g1"))
	assert.Equal(t, "g2", guildName(state, "g2"))
	assert.Empty(t, guildName(state, ""))
}

func TestNew_Validates(t *testing.T) {
	_, err := New("", dispatcherFunc(func(context.Context, bot.Invocation, bot.Responder) {}))
	assert.Error(t, err)

	_, err = New("token", nil)
	assert.Error(t, err)

	b, err := New("token", dispatcherFunc(func(context.Context, bot.Invocation, bot.Responder) {}), WithGuildID("g1"))
	require.NoError(t, err)
	assert.Equal(t, "g1", b.guildID)
	assert.Equal(t, discordgo.IntentsGuilds, b.session.Identify.Intents)
}

// failingGateway never connects.
type failingGateway struct {
	opens int
}

func (g *failingGateway) Open() error {
	g.opens++
	return errors.New("gateway unavailable")
}

func (g *failingGateway) Close() error { return nil }

func (g *failingGateway) ApplicationCommandBulkOverwrite(string, string, []*discordgo.ApplicationCommand, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return nil, errors.New("not connected")
}

func TestRun_OpenFailureAllowsRetry(t *testing.T) {
	b, err := New("token", dispatcherFunc(func(context.Context, bot.Invocation, bot.Responder) {}))
	require.NoError(t, err)
	gw := &failingGateway{}
	b.gateway = gw

	for range 2 {
		err := b.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening discord gateway")
	}
	assert.Equal(t, 2, gw.opens)
}

type dispatcherFunc func(ctx context.Context, inv bot.Invocation, resp bot.Responder)

func (f dispatcherFunc) Handle(ctx context.Context, inv bot.Invocation, resp bot.Responder) {
	f(ctx, inv, resp)
}
