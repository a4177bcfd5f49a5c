// Package discord connects the command handlers to Discord: it owns the gateway
// session, registers the slash commands, and turns interactions into bot invocations.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Veraticus/ollamacord/internal/bot"
)

const (
	// DefaultReadyTimeout bounds the wait for the gateway READY event.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultShutdownGrace is how long running turns may finish after shutdown starts.
	DefaultShutdownGrace = 10 * time.Second
)

// Dispatcher serves invocations.
type Dispatcher interface {
	Handle(ctx context.Context, inv bot.Invocation, resp bot.Responder)
}

// gateway is the connection-level part of *discordgo.Session.
type gateway interface {
	Open() error
	Close() error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Bot is a Discord gateway connection serving slash commands.
type Bot struct {
	session       *discordgo.Session
	gateway       gateway
	handler       Dispatcher
	logger        *zap.Logger
	guildID       string
	readyTimeout  time.Duration
	shutdownGrace time.Duration

	ready chan *discordgo.Ready

	mu       sync.Mutex
	running  bool
	stopping bool
	baseCtx  context.Context
	inFlight sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithGuildID registers commands to a single guild, where they appear immediately,
// instead of globally.
func WithGuildID(id string) Option {
	return func(b *Bot) {
		b.guildID = id
	}
}

// WithShutdownGrace sets how long in-flight interactions may run after shutdown
// begins before they are canceled.
func WithShutdownGrace(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.shutdownGrace = d
		}
	}
}

// New creates a bot for the given token. Nothing connects until Run.
func New(token string, handler Dispatcher, opts ...Option) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		session:       s,
		gateway:       s,
		handler:       handler,
		logger:        zap.NewNop(),
		readyTimeout:  DefaultReadyTimeout,
		shutdownGrace: DefaultShutdownGrace,
		ready:         make(chan *discordgo.Ready, 1),
	}
	for _, opt := range opts {
		opt(b)
	}

	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteraction)
	return b, nil
}

// Run connects, registers the commands, and serves interactions until ctx is done.
// On return the gateway is closed and every interaction handler has exited.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	b.baseCtx = baseCtx
	b.mu.Unlock()

	if err := b.gateway.Open(); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	defer func() {
		if err := b.gateway.Close(); err != nil {
			b.logger.Warn("Error closing discord session", zap.Error(err))
		}
	}()

	var ready *discordgo.Ready
	select {
	case ready = <-b.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.readyTimeout):
		return fmt.Errorf("no READY from discord after %s", b.readyTimeout)
	}

	if err := b.register(ctx, ready.User.ID); err != nil {
		return err
	}

	b.logger.Info("Discord bot ready",
		zap.String("user", ready.User.Username),
		zap.Int("guilds", len(ready.Guilds)))

	<-ctx.Done()
	b.logger.Info("Discord bot stopping")
	b.drain(cancelBase)
	return nil
}

// drain waits for in-flight interactions, canceling them once the grace period ends.
func (b *Bot) drain(cancel context.CancelFunc) {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(b.shutdownGrace):
		b.logger.Warn("Canceling interactions still running after grace period", zap.Duration("grace", b.shutdownGrace))
		cancel()
	}
	<-done
}

func (b *Bot) register(ctx context.Context, appID string) error {
	cmds, err := b.gateway.ApplicationCommandBulkOverwrite(appID, b.guildID, applicationCommands(bot.Commands()), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}

	scope := "global"
	if b.guildID != "" {
		scope = "guild " + b.guildID
	}
	b.logger.Info("Slash commands registered", zap.Int("count", len(cmds)), zap.String("scope", scope))
	return nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	select {
	case b.ready <- r:
	default:
		// Reconnects deliver READY again; the first one is all Run waits for.
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	b.mu.Lock()
	if !b.running || b.stopping {
		b.mu.Unlock()
		return
	}
	b.inFlight.Add(1)
	ctx := b.baseCtx
	b.mu.Unlock()
	defer b.inFlight.Done()

	inv := invocation(i.Interaction, guildName(s.State, i.GuildID))
	b.handler.Handle(ctx, inv, newResponder(s, i.Interaction))
}

// guildName resolves a guild id from the gateway cache, falling back to the id.
func guildName(state *discordgo.State, guildID string) string {
	if guildID == "" {
		return ""
	}
	if state != nil {
		if g, err := state.Guild(guildID); err == nil && g.Name != "" {
			return g.Name
		}
	}
	return guildID
}
