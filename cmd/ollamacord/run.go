package main

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/ollamacord/internal/activity"
	"github.com/Veraticus/ollamacord/internal/bot"
	"github.com/Veraticus/ollamacord/internal/config"
	"github.com/Veraticus/ollamacord/internal/discord"
	"github.com/Veraticus/ollamacord/internal/ollama"
	"github.com/Veraticus/ollamacord/internal/ratelimit"
	"github.com/Veraticus/ollamacord/internal/relay"
	"github.com/Veraticus/ollamacord/internal/session"
)

const (
	// ShutdownTimeout bounds closing the backend pool and the activity log.
	ShutdownTimeout = 30 * time.Second

	// staleBucketAge is how long an idle, full rate-limit bucket is kept.
	staleBucketAge = time.Hour
)

// components holds everything runBot wires together.
type components struct {
	client   *ollama.Client
	state    *session.Manager
	limiter  *ratelimit.Limiter
	activity activity.Sink
	relay    *relay.Relay
	handler  *bot.Handler
	discord  *discord.Bot
	period   time.Duration

	// panics counts command handlers that panicked and were recovered.
	panics         atomic.Int64
	// reportedPanics is the count at the last sweep.
	reportedPanics int64
}

func runBot(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := loadConfig(cmd.ErrOrStderr(), flags, (*config.Config).Validate)
	if err != nil {
		return err
	}

	logger, syncLogs, err := newLogger(cfg, flags)
	if err != nil {
		return err
	}
	defer syncLogs()

	ctx := cmd.Context()
	logger.Info("ollamacord starting", zap.String("ollama_host", cfg.Ollama.Host))

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown(c, logger)

	return startComponents(ctx, c, logger)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{period: cfg.GetRatePeriod()}

	// Release whatever was opened if a later step fails.
	ready := false
	defer func() {
		if !ready {
			shutdown(c, logger)
		}
	}()

	var err error
	c.client, err = ollama.NewClient(cfg.Ollama.Host,
		ollama.WithLogger(logger.Named("ollama")),
		ollama.WithRequestTimeout(cfg.GetRequestTimeout()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	defaultModel := checkBackend(ctx, c.client, cfg.Ollama.DefaultModel, logger)

	c.activity, err = activity.Open(ctx, activity.Options{
		Enabled:    cfg.Activity.Enabled,
		Driver:     cfg.Activity.Driver,
		Dir:        cfg.Activity.Dir,
		MaxSizeMB:  cfg.Activity.MaxSizeMB,
		MaxBackups: cfg.Activity.MaxBackups,
		MaxOutput:  cfg.Activity.MaxOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}

	c.state = session.NewManager()
	c.limiter = ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.Refill, c.period)

	c.relay, err = relay.New(c.client, c.state,
		relay.WithLogger(logger.Named("relay")),
		relay.WithDefaultModel(defaultModel),
		relay.WithFlushInterval(cfg.GetFlushInterval()),
		relay.WithChunkLimit(cfg.GetChunkLimit()),
		relay.WithTurnTimeout(cfg.GetTurnTimeout()))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	c.handler, err = bot.NewHandler(c.relay, c.client, c.state,
		bot.WithLogger(logger.Named("bot")),
		bot.WithRateLimiter(c.limiter),
		bot.WithActivity(c.activity),
		bot.WithPanicHook(func(string, any) { c.panics.Add(1) }))
	if err != nil {
		return nil, fmt.Errorf("failed to create command handler: %w", err)
	}

	c.discord, err = discord.New(cfg.Discord.Token, c.handler,
		discord.WithLogger(logger.Named("discord")),
		discord.WithGuildID(cfg.Discord.GuildID))
	if err != nil {
		return nil, fmt.Errorf("failed to create discord bot: %w", err)
	}

	ready = true
	return c, nil
}

// checkBackend reports the backend's state and picks the process-wide default model.
// An unreachable backend is not fatal: the bot still starts and commands report the
// problem to users.
func checkBackend(ctx context.Context, client *ollama.Client, configured string, logger *zap.Logger) string {
	if !client.CheckConnection(ctx) {
		logger.Warn("Could not connect to Ollama, make sure it is running with: ollama serve",
			zap.String("host", client.Host()))
		return configured
	}
	logger.Info("Connected to Ollama", zap.String("host", client.Host()))

	models := client.ListModels(ctx)
	if len(models) == 0 {
		logger.Warn("No models found, pull one with 'ollama pull <model_name>'")
		return configured
	}

	model := pickDefaultModel(configured, models)
	logger.Info("Default model selected",
		zap.Strings("available", models),
		zap.String("model", model))
	return model
}

// pickDefaultModel keeps the configured model if the backend serves it and otherwise
// falls back to the first available one.
func pickDefaultModel(configured string, available []string) string {
	if len(available) == 0 || slices.Contains(available, configured) {
		return configured
	}
	return available[0]
}

// startComponents runs the gateway and the housekeeping loop until ctx is done or one
// of them fails.
func startComponents(ctx context.Context, c *components, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.discord.Run(gctx)
	})

	g.Go(func() error {
		housekeeping(gctx, c, logger)
		return nil
	})

	logger.Info("ollamacord started, serving slash commands")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutting down gracefully...")
	return nil
}

// housekeeping drops idle rate-limit buckets and logs state sizes once per period.
func housekeeping(ctx context.Context, c *components, logger *zap.Logger) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(logger)
		}
	}
}

// sweep runs one housekeeping pass.
func (c *components) sweep(logger *zap.Logger) {
	removed := c.limiter.CleanupStale(staleBucketAge)
	sessions := c.state.Stats()
	limits := c.limiter.Stats()

	fields := []zap.Field{
		zap.Int("stale_buckets_removed", removed),
		zap.Int("rate_limited_users", limits["users"]),
		zap.Int("rate_tokens_left", limits["total_tokens"]),
		zap.Int("users", sessions["users"]),
		zap.Int("users_with_context", sessions["with_context"]),
		zap.Int64("malformed_lines", c.client.MalformedLines()),
		zap.Int64("panics_recovered", c.panics.Load()),
	}
	if n := c.panics.Load(); n > c.reportedPanics {
		c.reportedPanics = n
		logger.Warn("Handler panics recovered since last housekeeping", fields...)
		return
	}
	logger.Debug("Housekeeping", fields...)
}

// shutdown releases the backend pool and the activity log.
func shutdown(c *components, logger *zap.Logger) {
	done := make(chan error, 1)
	go func() {
		var errs error
		if c.client != nil {
			errs = multierr.Append(errs, c.client.Close())
		}
		if c.activity != nil {
			errs = multierr.Append(errs, c.activity.Close())
		}
		done <- errs
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("Errors during shutdown", zap.Error(err))
			return
		}
		logger.Info("Shutdown complete")
	case <-time.After(ShutdownTimeout):
		logger.Warn("Shutdown timeout exceeded")
	}
}
