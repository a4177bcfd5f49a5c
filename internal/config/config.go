// Package config provides configuration loading and validation for ollamacord.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvDiscordToken   = "DISCORD_BOT_TOKEN"
	EnvGuildID        = "DISCORD_GUILD_ID"
	EnvOllamaHost     = "OLLAMA_HOST"
	EnvDefaultModel   = "OLLAMA_DEFAULT_MODEL"
	EnvLogLevel       = "OLLAMACORD_LOG_LEVEL"
	EnvActivityDir    = "OLLAMACORD_ACTIVITY_DIR"
	EnvActivityDriver = "OLLAMACORD_ACTIVITY_DRIVER"
)

// Defaults.
const (
	DefaultModel          = "dolphin24b"
	DefaultFlushInterval  = 1500 * time.Millisecond
	DefaultChunkLimit     = 1900
	DefaultTurnTimeout    = 5 * time.Minute
	DefaultRequestTimeout = 10 * time.Second
	DefaultRatePeriod     = time.Minute

	// MaxChunkLimit is Discord's hard per-message ceiling.
	MaxChunkLimit = 2000
)

// Activity drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config holds all ollamacord configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Relay     RelayConfig     `yaml:"relay"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Activity  ActivityConfig  `yaml:"activity"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscordConfig configures the gateway session.
type DiscordConfig struct {
	Token string `yaml:"token"`
	// GuildID registers commands to a single guild; empty registers them globally.
	GuildID string `yaml:"guild_id"`
}

// OllamaConfig configures the inference backend.
type OllamaConfig struct {
	Host           string `yaml:"host"`
	DefaultModel   string `yaml:"default_model"`
	RequestTimeout string `yaml:"request_timeout"`
}

// RelayConfig configures streaming turns.
type RelayConfig struct {
	FlushInterval string `yaml:"flush_interval"`
	ChunkLimit    int    `yaml:"chunk_limit"`
	// TurnTimeout bounds one generation; "0" disables the bound.
	TurnTimeout string `yaml:"turn_timeout"`
}

// RateLimitConfig configures the per-user turn limiter.
type RateLimitConfig struct {
	Capacity int    `yaml:"capacity"`
	Refill   int    `yaml:"refill"`
	Period   string `yaml:"period"`
}

// ActivityConfig configures the user activity log.
type ActivityConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxOutput  int    `yaml:"max_output"`
}

// LoggingConfig configures the operator log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{
			DefaultModel:   DefaultModel,
			RequestTimeout: DefaultRequestTimeout.String(),
		},
		Relay: RelayConfig{
			FlushInterval: DefaultFlushInterval.String(),
			ChunkLimit:    DefaultChunkLimit,
			TurnTimeout:   DefaultTurnTimeout.String(),
		},
		RateLimit: RateLimitConfig{
			Capacity: 10,
			Refill:   1,
			Period:   DefaultRatePeriod.String(),
		},
		Activity: ActivityConfig{
			Enabled:    true,
			Driver:     DriverFile,
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxOutput:  5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from path and applies environment overrides. A missing file
// yields the defaults. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// getEnv returns the trimmed value of key, or fallback when it is unset or blank.
func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (c *Config) applyEnvOverrides() {
	c.Discord.Token = getEnv(EnvDiscordToken, c.Discord.Token)
	c.Discord.GuildID = getEnv(EnvGuildID, c.Discord.GuildID)
	c.Ollama.Host = getEnv(EnvOllamaHost, c.Ollama.Host)
	c.Ollama.DefaultModel = getEnv(EnvDefaultModel, c.Ollama.DefaultModel)
	c.Logging.Level = getEnv(EnvLogLevel, c.Logging.Level)
	c.Activity.Dir = getEnv(EnvActivityDir, c.Activity.Dir)
	c.Activity.Driver = getEnv(EnvActivityDriver, c.Activity.Driver)

	if c.Ollama.DefaultModel == "" {
		c.Ollama.DefaultModel = DefaultModel
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error

	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = multierr.Append(errs, fmt.Errorf("discord token not configured (set %s)", EnvDiscordToken))
	}

	errs = multierr.Append(errs, c.ValidateBackend())
	errs = multierr.Append(errs, checkDuration("relay.flush_interval", c.Relay.FlushInterval, false))
	errs = multierr.Append(errs, checkDuration("relay.turn_timeout", c.Relay.TurnTimeout, true))
	errs = multierr.Append(errs, checkDuration("ratelimit.period", c.RateLimit.Period, false))

	if c.Relay.ChunkLimit < 0 || c.Relay.ChunkLimit > MaxChunkLimit {
		errs = multierr.Append(errs, fmt.Errorf("relay.chunk_limit %d out of range (1-%d)", c.Relay.ChunkLimit, MaxChunkLimit))
	}
	if c.RateLimit.Capacity < 0 || c.RateLimit.Refill < 0 {
		errs = multierr.Append(errs, fmt.Errorf("ratelimit capacity and refill must not be negative"))
	}

	if c.Activity.Enabled {
		switch c.Activity.Driver {
		case DriverFile, DriverSQLite:
		default:
			errs = multierr.Append(errs, fmt.Errorf("activity.driver %q is not one of %s, %s", c.Activity.Driver, DriverFile, DriverSQLite))
		}
		if strings.TrimSpace(c.Activity.Dir) == "" {
			errs = multierr.Append(errs, fmt.Errorf("activity.dir is empty"))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.format %q is not json or console", c.Logging.Format))
	}

	return errs
}

// ValidateBackend checks only the Ollama settings, for commands that never connect to
// Discord.
func (c *Config) ValidateBackend() error {
	var errs error

	host := strings.TrimSpace(c.Ollama.Host)
	switch {
	case host == "":
		errs = multierr.Append(errs, fmt.Errorf("ollama host not configured (set %s)", EnvOllamaHost))
	case !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://"):
		errs = multierr.Append(errs, fmt.Errorf("ollama host %q must start with http:// or https://", host))
	}

	return multierr.Append(errs, checkDuration("ollama.request_timeout", c.Ollama.RequestTimeout, false))
}

// checkDuration validates an optional duration string.
func checkDuration(field, value string, allowZero bool) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// parseDuration returns value as a duration, or fallback if it is empty or invalid.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetRequestTimeout returns the bound for non-streaming backend calls.
func (c *Config) GetRequestTimeout() time.Duration {
	d := parseDuration(c.Ollama.RequestTimeout, DefaultRequestTimeout)
	if d == 0 {
		return DefaultRequestTimeout
	}
	return d
}

// GetFlushInterval returns the minimum time between streaming message updates.
func (c *Config) GetFlushInterval() time.Duration {
	d := parseDuration(c.Relay.FlushInterval, DefaultFlushInterval)
	if d == 0 {
		return DefaultFlushInterval
	}
	return d
}

// GetTurnTimeout returns the per-turn bound; zero means unbounded.
func (c *Config) GetTurnTimeout() time.Duration {
	return parseDuration(c.Relay.TurnTimeout, DefaultTurnTimeout)
}

// GetChunkLimit returns the per-message content limit.
func (c *Config) GetChunkLimit() int {
	if c.Relay.ChunkLimit <= 0 {
		return DefaultChunkLimit
	}
	return c.Relay.ChunkLimit
}

// GetRatePeriod returns the rate limiter refill period.
func (c *Config) GetRatePeriod() time.Duration {
	d := parseDuration(c.RateLimit.Period, DefaultRatePeriod)
	if d == 0 {
		return DefaultRatePeriod
	}
	return d
}
