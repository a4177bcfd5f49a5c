package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Veraticus/ollamacord/internal/config"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvDiscordToken,
		config.EnvGuildID,
		config.EnvOllamaHost,
		config.EnvDefaultModel,
		config.EnvLogLevel,
		config.EnvActivityDir,
		config.EnvActivityDriver,
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ollamacord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultConfig(), cfg)
	assert.Equal(t, "dolphin24b", cfg.Ollama.DefaultModel)
	assert.Equal(t, 1500*time.Millisecond, cfg.GetFlushInterval())
	assert.Equal(t, 1900, cfg.GetChunkLimit())
	assert.Equal(t, 5*time.Minute, cfg.GetTurnTimeout())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
discord:
  token: file-token
  guild_id: "42"
ollama:
  host: http://gpu-box:11434
  default_model: mistral
relay:
  flush_interval: 750ms
  chunk_limit: 1000
  turn_timeout: "0"
activity:
  driver: sqlite
logging:
  level: warn
  format: json
`)
	t.Setenv(config.EnvDiscordToken, "  env-token  ")
	t.Setenv(config.EnvDefaultModel, "llama3")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "env-token", cfg.Discord.Token, "env wins and is trimmed")
	assert.Equal(t, "42", cfg.Discord.GuildID)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.Host)
	assert.Equal(t, "llama3", cfg.Ollama.DefaultModel)
	assert.Equal(t, 750*time.Millisecond, cfg.GetFlushInterval())
	assert.Equal(t, 1000, cfg.GetChunkLimit())
	assert.Zero(t, cfg.GetTurnTimeout(), "zero disables the turn timeout")
	assert.Equal(t, config.DriverSQLite, cfg.Activity.Driver)
	assert.Equal(t, 5000, cfg.Activity.MaxOutput, "unset keys keep defaults")
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "discord: [unterminated")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discord.Token = "   "
	cfg.Ollama.Host = "localhost:11434"
	cfg.Relay.FlushInterval = "soon"
	cfg.Relay.ChunkLimit = 2500
	cfg.Activity.Driver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.Len(t, errs, 5)

	msg := err.Error()
	for _, want := range []string{
		config.EnvDiscordToken,
		"must start with http:// or https://",
		"relay.flush_interval",
		"relay.chunk_limit",
		"activity.driver",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_MissingHost(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discord.Token = "t"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvOllamaHost)
}

func TestValidateBackend_IgnoresDiscord(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ollama.Host = "http://localhost:11434"

	assert.NoError(t, cfg.ValidateBackend())
	assert.Error(t, cfg.Validate(), "full validation still wants a token")

	cfg.Ollama.RequestTimeout = "-1s"
	assert.ErrorContains(t, cfg.ValidateBackend(), "ollama.request_timeout")
}

func TestValidate_Durations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{
			name:   "zero turn timeout is allowed",
			mutate: func(c *config.Config) { c.Relay.TurnTimeout = "0s" },
		},
		{
			name:    "zero flush interval is rejected",
			mutate:  func(c *config.Config) { c.Relay.FlushInterval = "0s" },
			wantErr: "relay.flush_interval must be positive",
		},
		{
			name:    "negative period is rejected",
			mutate:  func(c *config.Config) { c.RateLimit.Period = "-1m" },
			wantErr: "ratelimit.period must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Discord.Token = "t"
			cfg.Ollama.Host = "https://ollama"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSystemPrompt(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr string
	}{
		{name: "valid", prompt: "You are a helpful pirate."},
		{name: "empty", prompt: "", wantErr: "system prompt is empty"},
		{name: "whitespace only", prompt: " \n\t ", wantErr: "system prompt is empty"},
		{name: "at limit", prompt: strings.Repeat("é", config.MaxSystemPromptLength)},
		{name: "over limit", prompt: strings.Repeat("a", config.MaxSystemPromptLength+1), wantErr: "the limit is 4000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.ValidateSystemPrompt(tt.prompt)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
