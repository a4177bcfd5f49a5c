// Package main provides the entry point for the ollamacord Discord bot.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Veraticus/ollamacord/internal/config"
	"github.com/Veraticus/ollamacord/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "ollamacord",
		Short: "Discord bot that streams replies from a local Ollama server",
		Long: `ollamacord relays Discord slash commands to an Ollama server and streams the
generated text back as private messages. Each user keeps their own model, system
prompt and conversation context.

Configuration comes from an optional YAML file (--config) and the environment:
  DISCORD_BOT_TOKEN     bot token (required)
  OLLAMA_HOST           e.g. http://localhost:11434 (required)
  OLLAMA_DEFAULT_MODEL  model for users who have not picked one
  DISCORD_GUILD_ID      register commands to one guild instead of globally`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd, flags)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "ollamacord.yaml", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to Discord and serve slash commands (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBot(cmd, flags)
			},
		},
		newModelsCmd(flags),
		newCheckCmd(flags),
		newActivityCmd(flags),
	)
	return root
}

// loadConfig reads the configuration and runs validate on it, printing every problem.
func loadConfig(w io.Writer, flags *globalFlags, validate func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		errs := multierr.Errors(err)
		fmt.Fprintf(w, "Configuration has %d problem(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  - %v\n", e)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, flags *globalFlags) (*zap.Logger, func(), error) {
	return logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		Verbose: flags.verbose,
	})
}
