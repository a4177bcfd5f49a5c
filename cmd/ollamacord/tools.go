package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Veraticus/ollamacord/internal/activity"
	"github.com/Veraticus/ollamacord/internal/config"
	"github.com/Veraticus/ollamacord/internal/ollama"
)

// backendClient loads a config that only needs the Ollama settings and opens a client.
// The returned func closes the client and flushes the logger.
func backendClient(cmd *cobra.Command, flags *globalFlags) (*config.Config, *ollama.Client, func(), error) {
	cfg, err := loadConfig(cmd.ErrOrStderr(), flags, (*config.Config).ValidateBackend)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, syncLogs, err := newLogger(cfg, flags)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := ollama.NewClient(cfg.Ollama.Host,
		ollama.WithLogger(logger.Named("ollama")),
		ollama.WithRequestTimeout(cfg.GetRequestTimeout()))
	if err != nil {
		syncLogs()
		return nil, nil, nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	release := func() {
		if err := client.Close(); err != nil {
			logger.Debug("Closing Ollama client", zap.Error(err))
		}
		syncLogs()
	}
	return cfg, client, release, nil
}

func newModelsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the Ollama server provides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, release, err := backendClient(cmd, flags)
			if err != nil {
				return err
			}
			defer release()

			models := client.ListModels(cmd.Context())
			if len(models) == 0 {
				return fmt.Errorf("no models available from %s", client.Host())
			}

			def := pickDefaultModel(cfg.Ollama.DefaultModel, models)
			out := cmd.OutOrStdout()
			for _, m := range models {
				mark := "•"
				if m == def {
					mark = "➤"
				}
				fmt.Fprintf(out, "%s %s\n", mark, m)
			}
			return nil
		},
	}
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the Ollama server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, client, release, err := backendClient(cmd, flags)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if !client.CheckConnection(cmd.Context()) {
				fmt.Fprintf(out, "✗ Could not connect to Ollama at %s\n", client.Host())
				fmt.Fprintln(out, "  Make sure Ollama is running with: ollama serve")
				return fmt.Errorf("ollama unreachable")
			}
			fmt.Fprintf(out, "✓ Connected to Ollama at %s\n", client.Host())
			return nil
		},
	}
}

func newActivityCmd(flags *globalFlags) *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent user activity from the SQLite activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Activity.Driver != config.DriverSQLite {
				return fmt.Errorf("activity queries need activity.driver %q, configured %q", config.DriverSQLite, cfg.Activity.Driver)
			}

			sink, err := activity.OpenSQLite(cmd.Context(), filepath.Join(cfg.Activity.Dir, activity.DefaultDBName), cfg.Activity.MaxOutput)
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			entries, err := sink.Recent(cmd.Context(), activity.Query{UserID: user, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s | %s\n", e.Time.Local().Format(time.DateTime), activity.Format(e, 0))
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No activity recorded.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only show this Discord user id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
