// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command streamkeeper archives live broadcasts, their VODs, chat and
// stream events for the configured channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/daemon"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/version"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "streamkeeper",
		Short:         "Archive live streams, VODs, chat and stream events",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.AddCommand(newRunCmd(), newConfigCmd(), newJournalCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "streamkeeper", version.String())
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the archiver for every configured channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(configPath, version.Version).WithEnvFile(envFile).Load()

			log.Configure(log.Config{Level: cfg.Log.Level, Output: os.Stdout, Service: cfg.Log.Service})
			logger := log.WithComponent("main")
			if err != nil {
				logger.Fatal().Err(err).Str(log.FieldPath, configPath).Msg("unusable configuration")
			}

			ctx, stop := daemon.WaitForShutdown()
			defer stop()

			logger.Info().
				Str("version", version.String()).
				Int("channels", len(cfg.Channels)).
				Str("data_dir", cfg.DataDir).
				Msg("starting streamkeeper")

			app, err := daemon.Bootstrap(ctx, cfg, daemon.DefaultServerConfig(cfg.API.ListenAddr))
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info().Msg("streamkeeper stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	return cmd
}
