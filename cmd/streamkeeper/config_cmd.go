// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/version"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigValidateCmd(), newConfigDumpCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := config.NewLoader(configPath, version.Version).WithEnvFile("").Load()
			if err != nil {
				out := cmd.ErrOrStderr()
				fmt.Fprintf(out, "Configuration error in %s:\n", configPath)
				for _, line := range strings.Split(err.Error(), "\n") {
					fmt.Fprintf(out, "  %s\n", line)
				}
				return errors.New("invalid configuration")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newConfigDumpCmd() *cobra.Command {
	var (
		configPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration (defaults, file and environment merged)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(configPath, version.Version).WithEnvFile("").Load()
			if err != nil {
				return err
			}
			redact(&cfg)

			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer func() { _ = enc.Close() }()
				return enc.Encode(cfg)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			return fmt.Errorf("unknown format %q (want yaml or json)", format)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

const redacted = "***"

// redact masks credentials before configuration is printed.
func redact(cfg *config.AppConfig) {
	for _, s := range []*string{
		&cfg.Platform.ClientSecret,
		&cfg.Platform.OAuthVideo,
		&cfg.Platform.OAuth,
		&cfg.Journal.PostgresDSN,
		&cfg.Journal.MongoURI,
		&cfg.Cache.RedisPassword,
		&cfg.Mirror.SecretKey,
	} {
		if *s != "" {
			*s = redacted
		}
	}
}
