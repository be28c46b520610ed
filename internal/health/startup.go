// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/journal"
	"github.com/ManuGH/streamkeeper/internal/log"
)

type startupCheck struct {
	name string
	run  func(zerolog.Logger, config.AppConfig) error
}

var startupChecks = []startupCheck{
	{"data directory", checkDataDir},
	{"ops listen address", checkListenAddr},
	{"journal", checkJournal},
	{"kafka brokers", checkBrokers},
	{"channels", checkChannels},
}

// PerformStartupChecks prepares and validates the environment before any
// recorder starts. Every failing check is reported, not only the first.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	var errs []error
	for _, c := range startupChecks {
		if err := c.run(logger, cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.DataDir).Msg("startup checks passed")
	return nil
}

func checkDataDir(_ zerolog.Logger, cfg config.AppConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return err
	}
	return checkWritableDir(cfg.DataDir)
}

func checkListenAddr(_ zerolog.Logger, cfg config.AppConfig) error {
	if cfg.API.ListenAddr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func checkJournal(logger zerolog.Logger, cfg config.AppConfig) error {
	switch cfg.Journal.Backend {
	case journal.BackendSQLite:
		return os.MkdirAll(filepath.Dir(cfg.Journal.SQLitePath), 0o750)
	case journal.BackendMemory:
		logger.Warn().Msg("journal uses the in-memory backend; recordings are not persisted across restarts")
	}
	return nil
}

func checkBrokers(_ zerolog.Logger, cfg config.AppConfig) error {
	for _, b := range cfg.Kafka.Brokers {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return err
		}
	}
	return nil
}

func checkChannels(logger zerolog.Logger, cfg config.AppConfig) error {
	if len(cfg.Channels) == 0 {
		logger.Warn().Msg("no channels configured; only the ops server will run")
	}
	return nil
}
