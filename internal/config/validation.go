// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"regexp"
)

var channelName = regexp.MustCompile(`^[a-z0-9_]{1,25}$`)

// Validate reports every problem found in cfg, joined into one error.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.DataDir == "" {
		add("dataDir: must not be empty")
	}
	if len(cfg.Channels) == 0 {
		add("channels: at least one channel is required")
	}
	seen := map[string]bool{}
	for i, ch := range cfg.Channels {
		if !channelName.MatchString(ch.Name) {
			add("channels[%d].name: %q is not a valid channel login", i, ch.Name)
		}
		if seen[ch.Name] {
			add("channels[%d].name: duplicate channel %q", i, ch.Name)
		}
		seen[ch.Name] = true
		for _, c := range ch.Components {
			switch c {
			case ComponentVideo, ComponentVod, ComponentEvents, ComponentChat, ComponentStats:
			default:
				add("channels[%d].components: unknown component %q", i, c)
			}
		}
		needsAPI := ch.Has(ComponentVideo) || ch.Has(ComponentVod) || ch.Has(ComponentStats) || ch.Has(ComponentEvents)
		if needsAPI && (cfg.Platform.ClientID == "" || cfg.Platform.ClientSecret == "") {
			add("platform: clientId and clientSecret are required for channel %q", ch.Name)
		}
		if ch.Has(ComponentChat) && (cfg.Platform.Username == "" || cfg.Platform.OAuth == "") {
			add("platform: username and oauth are required for chat on channel %q", ch.Name)
		}
	}

	if cfg.Live.SegmentAttempts < 1 || cfg.Vod.SegmentAttempts < 1 {
		add("segmentAttempts: must be at least 1")
	}
	if cfg.Live.RefreshConcurrencyThreshold < 1 {
		add("live.refreshConcurrencyThreshold: must be at least 1")
	}
	if cfg.Live.ResolveAttempts < 1 {
		add("live.resolveAttempts: must be at least 1")
	}
	if cfg.Vod.Workers < 1 {
		add("vod.workers: must be at least 1")
	}
	if cfg.Live.FilenamePadding < 1 || cfg.Vod.FilenamePadding < 1 {
		add("filenamePadding: must be at least 1")
	}

	switch cfg.Journal.Backend {
	case "", "none", "memory":
	case "sqlite":
		if cfg.Journal.SQLitePath == "" {
			add("journal.sqlitePath: required for sqlite backend")
		}
	case "postgres":
		if cfg.Journal.PostgresDSN == "" {
			add("journal.postgresDsn: required for postgres backend")
		}
	case "mongo":
		if cfg.Journal.MongoURI == "" {
			add("journal.mongoUri: required for mongo backend")
		}
	default:
		add("journal.backend: unknown backend %q", cfg.Journal.Backend)
	}

	switch cfg.Cache.Backend {
	case "", "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redisAddr: required for redis backend")
		}
	default:
		add("cache.backend: unknown backend %q", cfg.Cache.Backend)
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		add("kafka.topic: required when brokers are set")
	}
	if cfg.Mirror.Endpoint != "" && cfg.Mirror.Bucket == "" {
		add("mirror.bucket: required when endpoint is set")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
		add("telemetry.exporter: must be grpc or http")
	}

	return errors.Join(errs...)
}
