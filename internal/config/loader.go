// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	envFile    string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
		version:    version,
	}
}

// WithEnvFile overrides the dotenv file consulted before environment overrides.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load resolves defaults, the YAML file and environment overrides, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if l.envFile != "" {
		// Existing process variables win over the dotenv file.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}
	applyEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file strictly on top of cfg.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func env(name string) string { return EnvPrefix + name }

// applyEnv overrides cfg with STREAMKEEPER_* variables.
func applyEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(env("DATA_DIR"), cfg.DataDir)
	if names := ParseList(env("CHANNELS"), nil); len(names) > 0 {
		cfg.Channels = cfg.Channels[:0]
		for _, n := range names {
			cfg.Channels = append(cfg.Channels, ChannelConfig{
				Name:       strings.ToLower(n),
				Components: []Component{ComponentVideo, ComponentVod, ComponentStats},
			})
		}
	}

	cfg.Log.Level = ParseString(env("LOG_LEVEL"), cfg.Log.Level)

	p := &cfg.Platform
	p.ClientID = ParseString(env("CLIENT_ID"), p.ClientID)
	p.ClientSecret = ParseString(env("CLIENT_SECRET"), p.ClientSecret)
	p.OAuthVideo = ParseString(env("OAUTH_VIDEO"), p.OAuthVideo)
	p.Username = ParseString(env("CHAT_USERNAME"), p.Username)
	p.OAuth = ParseString(env("CHAT_OAUTH"), p.OAuth)
	p.Timeout = ParseDuration(env("PLATFORM_TIMEOUT"), p.Timeout)
	p.RateLimit = ParseFloat(env("PLATFORM_RATE_LIMIT"), p.RateLimit)

	cfg.Live.RefreshConcurrencyThreshold = ParseInt(env("REFRESH_CONCURRENCY_THRESHOLD"), cfg.Live.RefreshConcurrencyThreshold)
	cfg.Live.FilenamePadding = ParseInt(env("FILENAME_PADDING"), cfg.Live.FilenamePadding)
	cfg.Vod.FilenamePadding = ParseInt(env("FILENAME_PADDING"), cfg.Vod.FilenamePadding)
	cfg.Vod.Workers = ParseInt(env("VOD_WORKERS"), cfg.Vod.Workers)
	cfg.Stats.Interval = ParseDuration(env("STATS_INTERVAL"), cfg.Stats.Interval)

	j := &cfg.Journal
	j.Backend = ParseString(env("JOURNAL_BACKEND"), j.Backend)
	j.SQLitePath = ParseString(env("JOURNAL_SQLITE_PATH"), j.SQLitePath)
	j.PostgresDSN = ParseString(env("JOURNAL_POSTGRES_DSN"), j.PostgresDSN)
	j.MongoURI = ParseString(env("JOURNAL_MONGO_URI"), j.MongoURI)
	j.MongoDatabase = ParseString(env("JOURNAL_MONGO_DATABASE"), j.MongoDatabase)

	c := &cfg.Cache
	c.Backend = ParseString(env("CACHE_BACKEND"), c.Backend)
	c.RedisAddr = ParseString(env("REDIS_ADDR"), c.RedisAddr)
	c.RedisPassword = ParseString(env("REDIS_PASSWORD"), c.RedisPassword)
	c.RedisDB = ParseInt(env("REDIS_DB"), c.RedisDB)

	cfg.Kafka.Brokers = ParseList(env("KAFKA_BROKERS"), cfg.Kafka.Brokers)
	cfg.Kafka.Topic = ParseString(env("KAFKA_TOPIC"), cfg.Kafka.Topic)

	m := &cfg.Mirror
	m.Endpoint = ParseString(env("MIRROR_ENDPOINT"), m.Endpoint)
	m.AccessKey = ParseString(env("MIRROR_ACCESS_KEY"), m.AccessKey)
	m.SecretKey = ParseString(env("MIRROR_SECRET_KEY"), m.SecretKey)
	m.Bucket = ParseString(env("MIRROR_BUCKET"), m.Bucket)
	m.UseSSL = ParseBool(env("MIRROR_USE_SSL"), m.UseSSL)

	cfg.API.ListenAddr = ParseString(env("LISTEN_ADDR"), cfg.API.ListenAddr)

	t := &cfg.Telemetry
	t.Enabled = ParseBool(env("TELEMETRY_ENABLED"), t.Enabled)
	t.Exporter = ParseString(env("TELEMETRY_EXPORTER"), t.Exporter)
	t.Endpoint = ParseString(env("TELEMETRY_ENDPOINT"), t.Endpoint)
	t.SamplingRate = ParseFloat(env("TELEMETRY_SAMPLING_RATE"), t.SamplingRate)
}
