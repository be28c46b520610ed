// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
dataDir: /srv/archive
channels:
  - name: somechannel
    components: [video, vod]
platform:
  clientId: abc
  clientSecret: def
live:
  refreshConcurrencyThreshold: 4
vod:
  updateInterval: 90s
journal:
  backend: sqlite
  sqlitePath: /srv/archive/journal.db
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoaderFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML)

	cfg, err := NewLoader(path, "v-test").WithEnvFile("").Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/archive", cfg.DataDir)
	assert.Equal(t, "v-test", cfg.Version)
	require.Len(t, cfg.Channels, 1)
	assert.True(t, cfg.Channels[0].Has(ComponentVod))
	assert.False(t, cfg.Channels[0].Has(ComponentChat))
	assert.Equal(t, 4, cfg.Live.RefreshConcurrencyThreshold)
	assert.Equal(t, 90*time.Second, cfg.Vod.UpdateInterval)

	// untouched defaults survive
	assert.Equal(t, 15, cfg.Live.SegmentAttempts)
	assert.Equal(t, 5, cfg.Vod.SegmentAttempts)
	assert.Equal(t, 4, cfg.Vod.Workers)
	assert.Equal(t, 20*time.Minute, cfg.Vod.DoneAfter)
	assert.Equal(t, DefaultGQLClientID, cfg.Platform.GQLClientID)
}

func TestLoaderRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML+"\nbogus: true\n")

	_, err := NewLoader(path, "").WithEnvFile("").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoaderRejectsMultipleDocuments(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML+"\n---\ndataDir: /other\n")

	_, err := NewLoader(path, "").WithEnvFile("").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML)
	t.Setenv(EnvPrefix+"JOURNAL_BACKEND", "memory")
	t.Setenv(EnvPrefix+"VOD_WORKERS", "2")
	t.Setenv(EnvPrefix+"KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := NewLoader(path, "").WithEnvFile("").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Journal.Backend)
	assert.Equal(t, 2, cfg.Vod.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoaderReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML)
	envPath := writeFile(t, dir, "test.env", EnvPrefix+"LISTEN_ADDR=127.0.0.1:9999\n")
	t.Setenv(EnvPrefix+"LISTEN_ADDR", "")
	require.NoError(t, os.Unsetenv(EnvPrefix+"LISTEN_ADDR"))

	cfg, err := NewLoader(path, "").WithEnvFile(envPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.ListenAddr)
}

func TestLoaderMissingDotEnvIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", validYAML)

	_, err := NewLoader(path, "").WithEnvFile(filepath.Join(dir, "absent.env")).Load()
	require.NoError(t, err)
}

func TestLoaderChannelsFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CHANNELS", "First,second")
	t.Setenv(EnvPrefix+"CLIENT_ID", "id")
	t.Setenv(EnvPrefix+"CLIENT_SECRET", "secret")

	cfg, err := NewLoader("", "").WithEnvFile("").Load()
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "first", cfg.Channels[0].Name)
	assert.True(t, cfg.Channels[1].Has(ComponentVideo))
}
