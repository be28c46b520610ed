// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/persistence/sqlite"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `dataDir: /tmp/streamkeeper-test
channels:
  - name: somechannel
    components: [video, vod, stats]
platform:
  clientId: client
  clientSecret: topsecret
journal:
  backend: memory
`

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "streamkeeper v")
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, validConfig)
	out, _, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestConfigValidateReportsProblems(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp/x\nchannels:\n  - name: somechannel\n    components: [video, radio]\n")
	_, errOut, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, errOut, `unknown component "radio"`)
	assert.Contains(t, errOut, "clientId and clientSecret")
}

func TestConfigValidateRequiresFlag(t *testing.T) {
	_, _, err := execute(t, "config", "validate")
	require.Error(t, err)
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	path := writeConfig(t, validConfig)
	out, _, err := execute(t, "config", "dump", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "topsecret")

	var cfg config.AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, redacted, cfg.Platform.ClientSecret)
	assert.Equal(t, "client", cfg.Platform.ClientID)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "somechannel", cfg.Channels[0].Name)

	_, _, err = execute(t, "config", "dump", "--config", path, "--format", "toml")
	require.Error(t, err)
}

func TestJournalVerify(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.sqlite")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE recording (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, _, err := execute(t, "journal", "verify", "--path", dbPath, "--mode", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "ok (full)")

	_, _, err = execute(t, "journal", "verify", "--path", dbPath, "--mode", "deep")
	require.Error(t, err)
}
