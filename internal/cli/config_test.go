// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadConfig_File(t *testing.T) {
	p := writeFile(t, "nidata.yaml", `
data-dir: /shared/nidata
retries: 7
backoff-initial: 2s
timeout: 5
multipart-threshold: 128MiB
`)
	cfg, path, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, p, path)
	assert.Equal(t, "/shared/nidata", cfg.DataDir)
	assert.Equal(t, 7, cfg.Retries)
	assert.Equal(t, Duration(2*time.Second), cfg.BackoffInitial)
	assert.Equal(t, Duration(5*time.Second), cfg.Timeout)
	assert.Equal(t, "128MiB", cfg.MultipartThreshold)
	assert.Equal(t, DefaultConfig().Connections, cfg.Connections)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "nidata.json", `{"retries": 7, "max-active": 3}`)
	t.Setenv("NIDATA_RETRIES", "9")
	t.Setenv("NIDATA_MAX_ACTIVE", "5")

	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retries)
	assert.Equal(t, 5, cfg.MaxActive)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeFile(t, "bad.yaml", "timeout: soon\n")
	_, _, err = LoadConfig(p)
	assert.Error(t, err)
}

func TestApplyConfig_FlagsWin(t *testing.T) {
	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	retries := fs.Int("retries", 4, "")
	conns := fs.Int("connections", 4, "")
	user := fs.String("username", "", "")
	require.NoError(t, fs.Parse([]string{"--retries=1"}))

	cfg := DefaultConfig()
	cfg.Retries = 7
	cfg.Connections = 9
	require.NoError(t, applyConfig(fs, &cfg))

	assert.Equal(t, 1, *retries)
	assert.Equal(t, 9, *conns)
	assert.Empty(t, *user)
}

func TestConfigFileFeedsFlags(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, "nidata.yaml", "data-dir: "+dir+"\n")

	out, _, err := run(t, "--config", p, "fetch", "msdl_atlas", "--dry-run", "--plan-format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "MSDL_rois.zip")

	_, err = os.Stat(filepath.Join(dir, "msdl_atlas"))
	assert.NoError(t, err, "data-dir from the config file is used")
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	out, _, err := run(t, "config", "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created config file")

	p := filepath.Join(dir, "nidata.yaml")
	cfg, _, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	_, _, err = run(t, "config", "init", "--dir", dir)
	assert.Error(t, err, "existing files need --force")

	_, _, err = run(t, "config", "init", "--dir", dir, "--force", "--json-format")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "nidata.json"))
	assert.NoError(t, err)
}

func TestConfigShow_MasksPassword(t *testing.T) {
	p := writeFile(t, "nidata.yaml", "password: hunter2\n")

	out, _, err := run(t, "--config", p, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
}
