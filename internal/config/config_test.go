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

func TestLoadReturnsDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := NewLoader("", "v9.9.9").Load()
	require.NoError(t, err)

	want := DefaultConfig()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Downloads, cfg.Downloads)
	assert.Equal(t, want.Storage.OutputDir, cfg.Storage.OutputDir)
	assert.Equal(t, "v9.9.9", cfg.Version)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.yaml"), "v1").Load()
	assert.Error(t, err)
}

func TestLoadAppliesYAMLFileOverConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9090"
downloads:
  worker_count: 9
`), 0o644))

	cfg, err := NewLoader(path, "v1").Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 9, cfg.Downloads.WorkerCount)
	// fields absent from the file keep their defaults.
	assert.Equal(t, DefaultConfig().Downloads.MaxAttempts, cfg.Downloads.MaxAttempts)
}

func TestLoadAppliesEnvOverridesAfterFile(t *testing.T) {
	t.Setenv("YTDLP_SERVER_LISTEN_ADDR", ":7777")
	t.Setenv("YTDLP_DOWNLOADS_WORKER_COUNT", "12")
	t.Setenv("YTDLP_STORAGE_CLEANUP_AGE", "48h")
	t.Setenv("YTDLP_SECURITY_API_KEYS", "a,b,c")
	t.Setenv("YTDLP_SECURITY_DEGRADED_MODE", "true")

	cfg, err := NewLoader("", "v1").Load()
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.ListenAddr)
	assert.Equal(t, 12, cfg.Downloads.WorkerCount)
	assert.Equal(t, 48*time.Hour, cfg.Storage.CleanupAge)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Security.APIKeys)
	assert.True(t, cfg.Security.DegradedMode)
}

func TestLoadEnvOverridesWinOverFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":9090\"\n"), 0o644))
	t.Setenv("YTDLP_SERVER_LISTEN_ADDR", ":6000")

	cfg, err := NewLoader(path, "v1").Load()
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.ListenAddr)
}

func TestLoadIgnoresInvalidEnvIntAndKeepsPriorValue(t *testing.T) {
	t.Setenv("YTDLP_DOWNLOADS_WORKER_COUNT", "not-a-number")

	cfg, err := NewLoader("", "v1").Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().Downloads.WorkerCount, cfg.Downloads.WorkerCount)
}
