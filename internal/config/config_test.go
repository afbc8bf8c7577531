package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Monitor.TickInterval)
	assert.Equal(t, 0.3, cfg.Simulator.TP1PartialPct)
	assert.Equal(t, 5.0, cfg.Portfolio.MaxTotalRiskR)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  tick_interval: 2m
  lock_ttl: 90s
portfolio:
  max_positions: 9
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Monitor.TickInterval)
	assert.Equal(t, 90*time.Second, cfg.Monitor.LockTTL)
	assert.Equal(t, 9, cfg.Portfolio.MaxPositions)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.0005, cfg.Simulator.EntrySlippagePct)
}

func TestLoad_EnvOverridesDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env-override/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-override/db", cfg.Storage.PostgresDSN)
}

func TestLoad_RejectsLockTTLOverTickInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  tick_interval: 30s
  lock_ttl: 60s
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
