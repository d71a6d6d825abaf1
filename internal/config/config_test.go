package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Sweep.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.ActiveWindow)
	assert.Equal(t, time.Hour, cfg.Sweep.Lookback)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Metrics)
	assert.Equal(t, "stations:alerts", cfg.Redis.Channel)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(`
http:
  addr: ":9090"
sweep:
  workers: 8
  lookback: 30m
log:
  level: debug
`), 0o644))
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DATABASE_URL", "postgres://ops@localhost/swap")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Sweep.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.Lookback)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://ops@localhost/swap", cfg.Database.URL)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WEBHOOK_URL=http://hooks.local/alerts\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("WEBHOOK_URL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://hooks.local/alerts", cfg.Webhook.URL)
}

func TestValidateRejectsBadWorkers(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SWEEP_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
}
