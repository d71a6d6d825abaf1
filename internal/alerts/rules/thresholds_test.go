package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), cfg.Defaults)
	assert.Equal(t, DefaultThresholds(), cfg.ForStation("anything"))
}

func TestLoadConfigMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, `
defaults:
  congestion:
    queue_threshold: 10
stations:
  ST-7:
    low_inventory:
      min_charged_batteries: 12
    optimize:
      utilization_threshold: 0.35
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.Defaults.Congestion.QueueThreshold)
	assert.Equal(t, 2, cfg.Defaults.Congestion.CyclesRequired)
	assert.Equal(t, 8, cfg.Defaults.Inventory.MinCharged)

	st7 := cfg.ForStation("ST-7")
	assert.Equal(t, 12, st7.Inventory.MinCharged)
	assert.Equal(t, 0.35, st7.Optimize.Utilization)
	assert.Equal(t, 10.0, st7.Congestion.QueueThreshold)
	assert.Equal(t, 60, st7.Optimize.WindowMinutes)
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, "defaults: [not, a, map")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, `
stations:
  ST-1:
    demand:
      spike_multiplier: -1
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestStoreWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, "defaults:\n  low_inventory:\n    min_charged_batteries: 8\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx, path, logger) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "defaults:\n  low_inventory:\n    min_charged_batteries: 15\n")

	require.Eventually(t, func() bool {
		return store.ForStation("ST-1").Inventory.MinCharged == 15
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
