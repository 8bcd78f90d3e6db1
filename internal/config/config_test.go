package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "taxbill.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Extract.Workers)
	assert.Equal(t, "taxbill-cli/1.0", cfg.Extract.UserAgent)
	assert.Equal(t, 2000, cfg.RateLimit.DefaultIntervalMs)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 60, cfg.Circuit.RecoveryTimeoutSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.BaseBackoffMs)
	assert.Equal(t, 30000, cfg.Retry.MaxBackoffMs)
	assert.Equal(t, 45, cfg.Retry.AttemptTimeoutSecs)
	assert.Equal(t, 3, cfg.Retry.DLQMaxRetries)
	assert.Equal(t, 8, cfg.Pool.MaxSessions)
	assert.Equal(t, 30, cfg.Pool.RequestTimeoutSecs)
	assert.Equal(t, 512, cfg.Cache.Size)
	assert.Equal(t, 3600, cfg.Cache.TTLSecs)
	assert.InDelta(t, 100, cfg.Validate.MinAmount, 0.001)
	assert.InDelta(t, 100000, cfg.Validate.MaxAmount, 0.001)
	assert.InDelta(t, 0.005, cfg.Validate.BandMin, 1e-9)
	assert.InDelta(t, 0.03, cfg.Validate.BandMax, 1e-9)
	assert.Equal(t, 25, cfg.Checkpoint.EveryItems)
	assert.Equal(t, 30, cfg.Checkpoint.EverySecs)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Monitoring.DLQDepthThreshold)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/taxbill
log:
  level: debug
  format: console
ratelimit:
  default_interval_ms: 500
  per_source_ms:
    hctax.net: 5000
validate:
  min_amount: 50
monitoring:
  webhook_url: https://hooks.example.com/taxbill
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/taxbill", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 500, cfg.RateLimit.DefaultIntervalMs)
	assert.Equal(t, 5000, cfg.RateLimit.PerSourceMs["hctax.net"])
	assert.InDelta(t, 50, cfg.Validate.MinAmount, 0.001)
	assert.Equal(t, "https://hooks.example.com/taxbill", cfg.Monitoring.WebhookURL)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Extract.Workers)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TAXBILL_STORE_DRIVER", "postgres")
	t.Setenv("TAXBILL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("TAXBILL_SERVER_PORT", "3000")
	t.Setenv("TAXBILL_EXTRACT_WORKERS", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Extract.Workers)
}

func TestCheckpointInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, CheckpointCfg{EverySecs: 30}.CheckpointInterval())
	assert.Zero(t, CheckpointCfg{}.CheckpointInterval())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
