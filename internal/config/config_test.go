package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TARGET_DIR", "/data/downloads")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/downloads", cfg.TargetDir)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.Equal(t, 8192, cfg.ChunkSize)
	assert.Equal(t, time.Duration(0), cfg.TaskTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TARGET_DIR", "/data")
	t.Setenv("MAX_PARALLEL", "2")
	t.Setenv("TASK_TIMEOUT", "2h")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")
	t.Setenv("WEB_USERNAME", "admin")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, 2*time.Hour, cfg.TaskTimeout)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
	assert.Equal(t, "admin", cfg.Web.Username)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("TARGET_DIR", "/data")
	t.Setenv("MAX_PARALLEL", "0")
	t.Setenv("BACKOFF_BASE", "1m")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_PARALLEL")
	assert.Contains(t, err.Error(), "BACKOFF_BASE")
}

func TestLoadConfig_IntervalsRequiredWhenEnabled(t *testing.T) {
	t.Setenv("TARGET_DIR", "/data")
	t.Setenv("TASK_TIMEOUT", "1h")
	t.Setenv("SWEEP_INTERVAL", "0s")
	t.Setenv("KEEP_DOWNLOADED_FOR", "24h")
	t.Setenv("CLEANUP_INTERVAL", "-1m")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
	assert.Contains(t, err.Error(), "CLEANUP_INTERVAL")
}

func TestValidate_IntervalsIgnoredWhenDisabled(t *testing.T) {
	cfg := Config{
		MaxParallel: 1,
		MaxRetries:  1,
		ChunkSize:   1,
		BackoffBase: time.Second,
		BackoffMax:  time.Second,
	}

	assert.NoError(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for level, want := range tests {
		t.Run(level, func(t *testing.T) {
			cfg := Config{LogLevel: level}
			assert.Equal(t, want, cfg.SlogLevel())
		})
	}
}
