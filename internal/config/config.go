package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir string `envconfig:"TARGET_DIR" required:"true"`

	MaxParallel      int           `envconfig:"MAX_PARALLEL" default:"5"`
	MaxRetries       int           `envconfig:"MAX_RETRIES" default:"3"`
	BackoffBase      time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffMax       time.Duration `envconfig:"BACKOFF_MAX" default:"30s"`
	ChunkSize        int           `envconfig:"CHUNK_SIZE" default:"8192"`
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"1s"`
	TaskTimeout      time.Duration `envconfig:"TASK_TIMEOUT" default:"0"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"0"`
	BandwidthLimit   int64         `envconfig:"BANDWIDTH_LIMIT" default:"0"`

	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"resumable_downloader"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		// Username enables basic auth on the API when set.
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects limits the downloader cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel))
	}

	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries))
	}

	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}

	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("BACKOFF_BASE (%s) must be positive and not above BACKOFF_MAX (%s)", c.BackoffBase, c.BackoffMax))
	}

	if c.TaskTimeout > 0 && c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive when TASK_TIMEOUT is set, got %s", c.SweepInterval))
	}

	if c.KeepDownloadedFor > 0 && c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be positive when KEEP_DOWNLOADED_FOR is set, got %s", c.CleanupInterval))
	}

	if c.BandwidthLimit < 0 {
		errs = append(errs, fmt.Errorf("BANDWIDTH_LIMIT must not be negative, got %d", c.BandwidthLimit))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
