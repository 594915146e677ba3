// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidConcurrency is returned when CONCURRENCY or PREVIEW_CONCURRENCY is negative.
	ErrInvalidConcurrency = errors.New("config: concurrency must not be negative")
	// ErrInvalidThrottle is returned when the THROTTLE_* thresholds are inconsistent.
	ErrInvalidThrottle = errors.New("config: throttle thresholds are inconsistent")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidLogFormat is returned for a LOG_FORMAT other than text or json.
	ErrInvalidLogFormat = errors.New("config: LOG_FORMAT must be text or json")
)

// Config holds all configuration for the application.
type Config struct {
	// Engine binaries
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Storage settings
	TempDir string `env:"TEMP_DIR" json:"temp_dir"` // empty means os.TempDir()

	// Processing settings. Zero concurrency selects the built-in default.
	Concurrency        int   `env:"CONCURRENCY, default=0" json:"concurrency"`
	PreviewConcurrency int   `env:"PREVIEW_CONCURRENCY, default=2" json:"preview_concurrency"`
	FastScanMaxBytes   int64 `env:"FAST_SCAN_MAX_BYTES, default=268435456" json:"fast_scan_max_bytes"`

	// Adaptive throttle
	ThrottleInterval    time.Duration `env:"THROTTLE_INTERVAL, default=1500ms" json:"throttle_interval"`
	ThrottleLoadHigh    float64       `env:"THROTTLE_LOAD_HIGH, default=0.9" json:"throttle_load_high"`
	ThrottleLoadLow     float64       `env:"THROTTLE_LOAD_LOW, default=0.6" json:"throttle_load_low"`
	ThrottleFreeMemLow  float64       `env:"THROTTLE_FREE_MEM_LOW, default=0.10" json:"throttle_free_mem_low"`
	ThrottleFreeMemHigh float64       `env:"THROTTLE_FREE_MEM_HIGH, default=0.20" json:"throttle_free_mem_high"`

	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Concurrency < 0 || c.PreviewConcurrency < 0 {
		return ErrInvalidConcurrency
	}
	if c.ThrottleInterval <= 0 ||
		c.ThrottleLoadLow >= c.ThrottleLoadHigh ||
		c.ThrottleFreeMemLow >= c.ThrottleFreeMemHigh ||
		c.ThrottleFreeMemLow < 0 || c.ThrottleFreeMemHigh > 1 {
		return ErrInvalidThrottle
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stderr)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{FFmpegPath: %s, FFprobePath: %s, TempDir: %s, Concurrency: %d, PreviewConcurrency: %d, ThrottleInterval: %s, Port: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.FFmpegPath,
		c.FFprobePath,
		c.TempDir,
		c.Concurrency,
		c.PreviewConcurrency,
		c.ThrottleInterval,
		c.Port,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
