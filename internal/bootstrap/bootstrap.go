// Package bootstrap provides dependency initialization for the normalizer.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/bulk-audio-normalizer/internal/audio"
	"github.com/maauso/bulk-audio-normalizer/internal/config"
	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/events"
	"github.com/maauso/bulk-audio-normalizer/internal/job"
	"github.com/maauso/bulk-audio-normalizer/internal/media"
	"github.com/maauso/bulk-audio-normalizer/internal/scheduler"
	"github.com/maauso/bulk-audio-normalizer/internal/storage"
)

// eventHistory bounds the events kept for pollers.
const eventHistory = 2000

// Dependencies holds all initialized dependencies for the CLI and HTTP server.
type Dependencies struct {
	Service *job.Service
	Events  *events.Bus
	Storage storage.Storage
}

// Option customizes dependency construction.
type Option func(*options)

type options struct {
	runner      engine.Runner
	skipBinTest bool
}

// WithRunner replaces the subprocess runner.
func WithRunner(r engine.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithoutBinaryCheck skips the ffmpeg/ffprobe lookup.
func WithoutBinaryCheck() Option {
	return func(o *options) { o.skipBinTest = true }
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = engine.ExecRunner{}
	}

	if !o.skipBinTest {
		if err := engine.ValidateBinaries(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
			return nil, err
		}
	}

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	prober := audio.NewProber(cfg.FFprobePath, o.runner, logger)
	detector := audio.NewDetector(cfg.FFmpegPath, o.runner, logger, audio.WithMaxScanBytes(cfg.FastScanMaxBytes))
	normalizer := media.NewFFmpegNormalizer(cfg.FFmpegPath, o.runner, detector, logger)

	bus := events.NewBus(eventHistory)

	svc := job.NewService(
		prober,
		normalizer,
		store,
		bus,
		job.WithLogger(logger),
		job.WithConcurrency(cfg.Concurrency),
		job.WithPreviewConcurrency(cfg.PreviewConcurrency),
		job.WithThresholds(scheduler.Thresholds{
			Interval:    cfg.ThrottleInterval,
			LoadHigh:    cfg.ThrottleLoadHigh,
			LoadLow:     cfg.ThrottleLoadLow,
			FreeMemLow:  cfg.ThrottleFreeMemLow,
			FreeMemHigh: cfg.ThrottleFreeMemHigh,
		}),
	)

	return &Dependencies{
		Service: svc,
		Events:  bus,
		Storage: store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Debug("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}
