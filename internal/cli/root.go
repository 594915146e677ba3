// Package cli implements the ban command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/bulk-audio-normalizer/internal/bootstrap"
	"github.com/maauso/bulk-audio-normalizer/internal/config"
	"github.com/maauso/bulk-audio-normalizer/internal/job"
)

// DependencyFunc builds the runtime dependencies for a command.
type DependencyFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bootstrap.Dependencies, error)

// Option customizes the root command.
type Option func(*app)

// WithDependencies replaces bootstrap.NewDependencies.
func WithDependencies(fn DependencyFunc) Option {
	return func(a *app) { a.newDeps = fn }
}

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	logLevel  string
	logFormat string
	newDeps   DependencyFunc
	signals   []os.Signal
}

// NewRootCmd creates the ban command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{
		newDeps: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bootstrap.Dependencies, error) {
			return bootstrap.NewDependencies(ctx, cfg, logger)
		},
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "ban",
		Short: "Bulk audio normalizer",
		Long: `ban normalizes the loudness of every WAV file in a directory tree and
optionally trims leading and trailing silence, driving ffmpeg.

Configuration is read from the environment (FFMPEG_PATH, CONCURRENCY,
S3_BUCKET, ...). Flags override the environment.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		newRunCmd(a),
		newPreviewCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		PrintError(cmd.ErrOrStderr(), err.Error())
		return 1
	}
	return 0
}

// loadConfig reads the environment once per invocation. The version
// command does not need it.
func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.NewLoggerTo(cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) dependencies(ctx context.Context) (*bootstrap.Dependencies, error) {
	deps, err := a.newDeps(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initialize dependencies: %w", err)
	}
	return deps, nil
}

// execute runs fn while rendering events, translating an interrupt into
// a service cancel.
func (a *app) execute(cmd *cobra.Command, deps *bootstrap.Dependencies, verbose bool, fn func(ctx context.Context) (*job.Summary, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sigCtx, stop := signal.NotifyContext(ctx, a.signals...)
	defer stop()

	ch, unsubscribe := deps.Events.Subscribe(1024)
	sink := NewSink(cmd.OutOrStdout(), verbose)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sink.Drain(ch)
	}()

	finished := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil {
				a.logger.Info("interrupt received, stopping run")
			}
			_ = deps.Service.Cancel()
		case <-finished:
		}
	}()

	// fn sees the interrupt through sigCtx even when it lands before the
	// service has claimed the run slot and Cancel has nothing to stop.
	summary, err := fn(sigCtx)
	close(finished)
	unsubscribe()
	<-drained

	sink.Summary(summary)
	return err
}
