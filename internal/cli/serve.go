package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/bulk-audio-normalizer/internal/server"
)

// shutdownTimeout bounds graceful shutdown, including canceling an active run.
const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control server",
		Long: `Start an HTTP server that starts batches and previews, cancels the active
run and serves the event stream for polling front ends.

Example:
  ban serve
  ban serve --port 9090`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().IntVar(&port, "port", 0, "server port (overrides PORT)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", []string{"*"}, "allowed CORS origins")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if port == 0 {
			port = a.cfg.Port
		}
		deps, err := a.dependencies(cmd.Context())
		if err != nil {
			return err
		}
		logger := a.logger

		logger.Info("starting bulk audio normalizer server",
			slog.Int("port", port),
			slog.String("log_format", a.cfg.LogFormat),
			slog.String("log_level", a.cfg.LogLevel),
			slog.String("temp_dir", deps.Storage.TempDir()),
			slog.Bool("s3_enabled", a.cfg.S3Enabled()),
		)

		handlers := server.NewHandlers(deps.Service, deps.Events, deps.Storage, logger)
		router := server.NewRouter(handlers, logger, server.Config{AllowedOrigins: origins})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), a.signals...)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server failed: %w", err)
			}
		}()

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-errCh:
			return err
		}

		if deps.Service.Active() {
			logger.Info("canceling active run")
			_ = deps.Service.Cancel()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
		return nil
	}
	return cmd
}
