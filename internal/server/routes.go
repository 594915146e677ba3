package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins lists the CORS origins of browser front ends.
	AllowedOrigins []string
}

// DefaultConfig allows any origin.
func DefaultConfig() Config {
	return Config{AllowedOrigins: []string{"*"}}
}

// NewRouter wires the control and event endpoints behind the middleware chain.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	// runs
	mux.HandleFunc("POST /batches", h.StartBatch)
	mux.HandleFunc("POST /previews", h.StartPreview)
	mux.HandleFunc("DELETE /previews", h.CleanupPreview)
	mux.HandleFunc("POST /cancel", h.Cancel)

	// observation
	mux.HandleFunc("GET /events", h.Events)
	mux.HandleFunc("GET /files", h.Files)
	mux.HandleFunc("GET /files/{id}", h.GetFile)

	return ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)(mux)
}
