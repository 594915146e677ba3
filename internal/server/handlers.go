package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/bulk-audio-normalizer/internal/events"
	"github.com/maauso/bulk-audio-normalizer/internal/job"
	"github.com/maauso/bulk-audio-normalizer/internal/scheduler"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
	"github.com/maauso/bulk-audio-normalizer/internal/storage"
)

// Runner is the slice of job.Service the handlers drive.
type Runner interface {
	RunBatch(ctx context.Context, req job.BatchRequest) (*job.Summary, error)
	RunPreview(ctx context.Context, req job.PreviewRequest) (*job.Summary, error)
	Cancel() error
	Active() bool
	Current() []job.Snapshot
	File(id string) (job.Snapshot, error)
	Throttle() (scheduler.ThrottleState, bool)
}

// EventSource serves the event history to pollers.
type EventSource interface {
	Since(seq int64) []events.Event
	LastSeq() int64
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	runner             Runner
	events             EventSource
	store              storage.Storage
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background runs.
// When disabled, a run completes before the start handler responds.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner Runner, source EventSource, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		runner:             runner,
		events:             source,
		store:              store,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Active: h.runner.Active()}
	if st, ok := h.runner.Throttle(); ok {
		resp.Throttle = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// StartBatch handles POST /batches requests.
func (h *Handlers) StartBatch(w http.ResponseWriter, r *http.Request) {
	req := StartBatchRequest{Settings: defaultSettings()}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Publish && !h.store.CanPublish() {
		writeError(w, http.StatusBadRequest, storage.ErrS3NotConfigured.Error(), "S3_NOT_CONFIGURED")
		return
	}

	in := job.BatchRequest{
		InputDir:    filepath.Clean(req.InputDir),
		OutputDir:   filepath.Clean(req.OutputDir),
		Settings:    settingsOrDefault(req.Settings),
		Concurrency: req.Concurrency,
		Publish:     req.Publish,
	}
	h.start(w, r, "batch", func(ctx context.Context) (*job.Summary, error) {
		return h.runner.RunBatch(ctx, in)
	})
}

// StartPreview handles POST /previews requests.
func (h *Handlers) StartPreview(w http.ResponseWriter, r *http.Request) {
	req := StartPreviewRequest{Settings: defaultSettings()}
	if !h.decode(w, r, &req) {
		return
	}

	in := job.PreviewRequest{
		InputDir:    filepath.Clean(req.InputDir),
		Settings:    settingsOrDefault(req.Settings),
		SampleSize:  req.SampleSize,
		Concurrency: req.Concurrency,
	}
	h.start(w, r, "preview", func(ctx context.Context) (*job.Summary, error) {
		return h.runner.RunPreview(ctx, in)
	})
}

// CleanupPreview handles DELETE /previews requests. Only preview
// directories created by the storage backend can be removed.
func (h *Handlers) CleanupPreview(w http.ResponseWriter, r *http.Request) {
	var req CleanupPreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	dir := filepath.Clean(req.TempDir)
	if !strings.HasPrefix(filepath.Base(dir), storage.PreviewDirPrefix) {
		writeError(w, http.StatusBadRequest, "not a preview directory", "INVALID_PREVIEW_DIR")
		return
	}
	if err := h.store.CleanupTemp(r.Context(), []string{dir}); err != nil {
		h.logger.Error("failed to clean up preview",
			slog.String("temp_dir", dir),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to clean up preview", "CLEANUP_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles POST /cancel requests.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(); err != nil {
		if errors.Is(err, job.ErrNoActiveRun) {
			writeError(w, http.StatusConflict, err.Error(), "NO_ACTIVE_RUN")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "CANCEL_FAILED")
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{Status: "canceling", Since: h.events.LastSeq()})
}

// Events handles GET /events?since=N requests.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer", "INVALID_SINCE")
			return
		}
		since = v
	}

	list := h.events.Since(since)
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{
		Events:   list,
		LastSeq:  h.events.LastSeq(),
		Finished: len(list) > 0 && list[len(list)-1].Terminal(),
	})
}

// Files handles GET /files requests.
func (h *Handlers) Files(w http.ResponseWriter, r *http.Request) {
	files := h.runner.Current()
	if files == nil {
		files = []job.Snapshot{}
	}
	writeJSON(w, http.StatusOK, FilesResponse{Active: h.runner.Active(), Files: files})
}

// GetFile handles GET /files/{id} requests.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file ID is required", "MISSING_FILE_ID")
		return
	}

	snap, err := h.runner.File(fileID)
	if err != nil {
		if errors.Is(err, job.ErrTaskNotFound) || errors.Is(err, job.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "FILE_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// start launches a run detached from the request.
func (h *Handlers) start(w http.ResponseWriter, r *http.Request, kind string, run func(context.Context) (*job.Summary, error)) {
	if h.runner.Active() {
		writeError(w, http.StatusConflict, job.ErrRunInProgress.Error(), "RUN_IN_PROGRESS")
		return
	}

	since := h.events.LastSeq()
	ctx := context.WithoutCancel(r.Context())

	if !h.enableAsyncProcess {
		if _, err := run(ctx); err != nil {
			h.writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StartResponse{Status: "finished", Since: since})
		return
	}

	go func() {
		summary, err := run(ctx)
		if err != nil {
			h.logger.Error("background run failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
			return
		}
		h.logger.Info("background run finished",
			slog.String("kind", kind),
			slog.String("batch_id", summary.BatchID),
			slog.Int("completed", summary.Completed),
			slog.Bool("stopped", summary.Stopped),
		)
	}()

	h.logger.Info("run started", slog.String("kind", kind))
	writeJSON(w, http.StatusAccepted, StartResponse{Status: "started", Since: since})
}

func (h *Handlers) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error(), "RUN_IN_PROGRESS")
	case errors.Is(err, job.ErrNoAudioFiles):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "NO_AUDIO_FILES")
	case errors.Is(err, settings.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "RUN_FAILED")
	}
}

// decode reads and validates a JSON body, writing the error response
// itself when it returns false.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// defaultSettings seeds request bodies so omitted fields keep their defaults.
func defaultSettings() *settings.Settings {
	s := settings.Default()
	return &s
}

func settingsOrDefault(s *settings.Settings) settings.Settings {
	if s == nil {
		return settings.Default()
	}
	return *s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
