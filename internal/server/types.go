// Package server provides the HTTP control surface for the normalizer.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"github.com/maauso/bulk-audio-normalizer/internal/events"
	"github.com/maauso/bulk-audio-normalizer/internal/job"
	"github.com/maauso/bulk-audio-normalizer/internal/scheduler"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// StartBatchRequest is the HTTP request body for starting a batch.
type StartBatchRequest struct {
	// InputDir is the directory scanned recursively for WAV files.
	InputDir string `json:"inputDir" validate:"required"`
	// OutputDir receives the rendered files, mirroring InputDir.
	OutputDir string `json:"outputDir" validate:"required,nefield=InputDir"`
	// Settings overrides the default processing parameters.
	Settings *settings.Settings `json:"settings"`
	// Concurrency overrides the configured worker count when > 0.
	Concurrency int `json:"concurrency" validate:"gte=0,lte=64"`
	// Publish uploads every rendered file to S3.
	Publish bool `json:"publish"`
}

// StartPreviewRequest is the HTTP request body for starting a preview.
type StartPreviewRequest struct {
	InputDir    string             `json:"inputDir" validate:"required"`
	Settings    *settings.Settings `json:"settings"`
	SampleSize  int                `json:"sampleSize" validate:"gte=0,lte=50"`
	Concurrency int                `json:"concurrency" validate:"gte=0,lte=64"`
}

// CleanupPreviewRequest names a preview directory to remove.
type CleanupPreviewRequest struct {
	TempDir string `json:"tempDir" validate:"required"`
}

// StartResponse is returned when a run has been accepted.
type StartResponse struct {
	// Status is always "started".
	Status string `json:"status"`
	// Since is the event sequence to poll from to follow this run.
	Since int64 `json:"since"`
}

// EventsResponse is the HTTP response for event polling.
type EventsResponse struct {
	Events  []events.Event `json:"events"`
	LastSeq int64          `json:"lastSeq"`
	// Finished is set when the newest returned event ends a run.
	Finished bool `json:"finished"`
}

// FilesResponse lists the files of the active run.
type FilesResponse struct {
	Active bool           `json:"active"`
	Files  []job.Snapshot `json:"files"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Active   bool                     `json:"active"`
	Throttle *scheduler.ThrottleState `json:"throttle,omitempty"`
}
