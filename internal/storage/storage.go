// Package storage locates input audio, maps it to output locations and
// manages preview scratch space. Rendered files can optionally be
// published to S3.
package storage

import (
	"context"
)

// Storage defines the scratch-space and publishing operations a run needs.
type Storage interface {
	// TempDir returns the root under which preview directories are created.
	TempDir() string

	// NewPreviewDir removes stale preview directories and creates a fresh one.
	NewPreviewDir(ctx context.Context) (string, error)

	// CleanupTemp removes the specified files or directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// CanPublish reports whether Publish is available.
	CanPublish() bool

	// Publish uploads the file at localPath under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Publish(ctx context.Context, key, localPath string) (url string, err error)
}
