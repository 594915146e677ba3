package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("storage: S3 is not configured")

// PreviewDirPrefix names preview scratch directories.
const PreviewDirPrefix = "ban-preview-"

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk only.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// NewPreviewDir removes directories left behind by earlier previews and
// creates a new ban-preview-* directory under TempDir.
func (s *LocalStorage) NewPreviewDir(ctx context.Context) (string, error) {
	stale, err := filepath.Glob(filepath.Join(s.tempDir, PreviewDirPrefix+"*"))
	if err != nil {
		return "", fmt.Errorf("list preview directories: %w", err)
	}
	// Stale directories that cannot be removed do not block a new preview.
	_ = s.CleanupTemp(ctx, stale)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	dir, err := os.MkdirTemp(s.tempDir, PreviewDirPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create preview directory: %w", err)
	}
	return dir, nil
}

// CleanupTemp removes the specified paths. Only entries inside TempDir are
// touched. It returns the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if !s.contains(p) {
			if firstErr == nil {
				firstErr = fmt.Errorf("refusing to remove %s outside %s", p, s.tempDir)
			}
			continue
		}
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp path %s: %w", p, err)
			}
		}
	}
	return firstErr
}

func (s *LocalStorage) contains(p string) bool {
	rel, err := filepath.Rel(s.tempDir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CanPublish always returns false for LocalStorage.
func (s *LocalStorage) CanPublish() bool {
	return false
}

// Publish is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _, _ string) (string, error) {
	return "", ErrS3NotConfigured
}
