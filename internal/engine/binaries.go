package engine

import (
	"errors"
	"fmt"
	"os/exec"
)

// Static errors for binary validation.
var (
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be resolved.
	ErrFFmpegNotFound = errors.New("engine: ffmpeg binary not found")
	// ErrFFprobeNotFound is returned when the ffprobe binary cannot be resolved.
	ErrFFprobeNotFound = errors.New("engine: ffprobe binary not found")
)

// ValidateBinaries checks that both engine binaries can be executed.
func ValidateBinaries(ffmpegPath, ffprobePath string) error {
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s", ErrFFmpegNotFound, ffmpegPath)
	}
	if _, err := exec.LookPath(ffprobePath); err != nil {
		return fmt.Errorf("%w: %s", ErrFFprobeNotFound, ffprobePath)
	}
	return nil
}
