package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/logscan"
)

// FallbackDuration is returned when no duration can be determined, keeping
// percentage math defined.
const FallbackDuration = 1.0

// Prober determines playable durations.
type Prober struct {
	ffprobePath string
	runner      engine.Runner
	logger      *slog.Logger
}

// NewProber creates a Prober. If ffprobePath is empty, it defaults to
// "ffprobe" (found via PATH).
func NewProber(ffprobePath string, runner engine.Runner, logger *slog.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{ffprobePath: ffprobePath, runner: runner, logger: logger}
}

// FastDuration computes dataSize/byteRate from the WAV header.
func FastDuration(path string) (float64, error) {
	h, err := readHeader(path)
	if err != nil {
		return 0, err
	}
	if h.ByteRate <= 0 || h.DataSize <= 0 {
		return 0, fmt.Errorf("audio: unusable header (byte rate %d, data size %d)", h.ByteRate, h.DataSize)
	}
	d := float64(h.DataSize) / float64(h.ByteRate)
	if !isPositiveFinite(d) {
		return 0, fmt.Errorf("audio: invalid duration %v", d)
	}
	return d, nil
}

// ProbeDuration returns the duration of path in seconds. It never fails:
// the header is tried first, then ffprobe, then FallbackDuration.
func (p *Prober) ProbeDuration(ctx context.Context, path string, tr engine.Tracker) float64 {
	if d, err := FastDuration(path); err == nil {
		return d
	}

	d, err := p.ffprobeDuration(ctx, path, tr)
	if err != nil {
		p.logger.Debug("duration probe failed, using fallback",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return FallbackDuration
	}
	return d
}

func (p *Prober) ffprobeDuration(ctx context.Context, path string, tr engine.Tracker) (float64, error) {
	var out logscan.Collector
	err := engine.Run(ctx, p.runner, tr, engine.Command{
		Path: p.ffprobePath,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		OnStdout: out.Add,
	})
	if err != nil {
		return 0, err
	}

	var d float64
	if _, err := fmt.Sscanf(strings.TrimSpace(out.Text()), "%f", &d); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	if !isPositiveFinite(d) {
		return 0, fmt.Errorf("audio: invalid duration %v", d)
	}
	return d, nil
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
