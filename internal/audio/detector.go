package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// TrimRegion is the voiced span of a file in seconds.
// A valid region satisfies 0 <= Start < End <= duration.
type TrimRegion struct {
	Start float64
	End   float64
}

// Length returns End-Start.
func (r TrimRegion) Length() float64 {
	return r.End - r.Start
}

// Pad widens the region by pad seconds on each side, clamped to
// [0, duration]. It returns nil when the result is empty.
func (r TrimRegion) Pad(pad, duration float64) *TrimRegion {
	start := math.Max(0, r.Start-pad)
	end := math.Min(duration, r.End+pad)
	if !(end > start) {
		return nil
	}
	return &TrimRegion{Start: start, End: end}
}

// Detector finds the voiced region of a file.
type Detector struct {
	ffmpegPath   string
	runner       engine.Runner
	maxScanBytes int64
	logger       *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithMaxScanBytes sets the size ceiling for the in-process scan.
func WithMaxScanBytes(n int64) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.maxScanBytes = n
		}
	}
}

// NewDetector creates a Detector. If ffmpegPath is empty, it defaults to
// "ffmpeg" (found via PATH).
func NewDetector(ffmpegPath string, runner engine.Runner, logger *slog.Logger, opts ...DetectorOption) *Detector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		ffmpegPath:   ffmpegPath,
		runner:       runner,
		maxScanBytes: DefaultMaxScanBytes,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the padded voiced region of path, or nil when trimming is
// disabled, the file is too short, or no voiced content is found. Only
// cancellation is reported as an error; detection failures mean no trim.
// logf, when set, receives human-readable progress lines.
func (d *Detector) Detect(ctx context.Context, path string, duration float64, s settings.Settings, tr engine.Tracker, logf func(string)) (*TrimRegion, error) {
	if !s.AutoTrim || duration <= 0 {
		return nil, nil
	}
	t := s.EffectiveTrim()
	if duration*1000 < float64(t.MinFileMs) {
		logLine(logf, fmt.Sprintf("skip trim: %.2fs is shorter than %dms", duration, t.MinFileMs))
		return nil, nil
	}

	logLine(logf, fmt.Sprintf("detect config: threshold=%gdB minDur=%dms pad=%dms hpf=%t conservative=%t",
		t.ThresholdDb, t.MinDurationMs, t.PadMs, t.HighPass, s.TrimConservative))

	raw, err := d.detectRaw(ctx, path, duration, t, tr, logf)
	if err != nil {
		if errors.Is(err, engine.ErrCanceled) {
			return nil, err
		}
		d.logger.Warn("silence detection failed, not trimming",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		logLine(logf, "detection failed, keeping full file")
		return nil, nil
	}
	if raw == nil {
		logLine(logf, "no voiced content found, keeping full file")
		return nil, nil
	}

	region := raw.Pad(float64(t.PadMs)/1000, duration)
	if region == nil {
		logLine(logf, "padded region is empty, keeping full file")
		return nil, nil
	}
	logLine(logf, fmt.Sprintf("voiced region %.3fs - %.3fs", region.Start, region.End))
	return region, nil
}

func (d *Detector) detectRaw(ctx context.Context, path string, duration float64, t settings.Trim, tr engine.Tracker, logf func(string)) (*TrimRegion, error) {
	// The in-process scan has no high-pass stage, so it only stands in for
	// silencedetect when no filter was requested.
	if t.FastScan && !t.HighPass {
		region, err := ScanFile(path, d.maxScanBytes, ScanParams{
			ThresholdDb: t.ThresholdDb,
			SustainMs:   t.MinDurationMs,
		})
		if err == nil {
			return region, nil
		}
		d.logger.Debug("fast scan unavailable, falling back to silencedetect",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		logLine(logf, "fast scan unavailable, using silencedetect")
	}
	return d.detectWithSilenceFilter(ctx, path, duration, t, tr)
}

func logLine(logf func(string), line string) {
	if logf != nil {
		logf(line)
	}
}
