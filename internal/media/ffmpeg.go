package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/maauso/bulk-audio-normalizer/internal/audio"
	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/logscan"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// Compile-time check that FFmpegNormalizer implements Processor.
var _ Processor = (*FFmpegNormalizer)(nil)

// FFmpegNormalizer implements Processor with a measurement pass followed by
// a render pass through the ffmpeg CLI.
type FFmpegNormalizer struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	runner     engine.Runner
	detector   *audio.Detector
	logger     *slog.Logger
}

// NewFFmpegNormalizer creates a new FFmpegNormalizer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegNormalizer(ffmpegPath string, runner engine.Runner, detector *audio.Detector, logger *slog.Logger) *FFmpegNormalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = audio.NewDetector(ffmpegPath, runner, logger)
	}
	return &FFmpegNormalizer{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		detector:   detector,
		logger:     logger,
	}
}

// Process drives one file through detect, analyze and render. Only
// cancellation (engine.ErrCanceled) and render or analysis exit failures
// are returned as errors.
func (n *FFmpegNormalizer) Process(ctx context.Context, t Target, s settings.Settings, h Hooks) (*Result, error) {
	res := &Result{Output: t.Output}

	h.phase(PhaseDetect, PhaseStart)
	region, err := n.detector.Detect(ctx, t.Input, t.Duration, s, t.Tracker, h.logger(PhaseDetect))
	if err != nil {
		return nil, err
	}
	res.Region = region
	h.phase(PhaseDetect, PhaseDone)

	seek := seekArgs(region, t.Duration)

	// Fast mode drops only the loudnorm measurement; peak gain always needs
	// the volumedetect pass.
	if !s.FastNormalize || s.NormMode == settings.ModePeak {
		h.phase(PhaseAnalyze, PhaseStart)
		if s.NormMode == settings.ModePeak {
			res.MaxVolumeDb, err = n.analyzePeak(ctx, t, s, seek, h)
		} else {
			res.Measurement, err = n.analyzeLoudness(ctx, t, s, seek, h)
		}
		if err != nil {
			return nil, err
		}
		h.phase(PhaseAnalyze, PhaseDone)
	}

	if canceled(t.Tracker) {
		return nil, engine.ErrCanceled
	}

	h.phase(PhaseRender, PhaseStart)
	if err := n.render(ctx, t, s, seek, region, res, h); err != nil {
		return nil, err
	}
	h.phase(PhaseRender, PhaseDone)
	return res, nil
}

// analyzeLoudness runs loudnorm in measurement mode. A missing or malformed
// summary yields a nil measurement, which selects single-pass rendering.
func (n *FFmpegNormalizer) analyzeLoudness(ctx context.Context, t Target, s settings.Settings, seek []string, h Hooks) (*LoudnessMeasurement, error) {
	var stderr logscan.Collector
	err := engine.Run(ctx, n.runner, t.Tracker, engine.Command{
		Path:     n.ffmpegPath,
		Args:     n.analysisArgs(t.Input, s, seek),
		OnStderr: stderr.Add,
	})
	if err != nil {
		return nil, err
	}

	obj, ok := logscan.LastJSONObject(stderr.Text())
	if !ok {
		h.log(PhaseAnalyze, "no loudness summary found, falling back to single-pass")
		return nil, nil
	}
	m, err := measurementFromJSON(obj)
	if err != nil {
		h.log(PhaseAnalyze, fmt.Sprintf("unusable loudness summary (%v), falling back to single-pass", err))
		return nil, nil
	}
	h.log(PhaseAnalyze, fmt.Sprintf("measured I=%.2f LUFS LRA=%.2f TP=%.2f dBTP thresh=%.2f offset=%.2f",
		m.InputI, m.InputLRA, m.InputTP, m.InputThresh, m.TargetOffset))
	return m, nil
}

// analyzePeak runs volumedetect and returns the reported max_volume, or nil
// when none was printed.
func (n *FFmpegNormalizer) analyzePeak(ctx context.Context, t Target, s settings.Settings, seek []string, h Hooks) (*float64, error) {
	var maxVol *float64
	err := engine.Run(ctx, n.runner, t.Tracker, engine.Command{
		Path: n.ffmpegPath,
		Args: n.analysisArgs(t.Input, s, seek),
		OnStderr: func(line string) {
			if v, ok := logscan.ParseMaxVolume(line); ok {
				maxVol = &v
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if maxVol == nil {
		h.log(PhaseAnalyze, "no max_volume reported, rendering without gain")
	}
	return maxVol, nil
}

func (n *FFmpegNormalizer) render(ctx context.Context, t Target, s settings.Settings, seek []string, region *audio.TrimRegion, res *Result, h Hooks) error {
	format, err := audio.ReadFormat(t.Input)
	if err != nil {
		n.logger.Debug("input format unknown",
			slog.String("path", t.Input),
			slog.String("error", err.Error()),
		)
		format = nil
	}
	res.Codec = ChooseCodec(s.TargetBitDepth, format)

	filter, gain := RenderFilter(s, res.Measurement, res.MaxVolumeDb)
	res.GainDb = gain
	if s.NormMode == settings.ModePeak {
		measured := "n/a"
		if res.MaxVolumeDb != nil {
			measured = strconv.FormatFloat(*res.MaxVolumeDb, 'f', 2, 64)
		}
		h.log(PhaseAnalyze, fmt.Sprintf("peak mode: measured=%s dB target=%.2f dB gain=%.2f dB onlyBoost=%t",
			measured, s.PeakTargetDb, gain, s.PeakOnlyBoost))
	}

	if err := os.MkdirAll(filepath.Dir(t.Output), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	window := t.Duration
	if region != nil {
		window = region.Length()
	}

	args := verbosityArgs(s)
	args = append(args, "-nostdin", "-stats", "-y")
	args = append(args, seek...)
	args = append(args, "-i", t.Input)
	args = append(args, threadArgs(s)...)
	args = append(args,
		"-af", filter,
		"-acodec", res.Codec,
		"-map_metadata", "-1",
		t.Output,
	)

	h.log(PhaseRender, fmt.Sprintf("codec=%s filter=%s", res.Codec, filter))

	last := 0.0
	err = engine.Run(ctx, n.runner, t.Tracker, engine.Command{
		Path: n.ffmpegPath,
		Args: args,
		OnStderr: func(line string) {
			elapsed, ok := logscan.ParseTime(line)
			if !ok {
				if s.Verbose {
					h.log(PhaseRender, line)
				}
				return
			}
			if window <= 0 {
				return
			}
			frac := min(elapsed/window, 1)
			if frac <= last {
				return
			}
			last = frac
			h.progress(PhaseRender, frac*100, frac*t.Duration)
		},
	})
	if err != nil {
		return err
	}

	h.progress(PhaseRender, 100, t.Duration)
	h.log(PhaseRender, "completed: "+t.Output)
	return nil
}

func (n *FFmpegNormalizer) analysisArgs(input string, s settings.Settings, seek []string) []string {
	args := []string{"-hide_banner", "-nostats", "-v", "info"}
	args = append(args, seek...)
	args = append(args, "-i", input)
	args = append(args, threadArgs(s)...)
	return append(args, "-af", AnalysisFilter(s), "-f", "null", "-")
}

// seekArgs returns an input seek window when the region drops any audio.
func seekArgs(region *audio.TrimRegion, duration float64) []string {
	if region == nil || (region.Start <= 0 && region.End >= duration) {
		return nil
	}
	return []string{
		"-ss", strconv.FormatFloat(region.Start, 'f', 3, 64),
		"-to", strconv.FormatFloat(region.End, 'f', 3, 64),
	}
}

func verbosityArgs(s settings.Settings) []string {
	if s.Verbose {
		return []string{"-v", "info"}
	}
	return []string{"-hide_banner", "-v", "error"}
}

func threadArgs(s settings.Settings) []string {
	if s.FFmpegThreads > 0 {
		return []string{"-threads", strconv.Itoa(s.FFmpegThreads)}
	}
	return nil
}

func canceled(tr engine.Tracker) bool {
	return tr != nil && tr.Canceled()
}

// IsCanceled reports whether err marks an expected cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, engine.ErrCanceled)
}
