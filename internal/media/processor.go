// Package media renders loudness-normalized, optionally trimmed copies of
// audio files with ffmpeg.
package media

import (
	"context"

	"github.com/maauso/bulk-audio-normalizer/internal/audio"
	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// Phase is one step of a file pipeline.
type Phase string

const (
	PhaseDetect  Phase = "detect"
	PhaseAnalyze Phase = "analyze"
	PhaseRender  Phase = "render"
)

// PhaseStatus marks a phase boundary.
type PhaseStatus string

const (
	PhaseStart PhaseStatus = "start"
	PhaseDone  PhaseStatus = "done"
)

// Target identifies one file to process.
type Target struct {
	Input    string
	Output   string
	Duration float64
	// Tracker owns the subprocess handles spawned for this file.
	Tracker engine.Tracker
}

// Hooks receive pipeline notifications. Any field may be nil.
type Hooks struct {
	OnPhase func(phase Phase, status PhaseStatus)
	// OnProgress reports render progress as a phase-local percentage and as
	// seconds of the source file processed so far.
	OnProgress func(phase Phase, percent, processedSec float64)
	OnLog      func(phase Phase, line string)
}

func (h Hooks) phase(p Phase, s PhaseStatus) {
	if h.OnPhase != nil {
		h.OnPhase(p, s)
	}
}

func (h Hooks) progress(p Phase, percent, processed float64) {
	if h.OnProgress != nil {
		h.OnProgress(p, percent, processed)
	}
}

func (h Hooks) log(p Phase, line string) {
	if h.OnLog != nil {
		h.OnLog(p, line)
	}
}

func (h Hooks) logger(p Phase) func(string) {
	return func(line string) { h.log(p, line) }
}

// Result describes a rendered file.
type Result struct {
	Output      string
	Region      *audio.TrimRegion
	Measurement *LoudnessMeasurement
	MaxVolumeDb *float64
	GainDb      float64
	Codec       string
}

// Processor runs the detect, analyze and render phases for one file.
type Processor interface {
	Process(ctx context.Context, t Target, s settings.Settings, h Hooks) (*Result, error)
}
