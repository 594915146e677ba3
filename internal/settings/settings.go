// Package settings holds the per-run processing parameters shared by every
// file in a batch.
package settings

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is returned when a Settings value fails validation.
var ErrInvalid = errors.New("settings: invalid")

// NormMode selects how loudness is normalized.
type NormMode string

const (
	// ModeLUFS normalizes integrated loudness with loudnorm and a limiter.
	ModeLUFS NormMode = "lufs"
	// ModePeak applies a static gain so the sample peak reaches a target.
	ModePeak NormMode = "peak"
)

// Bit depth targets for rendered output.
const (
	BitDepth16       = "16"
	BitDepth24       = "24"
	BitDepthOriginal = "original"
)

// Floors applied in conservative trim mode.
const (
	conservativeThresholdDb = -60
	conservativeMinDuration = 300
	conservativePad         = 800
)

// Settings is immutable for the lifetime of a run.
type Settings struct {
	NormMode       NormMode `json:"normMode" validate:"required,oneof=peak lufs"`
	LufsTarget     float64  `json:"lufsTarget" validate:"gte=-70,lte=0"`
	TruePeakMargin float64  `json:"tpMargin" validate:"gte=-9,lte=0"`
	LoudnessRange  float64  `json:"lra" validate:"gte=1,lte=50"`
	LimiterLimit   float64  `json:"limiterLimit" validate:"gte=0.0625,lte=1"`

	PeakTargetDb    float64 `json:"peakTargetDb" validate:"gte=-60,lte=0"`
	PeakOnlyBoost   bool    `json:"peakOnlyBoost"`
	PeakGainClampDb float64 `json:"peakGainClampDb" validate:"gt=0,lte=60"`

	AutoTrim          bool    `json:"autoTrim"`
	TrimThresholdDb   float64 `json:"trimThresholdDb" validate:"gte=-120,lt=0"`
	TrimMinDurationMs int     `json:"trimMinDurationMs" validate:"gte=0,lte=60000"`
	TrimPadMs         int     `json:"trimPadMs" validate:"gte=0,lte=60000"`
	TrimMinFileMs     int     `json:"trimMinFileMs" validate:"gte=0"`
	TrimConservative  bool    `json:"trimConservative"`
	TrimHighPass      bool    `json:"trimHPF"`
	TrimFastScan      bool    `json:"trimFastScan"`

	TargetBitDepth string `json:"targetBitDepth" validate:"required,oneof=16 24 original"`
	FFmpegThreads  int    `json:"ffmpegThreads" validate:"gte=0,lte=64"`
	FastNormalize  bool   `json:"fastNormalize"`
	Verbose        bool   `json:"verboseLogs"`
}

// Default returns the settings used when the caller supplies none.
func Default() Settings {
	return Settings{
		NormMode:          ModeLUFS,
		LufsTarget:        -16,
		TruePeakMargin:    -1.0,
		LoudnessRange:     11,
		LimiterLimit:      0.97,
		PeakTargetDb:      -2,
		PeakOnlyBoost:     true,
		PeakGainClampDb:   30,
		AutoTrim:          false,
		TrimThresholdDb:   -50,
		TrimMinDurationMs: 200,
		TrimPadMs:         500,
		TrimMinFileMs:     800,
		TrimFastScan:      true,
		TargetBitDepth:    BitDepthOriginal,
	}
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Trim is the effective set of trim parameters after conservative floors.
type Trim struct {
	ThresholdDb   float64
	MinDurationMs int
	PadMs         int
	MinFileMs     int
	HighPass      bool
	FastScan      bool
}

// EffectiveTrim resolves the trim parameters, applying conservative floors
// when TrimConservative is set.
func (s Settings) EffectiveTrim() Trim {
	t := Trim{
		ThresholdDb:   s.TrimThresholdDb,
		MinDurationMs: s.TrimMinDurationMs,
		PadMs:         s.TrimPadMs,
		MinFileMs:     s.TrimMinFileMs,
		HighPass:      s.TrimHighPass,
		FastScan:      s.TrimFastScan,
	}
	if s.TrimConservative {
		t.ThresholdDb = math.Min(t.ThresholdDb, conservativeThresholdDb)
		t.MinDurationMs = max(t.MinDurationMs, conservativeMinDuration)
		t.PadMs = max(t.PadMs, conservativePad)
	}
	return t
}

