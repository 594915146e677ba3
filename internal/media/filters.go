package media

import (
	"fmt"
	"math"
	"strconv"

	"github.com/maauso/bulk-audio-normalizer/internal/audio"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// highPassFilter suppresses low-frequency rumble ahead of measurement.
const highPassFilter = "highpass=f=80"

// Output codecs.
const (
	CodecU8  = "pcm_u8"
	CodecS16 = "pcm_s16le"
	CodecS24 = "pcm_s24le"
	CodecS32 = "pcm_s32le"
	CodecF32 = "pcm_f32le"
	CodecF64 = "pcm_f64le"
)

// LoudnessMeasurement is the loudnorm first-pass summary.
type LoudnessMeasurement struct {
	InputI       float64
	InputLRA     float64
	InputTP      float64
	InputThresh  float64
	TargetOffset float64
}

// measurementFromJSON converts a loudnorm JSON summary. loudnorm prints
// numbers as strings and reports "-inf" for silent input, which is
// rejected.
func measurementFromJSON(obj map[string]any) (*LoudnessMeasurement, error) {
	get := func(key string) (float64, error) {
		raw, ok := obj[key]
		if !ok {
			return 0, fmt.Errorf("missing %s", key)
		}
		var v float64
		switch x := raw.(type) {
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return 0, fmt.Errorf("parse %s: %w", key, err)
			}
			v = f
		case float64:
			v = x
		default:
			return 0, fmt.Errorf("unexpected %s type %T", key, raw)
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%s is not finite", key)
		}
		return v, nil
	}

	var m LoudnessMeasurement
	var err error
	if m.InputI, err = get("input_i"); err != nil {
		return nil, err
	}
	if m.InputLRA, err = get("input_lra"); err != nil {
		return nil, err
	}
	if m.InputTP, err = get("input_tp"); err != nil {
		return nil, err
	}
	if m.InputThresh, err = get("input_thresh"); err != nil {
		return nil, err
	}
	if m.TargetOffset, err = get("target_offset"); err != nil {
		return nil, err
	}
	return &m, nil
}

// loudnormBase is the shared loudnorm target spec.
func loudnormBase(s settings.Settings) string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s", num(s.LufsTarget), num(s.TruePeakMargin), num(s.LoudnessRange))
}

// AnalysisFilter builds the measurement chain for the analyze pass.
func AnalysisFilter(s settings.Settings) string {
	var f string
	if s.NormMode == settings.ModePeak {
		f = "volumedetect"
	} else {
		f = loudnormBase(s) + ":print_format=json"
	}
	if s.AutoTrim && s.TrimHighPass {
		f = highPassFilter + "," + f
	}
	return f
}

// RenderFilter builds the render chain and returns the static gain applied
// in peak mode (zero in lufs mode).
func RenderFilter(s settings.Settings, m *LoudnessMeasurement, maxVolumeDb *float64) (string, float64) {
	var f string
	gain := 0.0

	if s.NormMode == settings.ModePeak {
		if maxVolumeDb != nil {
			gain = PeakGain(s.PeakTargetDb, *maxVolumeDb, s.PeakOnlyBoost, s.PeakGainClampDb)
		}
		f = fmt.Sprintf("volume=%.2fdB", gain)
	} else {
		f = loudnormBase(s)
		if m != nil {
			f += fmt.Sprintf(":measured_I=%s:measured_LRA=%s:measured_TP=%s:measured_thresh=%s:offset=%s:linear=true",
				num(m.InputI), num(m.InputLRA), num(m.InputTP), num(m.InputThresh), num(m.TargetOffset))
		}
		f += ":print_format=summary"
		f += fmt.Sprintf(",alimiter=limit=%s:level_in=1.0:level_out=1.0", num(s.LimiterLimit))
	}

	if s.AutoTrim && s.TrimHighPass {
		f = highPassFilter + "," + f
	}
	return f, gain
}

// PeakGain returns the gain in dB that moves measured to target, limited to
// boosts when onlyBoost is set and clamped to ±clampDb.
func PeakGain(targetDb, measuredDb float64, onlyBoost bool, clampDb float64) float64 {
	gain := targetDb - measuredDb
	if onlyBoost {
		gain = math.Max(0, gain)
	}
	if clampDb > 0 {
		gain = math.Max(-clampDb, math.Min(clampDb, gain))
	}
	return gain
}

// ChooseCodec picks the output PCM codec from the requested bit depth and
// the input's own format. A nil format is treated as unknown.
func ChooseCodec(target string, in *audio.Format) string {
	switch target {
	case settings.BitDepth16:
		return CodecS16
	case settings.BitDepth24:
		if in != nil && !in.IsFloat() && in.BitsPerSample > 0 && in.BitsPerSample <= 16 {
			return CodecS16
		}
		return CodecS24
	}

	if in == nil || in.BitsPerSample <= 0 {
		return CodecS16
	}
	if in.IsFloat() {
		if in.BitsPerSample >= 64 {
			return CodecF64
		}
		return CodecF32
	}
	switch {
	case in.BitsPerSample <= 8:
		return CodecU8
	case in.BitsPerSample <= 16:
		return CodecS16
	case in.BitsPerSample <= 24:
		return CodecS24
	case in.BitsPerSample <= 32:
		return CodecS32
	default:
		return CodecS16
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
