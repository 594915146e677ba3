package cli

import (
	"github.com/spf13/cobra"

	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// settingsFlags binds processing settings to command flags, starting from
// settings.Default.
type settingsFlags struct {
	s    settings.Settings
	mode string
}

func bindSettingsFlags(cmd *cobra.Command) *settingsFlags {
	sf := &settingsFlags{s: settings.Default()}
	sf.mode = string(sf.s.NormMode)

	f := cmd.Flags()
	f.StringVar(&sf.mode, "mode", sf.mode, "normalization mode (lufs, peak)")
	f.Float64Var(&sf.s.LufsTarget, "lufs-target", sf.s.LufsTarget, "integrated loudness target in LUFS")
	f.Float64Var(&sf.s.TruePeakMargin, "tp-margin", sf.s.TruePeakMargin, "true-peak ceiling in dBTP")
	f.Float64Var(&sf.s.LoudnessRange, "lra", sf.s.LoudnessRange, "loudness range target in LU")
	f.Float64Var(&sf.s.LimiterLimit, "limiter", sf.s.LimiterLimit, "limiter ceiling as a linear amplitude")

	f.Float64Var(&sf.s.PeakTargetDb, "peak-target", sf.s.PeakTargetDb, "peak target in dBFS")
	f.BoolVar(&sf.s.PeakOnlyBoost, "peak-only-boost", sf.s.PeakOnlyBoost, "never attenuate in peak mode")
	f.Float64Var(&sf.s.PeakGainClampDb, "peak-clamp", sf.s.PeakGainClampDb, "maximum absolute peak gain in dB")

	f.BoolVar(&sf.s.AutoTrim, "trim", sf.s.AutoTrim, "trim leading and trailing silence")
	f.Float64Var(&sf.s.TrimThresholdDb, "trim-threshold", sf.s.TrimThresholdDb, "silence threshold in dBFS")
	f.IntVar(&sf.s.TrimMinDurationMs, "trim-min-duration", sf.s.TrimMinDurationMs, "minimum silence length in ms")
	f.IntVar(&sf.s.TrimPadMs, "trim-pad", sf.s.TrimPadMs, "padding kept around speech in ms")
	f.IntVar(&sf.s.TrimMinFileMs, "trim-min-file", sf.s.TrimMinFileMs, "skip trimming files shorter than this in ms")
	f.BoolVar(&sf.s.TrimConservative, "trim-conservative", sf.s.TrimConservative, "apply conservative trim floors")
	f.BoolVar(&sf.s.TrimHighPass, "trim-hpf", sf.s.TrimHighPass, "high-pass filter before silence detection")
	f.BoolVar(&sf.s.TrimFastScan, "trim-fast-scan", sf.s.TrimFastScan, "scan PCM WAV data in-process when possible")

	f.StringVar(&sf.s.TargetBitDepth, "bit-depth", sf.s.TargetBitDepth, "output bit depth (16, 24, original)")
	f.IntVar(&sf.s.FFmpegThreads, "threads", sf.s.FFmpegThreads, "ffmpeg thread hint, 0 lets ffmpeg decide")
	f.BoolVar(&sf.s.FastNormalize, "fast", sf.s.FastNormalize, "skip the analysis pass")
	f.BoolVarP(&sf.s.Verbose, "verbose", "v", sf.s.Verbose, "show engine logs")
	return sf
}

// Settings returns the validated settings.
func (sf *settingsFlags) Settings() (settings.Settings, error) {
	s := sf.s
	s.NormMode = settings.NormMode(sf.mode)
	if err := s.Validate(); err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}
