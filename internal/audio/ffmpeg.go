package audio

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/logscan"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// minSilenceSec is the shortest silence silencedetect is asked to report.
const minSilenceSec = 0.01

// silenceInterval represents a detected silence period.
type silenceInterval struct {
	start float64
	end   float64
}

// silenceFilter builds the -af chain for silence detection.
func silenceFilter(t settings.Trim) string {
	dur := math.Max(minSilenceSec, float64(t.MinDurationMs)/1000)
	filter := "silencedetect=n=" + formatFloat(t.ThresholdDb) + "dB:d=" + formatFloat(dur)
	if t.HighPass {
		filter = "highpass=f=80," + filter
	}
	return filter
}

// detectWithSilenceFilter runs ffmpeg's silencedetect over the whole file and
// returns the span from the first to the last non-silent interval.
func (d *Detector) detectWithSilenceFilter(ctx context.Context, path string, duration float64, t settings.Trim, tr engine.Tracker) (*TrimRegion, error) {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-v", "info",
		"-i", path,
		"-af", silenceFilter(t),
		"-f", "null",
		"-",
	}

	// stderr is read by a single goroutine and markers are used after Run
	// returns, so no locking is needed.
	var markers logscan.SilenceMarkers
	err := engine.Run(ctx, d.runner, tr, engine.Command{
		Path:     d.ffmpegPath,
		Args:     args,
		OnStderr: markers.Feed,
	})
	if err != nil {
		return nil, err
	}

	silences := pairSilences(markers.Starts, markers.Ends, duration)
	voiced := nonSilent(mergeSilences(silences), duration)
	if len(voiced) == 0 {
		return nil, nil
	}
	return &TrimRegion{Start: voiced[0].start, End: voiced[len(voiced)-1].end}, nil
}

// pairSilences pairs start and end markers in order. A trailing start with no
// end means the file ends in silence.
func pairSilences(starts, ends []float64, duration float64) []silenceInterval {
	n := min(len(starts), len(ends))
	intervals := make([]silenceInterval, 0, n+1)
	for i := 0; i < n; i++ {
		intervals = append(intervals, silenceInterval{start: starts[i], end: ends[i]})
	}
	if len(starts) > len(ends) {
		intervals = append(intervals, silenceInterval{start: starts[len(starts)-1], end: duration})
	}
	return intervals
}

// mergeSilences sorts intervals and merges those that overlap.
func mergeSilences(intervals []silenceInterval) []silenceInterval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]silenceInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start == sorted[j].start {
			return sorted[i].end < sorted[j].end
		}
		return sorted[i].start < sorted[j].start
	})

	merged := []silenceInterval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.start > last.end {
			merged = append(merged, iv)
			continue
		}
		last.end = math.Max(last.end, iv.end)
	}
	return merged
}

// nonSilent returns the complement of merged silences within [0, duration].
func nonSilent(merged []silenceInterval, duration float64) []silenceInterval {
	var out []silenceInterval
	prev := 0.0
	for _, s := range merged {
		if s.start > prev {
			out = append(out, silenceInterval{start: prev, end: math.Min(s.start, duration)})
		}
		prev = math.Max(prev, s.end)
	}
	if prev < duration {
		out = append(out, silenceInterval{start: prev, end: duration})
	}

	valid := out[:0]
	for _, iv := range out {
		if iv.end > iv.start {
			valid = append(valid, iv)
		}
	}
	return valid
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
