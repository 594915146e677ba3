package logscan

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	timeRe         = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+(?:e-?\d+)?)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+(?:e-?\d+)?)`)
	maxVolumeRe    = regexp.MustCompile(`max_volume:\s*(-?[\d.]+|-inf)\s*dB`)
)

// ParseTime extracts the elapsed time marker (time=HH:MM:SS.ff) from a stats
// line, in seconds.
func ParseTime(line string) (float64, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, err1 := strconv.Atoi(m[1])
	mi, err2 := strconv.Atoi(m[2])
	s, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(mi)*60 + s, true
}

// ParseMaxVolume extracts the volumedetect max_volume value in dB.
// A "-inf" reading (digital silence) is reported as not found.
func ParseMaxVolume(line string) (float64, bool) {
	m := maxVolumeRe.FindStringSubmatch(line)
	if m == nil || m[1] == "-inf" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SilenceMarkers collects silencedetect start and end timestamps in the order
// they appear.
type SilenceMarkers struct {
	Starts []float64
	Ends   []float64
}

// Feed inspects one line for silence markers. A line may carry both.
func (m *SilenceMarkers) Feed(line string) {
	if s := silenceStartRe.FindStringSubmatch(line); s != nil {
		if v, err := strconv.ParseFloat(s[1], 64); err == nil {
			m.Starts = append(m.Starts, v)
		}
	}
	if e := silenceEndRe.FindStringSubmatch(line); e != nil {
		if v, err := strconv.ParseFloat(e[1], 64); err == nil {
			m.Ends = append(m.Ends, v)
		}
	}
}

// Collector accumulates lines from a concurrently written stream.
type Collector struct {
	mu    sync.Mutex
	lines []string
}

// Add appends a line. It is safe to use as an engine line callback.
func (c *Collector) Add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

// Text returns all collected lines joined with newlines.
func (c *Collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

// LastJSONObject returns the last flat JSON object in text that decodes
// cleanly. Engines print diagnostic fragments with braces before the final
// summary, so the last well-formed object wins.
func LastJSONObject(text string) (map[string]any, bool) {
	var last map[string]any
	found := false

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := strings.IndexByte(text[i+1:], '}')
		if end < 0 {
			break
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text[i:i+1+end+1]), &obj); err == nil {
			last = obj
			found = true
		}
	}
	return last, found
}
