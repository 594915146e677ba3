// Package logscan extracts structured values from the loosely formatted log
// streams printed by ffmpeg and ffprobe.
package logscan

import "bytes"

// SplitLines is a bufio.SplitFunc that treats both '\n' and '\r' as line
// terminators. ffmpeg rewrites its stats line with '\r', so splitting on
// '\n' alone would hold progress back until the process exits.
// Empty tokens are returned for "\r\n" pairs; callers skip them.
func SplitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
