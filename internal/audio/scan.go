package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// DefaultMaxScanBytes bounds how large a file the in-process scan will load.
const DefaultMaxScanBytes int64 = 256 << 20

// Static errors for the in-process scan.
var (
	// ErrScanTooLarge is returned when a file exceeds the scan size ceiling.
	ErrScanTooLarge = errors.New("audio: file exceeds fast scan size limit")
	// ErrUnsupportedSamples is returned for sample encodings the scan cannot read.
	ErrUnsupportedSamples = errors.New("audio: unsupported sample encoding")
)

// ScanParams configures the in-process voiced-region scan.
type ScanParams struct {
	// ThresholdDb is the level (dBFS) a frame must exceed to count as signal.
	ThresholdDb float64
	// SustainMs is how long signal must persist to mark an onset or offset.
	SustainMs int
}

// ScanFile loads the file at path and returns its unpadded voiced region,
// or nil when no sustained signal is present.
func ScanFile(path string, maxBytes int64, p ScanParams) (*TrimRegion, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && st.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrScanTooLarge, st.Size())
	}

	buf, err := os.ReadFile(path) // #nosec G304 - path comes from directory discovery
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	end := h.DataOffset + h.DataSize
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return ScanSamples(h, buf[h.DataOffset:end], p)
}

// ScanSamples finds the voiced region in raw interleaved sample data. The
// onset is the first frame of the first run of above-threshold frames at
// least SustainMs long; the offset is the end of the last such run.
func ScanSamples(h *Header, data []byte, p ScanParams) (*TrimRegion, error) {
	peak, err := framePeakFunc(h)
	if err != nil {
		return nil, err
	}
	if h.SampleRate <= 0 || h.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedSamples, h.SampleRate, h.Channels)
	}

	block := h.BlockAlign
	if minBlock := h.Channels * bytesPerSample(h.BitsPerSample); block < minBlock {
		block = minBlock
	}
	frames := len(data) / block
	if frames == 0 {
		return nil, nil
	}

	threshold := math.Pow(10, p.ThresholdDb/20)
	sustain := int(math.Round(float64(p.SustainMs) / 1000 * float64(h.SampleRate)))
	if sustain < 1 {
		sustain = 1
	}

	above := func(i int) bool {
		return peak(data[i*block:(i+1)*block], h.Channels) > threshold
	}

	onset := -1
	run := 0
	for i := 0; i < frames; i++ {
		if !above(i) {
			run = 0
			continue
		}
		run++
		if run >= sustain {
			onset = i - run + 1
			break
		}
	}
	if onset < 0 {
		return nil, nil
	}

	offset := -1
	run = 0
	for i := frames - 1; i >= 0; i-- {
		if !above(i) {
			run = 0
			continue
		}
		run++
		if run >= sustain {
			offset = i + run
			break
		}
	}
	if offset <= onset {
		return nil, nil
	}

	rate := float64(h.SampleRate)
	return &TrimRegion{Start: float64(onset) / rate, End: float64(offset) / rate}, nil
}

func bytesPerSample(bits int) int {
	return (bits + 7) / 8
}

// framePeakFunc returns a function computing the maximum absolute sample of
// one frame, normalized so full scale is 1.
func framePeakFunc(h *Header) (func(frame []byte, channels int) float64, error) {
	le := binary.LittleEndian
	width := bytesPerSample(h.BitsPerSample)

	var sample func(b []byte) float64
	switch {
	case h.AudioFormat == FormatPCM && width == 1:
		sample = func(b []byte) float64 { return math.Abs(float64(int(b[0])-128) / 128) }
	case h.AudioFormat == FormatPCM && width == 2:
		sample = func(b []byte) float64 { return math.Abs(float64(int16(le.Uint16(b))) / 32768) }
	case h.AudioFormat == FormatPCM && width == 3:
		sample = func(b []byte) float64 {
			v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			return math.Abs(float64(v) / 8388608)
		}
	case h.AudioFormat == FormatPCM && width == 4:
		sample = func(b []byte) float64 { return math.Abs(float64(int32(le.Uint32(b))) / 2147483648) }
	case h.AudioFormat == FormatFloat && width == 4:
		sample = func(b []byte) float64 { return math.Abs(float64(math.Float32frombits(le.Uint32(b)))) }
	case h.AudioFormat == FormatFloat && width == 8:
		sample = func(b []byte) float64 { return math.Abs(math.Float64frombits(le.Uint64(b))) }
	default:
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedSamples, h.AudioFormat, h.BitsPerSample)
	}

	return func(frame []byte, channels int) float64 {
		peak := 0.0
		for c := 0; c < channels; c++ {
			if v := sample(frame[c*width : (c+1)*width]); v > peak {
				peak = v
			}
		}
		return peak
	}, nil
}
