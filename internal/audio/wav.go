// Package audio inspects WAV files and finds their voiced region, either by
// scanning samples in-process or by asking ffmpeg's silencedetect filter.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WAVE format tags.
const (
	FormatPCM        uint16 = 1
	FormatFloat      uint16 = 3
	FormatExtensible uint16 = 0xFFFE
)

// headerProbeBytes is how much of a file is read to locate the fmt and data
// chunks without touching the sample data.
const headerProbeBytes = 512 * 1024

// Static errors for header parsing.
var (
	// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")
	// ErrNoFormatChunk is returned when no complete fmt chunk is found.
	ErrNoFormatChunk = errors.New("audio: fmt chunk not found")
	// ErrNoDataChunk is returned when no data chunk is found.
	ErrNoDataChunk = errors.New("audio: data chunk not found")
)

// Header is the subset of a WAV header needed for duration and scanning.
// AudioFormat is already resolved from the extensible sub-format.
type Header struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataOffset    int64
	DataSize      int64
}

// IsFloat reports whether samples are IEEE floats.
func (h *Header) IsFloat() bool {
	return h.AudioFormat == FormatFloat
}

// ParseHeader walks the RIFF chunk list in buf until both the fmt and data
// chunks are found. Chunks are word aligned; odd sizes carry a pad byte.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < 12 || !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return nil, ErrNotWAV
	}

	h := &Header{}
	haveFmt, haveData := false, false
	le := binary.LittleEndian

	pos := int64(12)
	n := int64(len(buf))
	for pos+8 <= n && !(haveFmt && haveData) {
		id := string(buf[pos : pos+4])
		size := int64(le.Uint32(buf[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > n {
				return nil, ErrNoFormatChunk
			}
			f := buf[body:]
			h.AudioFormat = le.Uint16(f[0:2])
			h.Channels = int(le.Uint16(f[2:4]))
			h.SampleRate = int(le.Uint32(f[4:8]))
			h.ByteRate = int(le.Uint32(f[8:12]))
			h.BlockAlign = int(le.Uint16(f[12:14]))
			h.BitsPerSample = int(le.Uint16(f[14:16]))
			// WAVE_FORMAT_EXTENSIBLE stores the real tag in the first two
			// bytes of the sub-format GUID at offset 24.
			if h.AudioFormat == FormatExtensible && size >= 40 && body+26 <= n {
				h.AudioFormat = le.Uint16(f[24:26])
			}
			haveFmt = true
		case "data":
			h.DataOffset = body
			h.DataSize = size
			haveData = true
		}

		pos = body + size + size&1
	}

	if !haveFmt {
		return nil, ErrNoFormatChunk
	}
	if !haveData {
		return nil, ErrNoDataChunk
	}
	return h, nil
}

// readHeader parses the header of the file at path from its first
// headerProbeBytes. The data size is clamped to what the file holds, which
// covers streamed files written with a placeholder size.
func readHeader(path string) (*Header, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from directory discovery
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, headerProbeBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}

	h, err := ParseHeader(buf[:n])
	if err != nil {
		return nil, err
	}

	if st, err := f.Stat(); err == nil {
		if avail := st.Size() - h.DataOffset; avail >= 0 && h.DataSize > avail {
			h.DataSize = avail
		}
	}
	return h, nil
}
