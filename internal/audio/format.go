package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Format describes the sample encoding of an input file.
type Format struct {
	AudioFormat   uint16
	BitsPerSample int
	Channels      int
	SampleRate    int
}

// IsFloat reports whether samples are IEEE floats.
func (f *Format) IsFloat() bool {
	return f.AudioFormat == FormatFloat
}

// ReadFormat decodes the fmt chunk of the WAV file at path.
func ReadFormat(path string) (*Format, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from directory discovery
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("read wav info: %w", err)
	}
	if dec.BitDepth == 0 || dec.NumChans == 0 {
		return nil, ErrNoFormatChunk
	}

	format := &Format{
		AudioFormat:   dec.WavAudioFormat,
		BitsPerSample: int(dec.BitDepth),
		Channels:      int(dec.NumChans),
		SampleRate:    int(dec.SampleRate),
	}

	if format.AudioFormat == FormatExtensible {
		h, err := readHeader(path)
		if err != nil {
			return nil, err
		}
		format.AudioFormat = h.AudioFormat
	}
	return format, nil
}
