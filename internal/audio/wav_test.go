package audio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	t.Run("odd sized chunk before fmt is padded", func(t *testing.T) {
		buf := buildWAV(
			rawChunk{id: "LIST", body: []byte("odd")},
			fmtChunk(FormatPCM, 2, 48000, 24),
			rawChunk{id: "data", body: make([]byte, 600)},
		)

		h, err := ParseHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, FormatPCM, h.AudioFormat)
		assert.Equal(t, 2, h.Channels)
		assert.Equal(t, 48000, h.SampleRate)
		assert.Equal(t, 48000*6, h.ByteRate)
		assert.Equal(t, 6, h.BlockAlign)
		assert.Equal(t, 24, h.BitsPerSample)
		assert.Equal(t, int64(600), h.DataSize)
		assert.Equal(t, int64(len(buf)-600), h.DataOffset)
	})

	t.Run("extensible resolves sub-format", func(t *testing.T) {
		buf := buildWAV(
			extensibleFmtChunk(FormatFloat, 1, 44100, 32),
			rawChunk{id: "data", body: make([]byte, 8)},
		)

		h, err := ParseHeader(buf)
		require.NoError(t, err)
		assert.True(t, h.IsFloat())
	})

	t.Run("not riff", func(t *testing.T) {
		_, err := ParseHeader([]byte("ID3\x04 this is an mp3"))
		assert.ErrorIs(t, err, ErrNotWAV)
	})

	t.Run("missing data chunk", func(t *testing.T) {
		_, err := ParseHeader(buildWAV(fmtChunk(FormatPCM, 1, 8000, 16)))
		assert.ErrorIs(t, err, ErrNoDataChunk)
	})

	t.Run("missing fmt chunk", func(t *testing.T) {
		_, err := ParseHeader(buildWAV(rawChunk{id: "data", body: make([]byte, 4)}))
		assert.ErrorIs(t, err, ErrNoFormatChunk)
	})
}

func TestFastDuration_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		bits     int
		channels int
		seconds  float64
	}{
		{"16-bit stereo", 44100, 16, 2, 1.5},
		{"24-bit mono", 48000, 24, 1, 0.75},
		{"32-bit stereo", 22050, 32, 2, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tone.wav")
			writePCMWAV(t, path, tt.rate, tt.bits, tt.channels, []segment{{tt.seconds, 0.5}})

			h, err := readHeader(path)
			require.NoError(t, err)

			d, err := FastDuration(path)
			require.NoError(t, err)
			assert.InDelta(t, float64(h.DataSize)/float64(h.ByteRate), d, 1e-9)
			assert.InDelta(t, tt.seconds, d, 1e-3)
		})
	}
}

func TestFastDuration_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.wav")
	writeFile(t, path, []byte("definitely not audio"))

	_, err := FastDuration(path)
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestFastDuration_ClampsPlaceholderSize(t *testing.T) {
	data := make([]byte, 16000) // 1s of 8 kHz 16-bit mono
	buf := buildWAV(fmtChunk(FormatPCM, 1, 8000, 16), rawChunk{id: "data", body: data})
	// overwrite the data size with the streaming placeholder
	sizeAt := len(buf) - len(data) - 4
	buf[sizeAt], buf[sizeAt+1], buf[sizeAt+2], buf[sizeAt+3] = 0xFF, 0xFF, 0xFF, 0xFF

	path := filepath.Join(t.TempDir(), "stream.wav")
	writeFile(t, path, buf)

	d, err := FastDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestReadFormat(t *testing.T) {
	t.Run("24-bit pcm", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pcm24.wav")
		writePCMWAV(t, path, 48000, 24, 2, []segment{{0.1, 0.5}})

		f, err := ReadFormat(path)
		require.NoError(t, err)
		assert.Equal(t, FormatPCM, f.AudioFormat)
		assert.Equal(t, 24, f.BitsPerSample)
		assert.Equal(t, 2, f.Channels)
		assert.False(t, f.IsFloat())
	})

	t.Run("32-bit float", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "f32.wav")
		writeFile(t, path, buildWAV(
			fmtChunk(FormatFloat, 1, 44100, 32),
			rawChunk{id: "data", body: floatSamples(44100, []segment{{0.1, 0.5}})},
		))

		f, err := ReadFormat(path)
		require.NoError(t, err)
		assert.True(t, f.IsFloat())
		assert.Equal(t, 32, f.BitsPerSample)
	})

	t.Run("extensible float", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ext.wav")
		writeFile(t, path, buildWAV(
			extensibleFmtChunk(FormatFloat, 1, 44100, 32),
			rawChunk{id: "data", body: floatSamples(44100, []segment{{0.1, 0.5}})},
		))

		f, err := ReadFormat(path)
		require.NoError(t, err)
		assert.True(t, f.IsFloat())
	})

	t.Run("not a wav", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.wav")
		writeFile(t, path, []byte("junk"))

		_, err := ReadFormat(path)
		assert.Error(t, err)
	})
}
