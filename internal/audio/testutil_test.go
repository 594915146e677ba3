package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// segment is a stretch of constant-level signal; level 0 is digital silence.
type segment struct {
	seconds float64
	level   float64
}

// writePCMWAV writes an integer PCM file using the go-audio encoder. Each
// non-silent frame alternates sign at the segment level.
func writePCMWAV(t *testing.T, path string, rate, bits, channels int, segs []segment) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer func() { _ = f.Close() }()

	full := float64(int64(1)<<(bits-1)) - 1
	var data []int
	frame := 0
	for _, s := range segs {
		n := int(math.Round(s.seconds * float64(rate)))
		for i := 0; i < n; i++ {
			v := int(s.level * full)
			if frame%2 == 1 {
				v = -v
			}
			for c := 0; c < channels; c++ {
				data = append(data, v)
			}
			frame++
		}
	}

	enc := wav.NewEncoder(f, rate, bits, channels, int(FormatPCM))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

// floatSamples renders segments as 32-bit float mono samples.
func floatSamples(rate int, segs []segment) []byte {
	var b bytes.Buffer
	frame := 0
	for _, s := range segs {
		n := int(math.Round(s.seconds * float64(rate)))
		for i := 0; i < n; i++ {
			v := float32(s.level)
			if frame%2 == 1 {
				v = -v
			}
			_ = binary.Write(&b, binary.LittleEndian, math.Float32bits(v))
			frame++
		}
	}
	return b.Bytes()
}

type rawChunk struct {
	id   string
	body []byte
}

// buildWAV assembles a RIFF/WAVE byte stream from chunks, adding pad bytes
// after odd-sized chunks.
func buildWAV(chunks ...rawChunk) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range chunks {
		body.WriteString(c.id)
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(c.body)))
		body.Write(c.body)
		if len(c.body)%2 == 1 {
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func fmtChunk(format uint16, channels, rate, bits int) rawChunk {
	block := channels * ((bits + 7) / 8)
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, format)
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*block))
	_ = binary.Write(&b, binary.LittleEndian, uint16(block))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bits))
	return rawChunk{id: "fmt ", body: b.Bytes()}
}

func extensibleFmtChunk(subFormat uint16, channels, rate, bits int) rawChunk {
	c := fmtChunk(FormatExtensible, channels, rate, bits)
	var b bytes.Buffer
	b.Write(c.body)
	_ = binary.Write(&b, binary.LittleEndian, uint16(22))   // cbSize
	_ = binary.Write(&b, binary.LittleEndian, uint16(bits)) // valid bits
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))    // channel mask
	_ = binary.Write(&b, binary.LittleEndian, subFormat)
	b.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})
	return rawChunk{id: "fmt ", body: b.Bytes()}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
