package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/engine/enginetest"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// writeToneWAV writes a constant-level 16-bit mono file.
func writeToneWAV(t *testing.T, path string, bits int, seconds float64) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	const rate = 8000
	n := int(seconds * rate)
	data := make([]int, n)
	level := int(float64(int64(1)<<(bits-1)) * 0.25)
	for i := range data {
		if i%2 == 0 {
			data[i] = level
		} else {
			data[i] = -level
		}
	}

	enc := wav.NewEncoder(f, rate, bits, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}))
	require.NoError(t, enc.Close())
}

const loudnormSummary = `[Parsed_loudnorm_0 @ 0x55d5] 
{
	"input_i" : "-23.45",
	"input_tp" : "-4.10",
	"input_lra" : "6.20",
	"input_thresh" : "-33.80",
	"output_i" : "-16.02",
	"output_tp" : "-1.00",
	"output_lra" : "5.10",
	"output_thresh" : "-26.30",
	"normalization_type" : "dynamic",
	"target_offset" : "0.35"
}`

// scriptedEngine answers analysis and render invocations the way ffmpeg
// would for a 2 second file.
func scriptedEngine(analysis []string, renderErr error) *enginetest.Runner {
	return &enginetest.Runner{Respond: func(cmd engine.Command) enginetest.Script {
		if enginetest.LastArg(cmd) == "-" {
			return enginetest.Script{Stderr: analysis}
		}
		return enginetest.Script{
			Stderr: []string{
				"size=       0kB time=00:00:00.50 bitrate=N/A speed=10x",
				"size=       0kB time=00:00:01.00 bitrate=N/A speed=10x",
				"size=       0kB time=00:00:00.90 bitrate=N/A speed=10x",
				"size=      64kB time=00:00:02.00 bitrate= 256kbits/s speed=10x",
			},
			Err: renderErr,
		}
	}}
}

type recorder struct {
	mu       sync.Mutex
	phases   []string
	percents []float64
	seconds  []float64
	logs     []string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnPhase: func(p Phase, s PhaseStatus) {
			r.mu.Lock()
			r.phases = append(r.phases, string(p)+":"+string(s))
			r.mu.Unlock()
		},
		OnProgress: func(_ Phase, pct, sec float64) {
			r.mu.Lock()
			r.percents = append(r.percents, pct)
			r.seconds = append(r.seconds, sec)
			r.mu.Unlock()
		},
		OnLog: func(p Phase, line string) {
			r.mu.Lock()
			r.logs = append(r.logs, string(p)+": "+line)
			r.mu.Unlock()
		},
	}
}

func newTarget(t *testing.T, bits int) Target {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	writeToneWAV(t, in, bits, 2.0)
	return Target{Input: in, Output: filepath.Join(dir, "out", "nested", "in.wav"), Duration: 2.0}
}

func TestNewFFmpegNormalizer_DefaultPath(t *testing.T) {
	n := NewFFmpegNormalizer("", nil, nil, nil)
	if n.ffmpegPath != "ffmpeg" {
		t.Errorf("expected default path 'ffmpeg', got %q", n.ffmpegPath)
	}
}

func TestProcess_LUFSTwoPass(t *testing.T) {
	r := scriptedEngine(strings.Split("[info] {not json}\n"+loudnormSummary, "\n"), nil)
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	target := newTarget(t, 24)
	rec := &recorder{}

	res, err := n.Process(context.Background(), target, settings.Default(), rec.hooks())
	require.NoError(t, err)

	require.NotNil(t, res.Measurement)
	assert.Equal(t, -23.45, res.Measurement.InputI)
	assert.Equal(t, CodecS24, res.Codec)
	assert.Nil(t, res.Region)
	assert.Equal(t, []string{
		"detect:start", "detect:done",
		"analyze:start", "analyze:done",
		"render:start", "render:done",
	}, rec.phases)

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Args, "loudnorm=I=-16:TP=-1:LRA=11:print_format=json")
	assert.NotContains(t, calls[0].Args, "-ss")

	render := calls[1]
	assert.Equal(t, target.Output, enginetest.LastArg(render))
	assert.True(t, enginetest.HasArg(render, "measured_I=-23.45"))
	assert.True(t, enginetest.HasArg(render, "linear=true"))
	assert.True(t, enginetest.HasArg(render, "alimiter=limit=0.97"))
	assert.Contains(t, render.Args, "-map_metadata")
	assert.Contains(t, render.Args, "pcm_s24le")
	assert.NotContains(t, render.Args, "-threads")

	assert.DirExists(t, filepath.Dir(target.Output))

	// progress is monotonic and bounded by the file duration
	require.NotEmpty(t, rec.seconds)
	for i := 1; i < len(rec.seconds); i++ {
		assert.GreaterOrEqual(t, rec.seconds[i], rec.seconds[i-1])
	}
	for _, s := range rec.seconds {
		assert.LessOrEqual(t, s, target.Duration)
		assert.GreaterOrEqual(t, s, 0.0)
	}
	assert.Equal(t, 100.0, rec.percents[len(rec.percents)-1])
}

func TestProcess_MalformedSummaryFallsBackToSinglePass(t *testing.T) {
	r := scriptedEngine([]string{"[Parsed_loudnorm_0] {", `"input_i" : "-inf",`, "oops"}, nil)
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	rec := &recorder{}

	res, err := n.Process(context.Background(), newTarget(t, 16), settings.Default(), rec.hooks())
	require.NoError(t, err)
	assert.Nil(t, res.Measurement)

	render := r.Calls()[1]
	assert.False(t, enginetest.HasArg(render, "measured_I"))
	assert.True(t, enginetest.HasArg(render, "loudnorm=I=-16:TP=-1:LRA=11:print_format=summary"))
}

func TestProcess_PeakMode(t *testing.T) {
	r := scriptedEngine([]string{
		"[Parsed_volumedetect_0 @ 0x1] mean_volume: -30.2 dB",
		"[Parsed_volumedetect_0 @ 0x1] max_volume: -18.0 dB",
	}, nil)
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	s := settings.Default()
	s.NormMode = settings.ModePeak
	s.PeakTargetDb = -9
	s.FFmpegThreads = 2
	s.TargetBitDepth = settings.BitDepth24

	res, err := n.Process(context.Background(), newTarget(t, 16), s, Hooks{})
	require.NoError(t, err)
	require.NotNil(t, res.MaxVolumeDb)
	assert.Equal(t, 9.0, res.GainDb)
	assert.Equal(t, CodecS16, res.Codec, "24-bit target must not upsample a 16-bit input")

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Args, "volumedetect")
	assert.Contains(t, calls[1].Args, "volume=9.00dB")
	assert.Contains(t, calls[1].Args, "-threads")
}

func TestProcess_FastNormalizeSkipsAnalysis(t *testing.T) {
	r := scriptedEngine(nil, nil)
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	s := settings.Default()
	s.FastNormalize = true
	rec := &recorder{}

	_, err := n.Process(context.Background(), newTarget(t, 16), s, rec.hooks())
	require.NoError(t, err)
	assert.Len(t, r.Calls(), 1)
	assert.NotContains(t, rec.phases, "analyze:start")
}

func TestProcess_FastNormalizeKeepsPeakAnalysis(t *testing.T) {
	r := scriptedEngine([]string{"[Parsed_volumedetect_0 @ 0x1] max_volume: -18.0 dB"}, nil)
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	s := settings.Default()
	s.NormMode = settings.ModePeak
	s.FastNormalize = true
	rec := &recorder{}

	res, err := n.Process(context.Background(), newTarget(t, 16), s, rec.hooks())
	require.NoError(t, err)

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.True(t, enginetest.HasArg(calls[0], "volumedetect"))
	assert.Contains(t, rec.phases, "analyze:start")
	require.NotNil(t, res.MaxVolumeDb)
	assert.Equal(t, -18.0, *res.MaxVolumeDb)
	assert.Equal(t, 16.0, res.GainDb)
	assert.Contains(t, calls[1].Args, "volume=16.00dB")
}

func TestProcess_TrimSeeksBothPasses(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	writeToneWAV(t, in, 16, 2.0)

	r := &enginetest.Runner{Respond: func(cmd engine.Command) enginetest.Script {
		switch {
		case enginetest.HasArg(cmd, "silencedetect"):
			return enginetest.Script{Stderr: []string{
				"[silencedetect @ 0x1] silence_start: 0",
				"[silencedetect @ 0x1] silence_end: 0.6 | silence_duration: 0.6",
				"[silencedetect @ 0x1] silence_start: 1.5",
			}}
		case enginetest.LastArg(cmd) == "-":
			return enginetest.Script{Stderr: strings.Split(loudnormSummary, "\n")}
		default:
			return enginetest.Script{Stderr: []string{"size=1kB time=00:00:00.45 bitrate=N/A"}}
		}
	}}
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	s := settings.Default()
	s.AutoTrim = true
	s.TrimHighPass = true // forces silencedetect
	s.TrimPadMs = 100
	rec := &recorder{}

	res, err := n.Process(context.Background(), Target{Input: in, Output: filepath.Join(dir, "out.wav"), Duration: 2.0}, s, rec.hooks())
	require.NoError(t, err)
	require.NotNil(t, res.Region)
	assert.InDelta(t, 0.5, res.Region.Start, 1e-9)
	assert.InDelta(t, 1.6, res.Region.End, 1e-9)

	calls := r.Calls()
	require.Len(t, calls, 3)
	for _, c := range calls[1:] {
		assert.Contains(t, c.Args, "-ss")
		assert.Contains(t, c.Args, "0.500")
		assert.Contains(t, c.Args, "1.600")
		assert.True(t, enginetest.HasArg(c, "highpass=f=80"))
	}
	// 0.45s of a 1.1s window is ~40.9%
	require.NotEmpty(t, rec.percents)
	assert.InDelta(t, 40.9, rec.percents[0], 0.1)
}

func TestProcess_RenderFailure(t *testing.T) {
	r := scriptedEngine(strings.Split(loudnormSummary, "\n"), errors.New("exit status 1"))
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)

	_, err := n.Process(context.Background(), newTarget(t, 16), settings.Default(), Hooks{})
	var ee *engine.ExitError
	require.ErrorAs(t, err, &ee)
	assert.False(t, IsCanceled(err))
}

type flagTracker struct {
	mu       sync.Mutex
	canceled bool
	procs    []engine.Process
}

func (f *flagTracker) Track(p engine.Process) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = append(f.procs, p)
	if f.canceled {
		_ = p.Kill()
	}
}

func (f *flagTracker) Untrack(engine.Process) {}

func (f *flagTracker) Canceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *flagTracker) cancel() {
	f.mu.Lock()
	f.canceled = true
	procs := append([]engine.Process(nil), f.procs...)
	f.mu.Unlock()
	for _, p := range procs {
		_ = p.Kill()
	}
}

func TestProcess_CancelDuringRenderIsNotAFailure(t *testing.T) {
	r := &enginetest.Runner{Respond: func(cmd engine.Command) enginetest.Script {
		if enginetest.LastArg(cmd) == "-" {
			return enginetest.Script{Stderr: strings.Split(loudnormSummary, "\n")}
		}
		return enginetest.Script{Block: true}
	}}
	n := NewFFmpegNormalizer("ffmpeg", r, nil, nil)
	target := newTarget(t, 16)
	tr := &flagTracker{}
	target.Tracker = tr

	errCh := make(chan error, 1)
	go func() {
		_, err := n.Process(context.Background(), target, settings.Default(), Hooks{})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(r.Calls()) == 2 && r.Running() == 1 }, time.Second, 5*time.Millisecond)
	tr.cancel()

	select {
	case err := <-errCh:
		assert.True(t, IsCanceled(err), "expected cancellation, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after cancel")
	}
	for _, p := range r.Processes() {
		assert.True(t, p.Exited())
	}
}

func TestProcess_Integration(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	writeToneWAV(t, in, 24, 2.0)
	out := filepath.Join(dir, "out", "in.wav")

	n := NewFFmpegNormalizer("", nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := n.Process(ctx, Target{Input: in, Output: out, Duration: 2.0}, settings.Default(), Hooks{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Measurement == nil {
		t.Error("expected a loudness measurement from the analysis pass")
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if res.Codec != CodecS24 {
		t.Errorf("expected %s, got %s", CodecS24, res.Codec)
	}
}
