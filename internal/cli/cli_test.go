package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/bulk-audio-normalizer/internal/bootstrap"
	"github.com/maauso/bulk-audio-normalizer/internal/config"
	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/engine/enginetest"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// fakeEngine answers ffprobe with a fixed duration and writes the output
// file of every render.
func fakeEngine() *enginetest.Runner {
	return &enginetest.Runner{
		Respond: func(cmd engine.Command) enginetest.Script {
			if filepath.Base(cmd.Path) == "ffprobe" {
				return enginetest.Script{Stdout: []string{"2.0"}}
			}
			if enginetest.LastArg(cmd) == "-" {
				return enginetest.Script{}
			}
			return enginetest.Script{
				Before: func(cmd engine.Command) {
					_ = os.WriteFile(enginetest.LastArg(cmd), []byte("RIFF"), 0o600)
				},
				Stderr: []string{"size=1kB time=00:00:01.00 bitrate=1kbits/s", "size=2kB time=00:00:02.00 bitrate=1kbits/s"},
			}
		},
	}
}

type harness struct {
	runner *enginetest.Runner
	calls  int
}

func (h *harness) deps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bootstrap.Dependencies, error) {
	h.calls++
	return bootstrap.NewDependencies(ctx, cfg, logger,
		bootstrap.WithoutBinaryCheck(),
		bootstrap.WithRunner(h.runner),
	)
}

func execute(t *testing.T, h *harness, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), h, args...)
}

func executeContext(t *testing.T, ctx context.Context, h *harness, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TEMP_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	cmd := NewRootCmd(WithDependencies(h.deps))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeInputs(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("not really audio"), 0o600))
	}
}

func TestRunCommand(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "normalized")
	writeInputs(t, in, "a.wav", "sub/b.WAVE", "notes.txt")

	h := &harness{runner: fakeEngine()}
	stdout, err := execute(t, h, "run", in, out, "--mode", "peak", "-j", "1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "a.wav"))
	assert.FileExists(t, filepath.Join(out, "sub", "b.wav"))
	assert.Contains(t, stdout, "Batch complete: 2/2 files")
	assert.Contains(t, stdout, "a.wav")

	var volumedetect bool
	for _, c := range h.runner.Calls() {
		if enginetest.HasArg(c, "volumedetect") {
			volumedetect = true
		}
	}
	assert.True(t, volumedetect, "peak mode should analyze with volumedetect")
}

func TestRunCommand_InvalidSettings(t *testing.T) {
	h := &harness{runner: fakeEngine()}
	_, err := execute(t, h, "run", t.TempDir(), t.TempDir(), "--bit-depth", "32")

	require.ErrorIs(t, err, settings.ErrInvalid)
	assert.Zero(t, h.calls)
}

func TestRunCommand_Args(t *testing.T) {
	h := &harness{runner: fakeEngine()}
	_, err := execute(t, h, "run", t.TempDir())
	require.Error(t, err)
	assert.Zero(t, h.calls)
}

func TestRunCommand_EmptyInput(t *testing.T) {
	h := &harness{runner: fakeEngine()}
	_, err := execute(t, h, "run", t.TempDir(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio files")
}

func TestRunCommand_InterruptedBeforeStart(t *testing.T) {
	in := t.TempDir()
	writeInputs(t, in, "a.wav", "b.wav")
	h := &harness{runner: fakeEngine()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, err := executeContext(t, ctx, h, "run", in, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "Stopped")
	assert.Empty(t, h.runner.Calls(), "no engine process after an early interrupt")
}

func TestRootCommand_LogFlagsOverrideEnv(t *testing.T) {
	h := &harness{runner: fakeEngine()}
	_, err := execute(t, h, "run", t.TempDir(), t.TempDir(), "--log-format", "xml")
	require.ErrorIs(t, err, config.ErrInvalidLogFormat)
}

func TestPreviewCommand(t *testing.T) {
	in := t.TempDir()
	writeInputs(t, in, "a.wav", "b.wav", "c.wav")

	h := &harness{runner: fakeEngine()}
	stdout, err := execute(t, h, "preview", in, "--sample", "2", "--fast")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Preview ready: 2 files")
	assert.Contains(t, stdout, "ban-preview-")
	for _, c := range h.runner.Calls() {
		assert.NotEqual(t, "-", enginetest.LastArg(c), "fast normalize should skip analysis")
	}
}

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"full", []string{"version"}, "Git Commit"},
		{"short", []string{"version", "--short"}, "vdev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{}
			// An invalid environment must not matter for version.
			t.Setenv("LOG_FORMAT", "xml")

			cmd := NewRootCmd(WithDependencies(h.deps))
			var buf bytes.Buffer
			cmd.SetOut(&buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestSettingsFlags_Resolve(t *testing.T) {
	cmd := &cobra.Command{Use: "probe"}
	sf := bindSettingsFlags(cmd)
	require.NoError(t, cmd.Flags().Set("mode", "peak"))
	require.NoError(t, cmd.Flags().Set("trim", "true"))
	require.NoError(t, cmd.Flags().Set("bit-depth", "16"))

	s, err := sf.Settings()
	require.NoError(t, err)
	assert.Equal(t, settings.ModePeak, s.NormMode)
	assert.True(t, s.AutoTrim)
	assert.Equal(t, settings.BitDepth16, s.TargetBitDepth)
	assert.Equal(t, settings.Default().LufsTarget, s.LufsTarget)

	require.NoError(t, cmd.Flags().Set("mode", "rms"))
	_, err = sf.Settings()
	assert.ErrorIs(t, err, settings.ErrInvalid)
}

func TestExecuteUnknownCommand(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"bogus"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "unknown command"))
}
