// Package engine runs the external ffmpeg and ffprobe binaries as
// subprocesses, streaming their output line by line and exposing kill
// handles so a batch can be canceled at any point.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrCanceled is returned when a command exits because its owner was
// canceled. Callers treat it as an expected outcome, not a failure.
var ErrCanceled = errors.New("engine: canceled")

// stderrTailLines bounds how much stderr is kept for error reports.
const stderrTailLines = 20

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	// OnStdout and OnStderr receive each line as it is read. Either may be nil.
	OnStdout func(line string)
	OnStderr func(line string)
}

// Process is a started subprocess.
type Process interface {
	// Wait blocks until the process exits and its output has been consumed.
	Wait() error
	// Kill terminates the process (and its process group where supported).
	Kill() error
	Pid() int
}

// Runner starts subprocesses.
type Runner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Tracker owns the process handles of one unit of work. Track must kill the
// process immediately when the tracker is already canceled.
type Tracker interface {
	Track(p Process)
	Untrack(p Process)
	Canceled() bool
}

// Run starts cmd, registers the process with tr while it runs and waits for
// it to exit. A failed exit observed after tr was canceled (or ctx ended)
// is reported as ErrCanceled. tr may be nil.
func Run(ctx context.Context, r Runner, tr Tracker, cmd Command) error {
	if tr != nil && tr.Canceled() {
		return ErrCanceled
	}

	tail := &lineTail{max: stderrTailLines}
	onStderr := cmd.OnStderr
	cmd.OnStderr = func(line string) {
		tail.add(line)
		if onStderr != nil {
			onStderr(line)
		}
	}

	p, err := r.Start(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return fmt.Errorf("start %s: %w", filepath.Base(cmd.Path), err)
	}
	if tr != nil {
		tr.Track(p)
		defer tr.Untrack(p)
	}

	if err := p.Wait(); err != nil {
		if (tr != nil && tr.Canceled()) || ctx.Err() != nil {
			return ErrCanceled
		}
		return &ExitError{
			Path:   cmd.Path,
			Args:   cmd.Args,
			Stderr: tail.String(),
			Err:    err,
		}
	}
	return nil
}

// ExitError represents a non-zero exit from an engine binary, including the
// tail of its stderr output.
type ExitError struct {
	Path   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	name := filepath.Base(e.Path)
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", name, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", name, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// lineTail keeps the last max lines written to it. It is only written from
// the stderr reader goroutine and read after Wait returns.
type lineTail struct {
	max   int
	lines []string
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.max-1]
	}
	t.lines = append(t.lines, line)
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
