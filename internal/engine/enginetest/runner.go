// Package enginetest provides a scripted engine.Runner for tests that must
// not depend on ffmpeg being installed.
package enginetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
)

// ErrKilled is returned by Wait for a scripted process that was killed.
var ErrKilled = errors.New("enginetest: signal: killed")

// Script is the scripted behaviour of one invocation.
type Script struct {
	Stdout []string
	Stderr []string
	// Err is returned from Wait after the output has been emitted.
	Err error
	// StartErr fails Start itself.
	StartErr error
	// Block keeps the process running until it is killed or ctx ends.
	Block bool
	// Before runs before any output is emitted, e.g. to create the output file.
	Before func(cmd engine.Command)
}

// Runner replays scripts chosen by Respond. It is safe for concurrent use.
type Runner struct {
	Respond func(cmd engine.Command) Script

	mu    sync.Mutex
	calls []engine.Command
	procs []*Process
}

// Compile-time check that Runner implements engine.Runner.
var _ engine.Runner = (*Runner)(nil)

// Start implements engine.Runner.
func (r *Runner) Start(ctx context.Context, cmd engine.Command) (engine.Process, error) {
	var s Script
	if r.Respond != nil {
		s = r.Respond(cmd)
	}

	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if s.StartErr != nil {
		return nil, s.StartErr
	}

	p := &Process{
		pid:  int(nextPid.Add(1)),
		kill: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	go p.run(ctx, cmd, s)
	return p, nil
}

// Calls returns the commands started so far.
func (r *Runner) Calls() []engine.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Processes returns every process started so far.
func (r *Runner) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, len(r.procs))
	copy(out, r.procs)
	return out
}

// Running counts processes that have not exited.
func (r *Runner) Running() int {
	n := 0
	for _, p := range r.Processes() {
		if !p.Exited() {
			n++
		}
	}
	return n
}

var nextPid atomic.Int64

// Process is a scripted engine.Process.
type Process struct {
	pid      int
	killOnce sync.Once
	kill     chan struct{}
	done     chan struct{}
	killed   atomic.Bool
	err      error
}

func (p *Process) run(ctx context.Context, cmd engine.Command, s Script) {
	defer close(p.done)

	if s.Before != nil {
		s.Before(cmd)
	}
	for _, line := range s.Stdout {
		if cmd.OnStdout != nil {
			cmd.OnStdout(line)
		}
	}
	for _, line := range s.Stderr {
		if cmd.OnStderr != nil {
			cmd.OnStderr(line)
		}
	}

	if s.Block {
		select {
		case <-p.kill:
		case <-ctx.Done():
		}
		p.err = ErrKilled
		return
	}

	select {
	case <-p.kill:
		p.err = ErrKilled
	default:
		p.err = s.Err
	}
}

// Wait implements engine.Process.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Kill implements engine.Process.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		p.killed.Store(true)
		close(p.kill)
	})
	return nil
}

// Pid implements engine.Process.
func (p *Process) Pid() int { return p.pid }

// Killed reports whether Kill was called.
func (p *Process) Killed() bool { return p.killed.Load() }

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// HasArg reports whether any argument of cmd contains substr.
func HasArg(cmd engine.Command, substr string) bool {
	for _, a := range cmd.Args {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}

// LastArg returns the final argument of cmd, typically the output path.
func LastArg(cmd engine.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}
