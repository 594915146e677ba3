package engine

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/maauso/bulk-audio-normalizer/internal/logscan"
)

// maxLineBytes caps a single log line; loudnorm summaries are well below it.
const maxLineBytes = 1 << 20

// Compile-time check that ExecRunner implements Runner.
var _ Runner = ExecRunner{}

// ExecRunner starts real subprocesses with os/exec.
type ExecRunner struct{}

// Start launches cmd in its own process group and begins streaming its
// stdout and stderr to the command's line callbacks.
func (ExecRunner) Start(ctx context.Context, c Command) (Process, error) {
	// #nosec G204 - binary paths come from configuration, arguments are built internally
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd}
	cmd.Cancel = p.Kill

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p.readers.Add(2)
	go p.consume(stdout, c.OnStdout)
	go p.consume(stderr, c.OnStderr)
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	readers sync.WaitGroup

	waitOnce sync.Once
	waitErr  error
}

func (p *execProcess) consume(r io.Reader, fn func(string)) {
	defer p.readers.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(logscan.SplitLines)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || fn == nil {
			continue
		}
		fn(line)
	}
	// keep the pipe drained after an oversized line so the child never blocks
	_, _ = io.Copy(io.Discard, r)
}

// Wait waits for both output streams to drain before reaping the process,
// as required by exec.Cmd.
func (p *execProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.readers.Wait()
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(p.cmd)
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
