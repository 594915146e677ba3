package job

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeProcess struct {
	killed atomic.Bool
}

func (p *fakeProcess) Wait() error { return nil }
func (p *fakeProcess) Kill() error { p.killed.Store(true); return nil }
func (p *fakeProcess) Pid() int    { return 1 }
func (p *fakeProcess) Killed() bool {
	return p.killed.Load()
}

func TestNewFileTask(t *testing.T) {
	task := NewFileTask(3, "sub/a.wav", "/in/sub/a.wav", "/out/sub/a.wav")

	if !strings.HasPrefix(task.ID, "file-") {
		t.Errorf("expected file- prefix, got %s", task.ID)
	}
	if task.Status() != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, task.Status())
	}
	if task.Index != 3 || task.Name != "sub/a.wav" {
		t.Errorf("unexpected task fields: %+v", task.Snapshot())
	}
	if task.Canceled() {
		t.Error("new task must not be canceled")
	}
}

func TestFileTask_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"queued to detect", StatusQueued, StatusDetect, false},
		{"queued to canceled", StatusQueued, StatusCanceled, false},
		{"detect to analyze", StatusDetect, StatusAnalyze, false},
		{"detect to render (fast normalize)", StatusDetect, StatusRender, false},
		{"analyze to render", StatusAnalyze, StatusRender, false},
		{"render to done", StatusRender, StatusDone, false},
		{"render to failed", StatusRender, StatusFailed, false},
		{"analyze to canceled", StatusAnalyze, StatusCanceled, false},
		// Invalid transitions
		{"queued to done", StatusQueued, StatusDone, true},
		{"queued to render", StatusQueued, StatusRender, true},
		{"analyze to detect", StatusAnalyze, StatusDetect, true},
		{"detect to done", StatusDetect, StatusDone, true},
		{"render to analyze", StatusRender, StatusAnalyze, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
			task.status = tt.from

			err := task.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestFileTask_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusDone, StatusFailed, StatusCanceled}
	allStates := []Status{StatusQueued, StatusDetect, StatusAnalyze, StatusRender, StatusDone, StatusCanceled, StatusFailed}

	for _, terminal := range terminalStates {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
				task.status = terminal

				err := task.TransitionTo(target)
				if err != ErrInvalidTransition {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestFileTask_Fail(t *testing.T) {
	task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
	_ = task.TransitionTo(StatusDetect)

	if err := task.Fail("ffmpeg failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := task.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, snap.Status)
	}
	if snap.Error != "ffmpeg failed" {
		t.Errorf("expected error message, got %q", snap.Error)
	}
	if snap.CompletedAt.IsZero() || snap.StartedAt.IsZero() {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
}

func TestFileTask_ProcessedIsMonotonicAndClamped(t *testing.T) {
	task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
	task.SetDuration(10)

	steps := []struct {
		input    float64
		expected float64
	}{
		{2, 2},
		{5, 5},
		{3, 5},   // never backwards
		{-1, 5},  // negative ignored
		{25, 10}, // clamped to duration
	}
	for _, s := range steps {
		if got := task.SetProcessed(s.input); got != s.expected {
			t.Errorf("SetProcessed(%v) = %v, want %v", s.input, got, s.expected)
		}
	}
	if f := task.Fraction(); f != 1 {
		t.Errorf("Fraction() = %v, want 1", f)
	}
}

func TestFileTask_FractionDoneCountsFull(t *testing.T) {
	task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
	task.SetDuration(4)
	task.SetProcessed(1)
	if f := task.Fraction(); f != 0.25 {
		t.Errorf("Fraction() = %v, want 0.25", f)
	}

	_ = task.TransitionTo(StatusDetect)
	_ = task.TransitionTo(StatusRender)
	_ = task.TransitionTo(StatusDone)
	if f := task.Fraction(); f != 1 {
		t.Errorf("Fraction() = %v, want 1", f)
	}
	if p := task.Snapshot().Processed; p != 4 {
		t.Errorf("Processed = %v, want 4", p)
	}
}

func TestFileTask_CancelKillsTrackedProcesses(t *testing.T) {
	task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
	p1 := &fakeProcess{}
	p2 := &fakeProcess{}
	p3 := &fakeProcess{}

	task.Track(p1)
	task.Track(p2)
	task.Untrack(p2)

	if n := task.Cancel(); n != 1 {
		t.Errorf("Cancel() killed %d, want 1", n)
	}
	if !p1.Killed() {
		t.Error("tracked process should be killed")
	}
	if p2.Killed() {
		t.Error("untracked process must not be killed")
	}
	if !task.Canceled() {
		t.Error("task should report canceled")
	}

	// late registration after cancel is killed immediately
	task.Track(p3)
	if !p3.Killed() {
		t.Error("process tracked after cancel should be killed")
	}
	if task.Running() != 0 {
		t.Errorf("Running() = %d, want 0", task.Running())
	}
}

func TestFileTask_ConcurrentAccess(t *testing.T) {
	task := NewFileTask(0, "a.wav", "a.wav", "b.wav")
	task.SetDuration(100)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			task.SetProcessed(float64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = task.Snapshot()
			_ = task.Fraction()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			task.Track(&fakeProcess{})
		}
		task.Cancel()
	}()
	wg.Wait()
}
