// Package job runs batches of audio files through the normalizer. It
// includes the FileTask entity with its state machine, the per-run task
// registry and the orchestrating Service.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/job/id"
)

// Status represents the current state of a FileTask.
type Status string

const (
	// StatusQueued indicates the file is waiting for a free slot.
	StatusQueued Status = "queued"
	// StatusDetect indicates the voiced region is being located.
	StatusDetect Status = "detect"
	// StatusAnalyze indicates the loudness or peak measurement pass is running.
	StatusAnalyze Status = "analyze"
	// StatusRender indicates the output file is being written.
	StatusRender Status = "render"
	// StatusDone indicates the output was written successfully.
	StatusDone Status = "done"
	// StatusCanceled indicates the run was canceled before the file finished.
	StatusCanceled Status = "canceled"
	// StatusFailed indicates an engine invocation failed for this file.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions defines which state transitions are allowed. Analyze is
// skipped by fast normalization.
var validTransitions = map[Status][]Status{
	StatusQueued:   {StatusDetect, StatusCanceled, StatusFailed},
	StatusDetect:   {StatusAnalyze, StatusRender, StatusCanceled, StatusFailed},
	StatusAnalyze:  {StatusRender, StatusCanceled, StatusFailed},
	StatusRender:   {StatusDone, StatusCanceled, StatusFailed},
	StatusDone:     {},
	StatusCanceled: {},
	StatusFailed:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for done, canceled and failed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCanceled || s == StatusFailed
}

// Compile-time check that FileTask implements engine.Tracker.
var _ engine.Tracker = (*FileTask)(nil)

// FileTask is one file's unit of work within a run. It owns the engine
// processes spawned for the file so cancellation can kill them.
type FileTask struct {
	mu sync.RWMutex

	// ID is the unique identifier for this file within the run.
	ID string
	// Index is the discovery position; dispatch follows it.
	Index int
	// Name is the path relative to the input root.
	Name       string
	InputPath  string
	OutputPath string

	duration    float64
	processed   float64
	status      Status
	err         string
	url         string
	canceled    bool
	procs       map[engine.Process]struct{}
	startedAt   time.Time
	completedAt time.Time
}

// NewFileTask creates a queued task with a generated ID.
func NewFileTask(index int, name, input, output string) *FileTask {
	return &FileTask{
		ID:         id.Generate("file"),
		Index:      index,
		Name:       name,
		InputPath:  input,
		OutputPath: output,
		status:     StatusQueued,
		procs:      make(map[engine.Process]struct{}),
	}
}

// TransitionTo attempts to change the task status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (t *FileTask) TransitionTo(status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(status)
}

func (t *FileTask) transitionLocked(status Status) error {
	if !canTransition(t.status, status) {
		return ErrInvalidTransition
	}

	now := time.Now()
	if t.status == StatusQueued {
		t.startedAt = now
	}
	t.status = status
	switch status {
	case StatusDone:
		t.processed = t.duration
		t.completedAt = now
	case StatusCanceled, StatusFailed:
		t.completedAt = now
	}
	return nil
}

// Fail moves the task to failed and records msg.
func (t *FileTask) Fail(msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusFailed); err != nil {
		return err
	}
	t.err = msg
	return nil
}

// Status returns the current task status (thread-safe).
func (t *FileTask) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetDuration records the probed duration in seconds.
func (t *FileTask) SetDuration(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.duration = d
	}
}

// Duration returns the probed duration in seconds.
func (t *FileTask) Duration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// SetProcessed records progress in seconds. Progress never moves backwards
// and is clamped to the duration; the stored value is returned.
func (t *FileTask) SetProcessed(sec float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	sec = min(max(sec, 0), t.duration)
	if sec > t.processed {
		t.processed = sec
	}
	return t.processed
}

// Fraction returns processed over duration in [0,1]. A finished file
// counts as 1.
func (t *FileTask) Fraction() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status == StatusDone {
		return 1
	}
	if t.duration <= 0 {
		return 0
	}
	return min(t.processed/t.duration, 1)
}

// SetURL records where the output was published.
func (t *FileTask) SetURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
}

// Track implements engine.Tracker. A process tracked after cancellation is
// killed immediately.
func (t *FileTask) Track(p engine.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		_ = p.Kill()
		return
	}
	t.procs[p] = struct{}{}
}

// Untrack implements engine.Tracker.
func (t *FileTask) Untrack(p engine.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, p)
}

// Canceled implements engine.Tracker.
func (t *FileTask) Canceled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canceled
}

// Cancel marks the task canceled and kills every tracked process. It
// returns the number of processes killed.
func (t *FileTask) Cancel() int {
	t.mu.Lock()
	t.canceled = true
	procs := make([]engine.Process, 0, len(t.procs))
	for p := range t.procs {
		procs = append(procs, p)
	}
	t.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	return len(procs)
}

// Running returns the number of tracked processes.
func (t *FileTask) Running() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.procs)
}

// Snapshot is a read-only copy of a FileTask.
type Snapshot struct {
	ID          string    `json:"id"`
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	InputPath   string    `json:"inputPath"`
	OutputPath  string    `json:"outputPath"`
	Status      Status    `json:"status"`
	Duration    float64   `json:"duration"`
	Processed   float64   `json:"processed"`
	Error       string    `json:"error,omitempty"`
	URL         string    `json:"url,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// Snapshot returns a copy of the task for safe reads.
func (t *FileTask) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.ID,
		Index:       t.Index,
		Name:        t.Name,
		InputPath:   t.InputPath,
		OutputPath:  t.OutputPath,
		Status:      t.status,
		Duration:    t.duration,
		Processed:   t.processed,
		Error:       t.err,
		URL:         t.url,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	}
}
