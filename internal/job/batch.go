package job

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/maauso/bulk-audio-normalizer/internal/job/id"
	"github.com/maauso/bulk-audio-normalizer/internal/scheduler"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
)

// Kind distinguishes full batches from previews.
type Kind string

const (
	KindBatch   Kind = "batch"
	KindPreview Kind = "preview"
)

// Batch is the state of one run. Its registry and cancel flag belong to
// the run alone.
type Batch struct {
	ID        string
	Kind      Kind
	InputDir  string
	OutputDir string
	Settings  settings.Settings
	Tasks     *Registry

	canceled atomic.Bool
	stop     context.CancelFunc

	mu       sync.Mutex
	throttle *scheduler.Throttle

	// progressMu orders aggregate progress events; overall never decreases.
	progressMu sync.Mutex
	overall    float64
}

func newBatch(kind Kind, inputDir, outputDir string, s settings.Settings, stop context.CancelFunc) *Batch {
	return &Batch{
		ID:        id.Generate(string(kind)),
		Kind:      kind,
		InputDir:  inputDir,
		OutputDir: outputDir,
		Settings:  s,
		Tasks:     NewRegistry(),
		stop:      stop,
	}
}

// Canceled reports whether Cancel was requested for this run.
func (b *Batch) Canceled() bool {
	return b.canceled.Load()
}

// cancel raises the flag, halts dispatch and kills every tracked process.
// The flag is set before any kill so that exits caused by the kill are
// classified as cancellation.
func (b *Batch) cancel() int {
	b.canceled.Store(true)
	if b.stop != nil {
		b.stop()
	}
	return b.Tasks.CancelAll()
}

func (b *Batch) setThrottle(t *scheduler.Throttle) {
	b.mu.Lock()
	b.throttle = t
	b.mu.Unlock()
}

// ThrottleState reports the run's concurrency controller, if dispatch has
// started.
func (b *Batch) ThrottleState() (scheduler.ThrottleState, bool) {
	b.mu.Lock()
	t := b.throttle
	b.mu.Unlock()
	if t == nil {
		return scheduler.ThrottleState{}, false
	}
	return t.State(), true
}

// advance records an aggregate percentage and returns the high-water mark.
// Callers hold progressMu.
func (b *Batch) advance(percent float64) float64 {
	b.overall = max(b.overall, percent)
	return b.overall
}
