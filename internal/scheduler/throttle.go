// Package scheduler bounds how many files are processed at once and adapts
// that bound to host load and free memory while a batch runs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSamplerUnsupported is returned by samplers on platforms without load
// or memory statistics.
var ErrSamplerUnsupported = errors.New("scheduler: host sampling unsupported")

// Thresholds configures the throttle controller.
type Thresholds struct {
	Interval    time.Duration
	LoadHigh    float64
	LoadLow     float64
	FreeMemLow  float64
	FreeMemHigh float64
}

// DefaultThresholds returns the stock controller settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Interval:    1500 * time.Millisecond,
		LoadHigh:    0.9,
		LoadLow:     0.6,
		FreeMemLow:  0.10,
		FreeMemHigh: 0.20,
	}
}

// Sample is one observation of the host.
type Sample struct {
	// LoadRatio is the one-minute load average divided by the CPU count.
	LoadRatio float64
	// FreeMemRatio is free memory over total memory, in [0,1].
	FreeMemRatio float64
}

// Sampler observes host load.
type Sampler interface {
	Sample() (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (Sample, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample() (Sample, error) { return f() }

// ThrottleState is a snapshot of the controller.
type ThrottleState struct {
	Base         int     `json:"base"`
	Allowed      int     `json:"allowed"`
	LoadRatio    float64 `json:"loadRatio"`
	FreeMemRatio float64 `json:"freeMemRatio"`
}

// Throttle holds the current concurrency allowance. Allowed is always in
// [1, base].
type Throttle struct {
	base       int
	thresholds Thresholds
	sampler    Sampler
	logger     *slog.Logger

	allowed atomic.Int64
	changed chan struct{}

	mu   sync.Mutex
	last Sample
}

// NewThrottle creates a Throttle starting at base (minimum 1). A nil
// sampler uses the host sampler for this platform.
func NewThrottle(base int, t Thresholds, sampler Sampler, logger *slog.Logger) *Throttle {
	if base < 1 {
		base = 1
	}
	if t.Interval <= 0 {
		t.Interval = DefaultThresholds().Interval
	}
	if sampler == nil {
		sampler = HostSampler()
	}
	if logger == nil {
		logger = slog.Default()
	}
	th := &Throttle{
		base:       base,
		thresholds: t,
		sampler:    sampler,
		logger:     logger,
		changed:    make(chan struct{}, 1),
	}
	th.allowed.Store(int64(base))
	return th
}

// Allowed returns the current allowance.
func (t *Throttle) Allowed() int {
	return int(t.allowed.Load())
}

// Changed is signaled (coalesced) whenever the allowance moves.
func (t *Throttle) Changed() <-chan struct{} {
	return t.changed
}

// State returns a snapshot including the last sample.
func (t *Throttle) State() ThrottleState {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	return ThrottleState{
		Base:         t.base,
		Allowed:      t.Allowed(),
		LoadRatio:    last.LoadRatio,
		FreeMemRatio: last.FreeMemRatio,
	}
}

// Adjust applies one controller step for s and returns the new allowance.
// The allowance drops by one under pressure and rises by one when the host
// is comfortably idle.
func (t *Throttle) Adjust(s Sample) int {
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()

	cur := t.Allowed()
	next := cur
	th := t.thresholds
	switch {
	case s.LoadRatio > th.LoadHigh || s.FreeMemRatio < th.FreeMemLow:
		next = max(1, cur-1)
	case s.LoadRatio < th.LoadLow && s.FreeMemRatio > th.FreeMemHigh:
		next = min(t.base, cur+1)
	}
	if next != cur {
		t.allowed.Store(int64(next))
		t.logger.Debug("concurrency adjusted",
			slog.Int("from", cur),
			slog.Int("to", next),
			slog.Float64("load_ratio", s.LoadRatio),
			slog.Float64("free_mem_ratio", s.FreeMemRatio),
		)
		select {
		case t.changed <- struct{}{}:
		default:
		}
	}
	return next
}

// Run samples the host every interval until ctx ends. Sampling errors leave
// the allowance unchanged.
func (t *Throttle) Run(ctx context.Context) {
	ticker := time.NewTicker(t.thresholds.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := t.sampler.Sample()
			if err != nil {
				if !errors.Is(err, ErrSamplerUnsupported) {
					t.logger.Debug("host sample failed", slog.String("error", err.Error()))
				}
				continue
			}
			t.Adjust(s)
		}
	}
}
