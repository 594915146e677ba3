package scheduler

import (
	"context"
)

// WorkFunc processes item i. It receives the context passed to Pool.Run.
type WorkFunc func(ctx context.Context, i int) error

// Pool dispatches indexed work in order, never running more items at once
// than its Throttle allows.
type Pool struct {
	throttle *Throttle
}

// NewPool creates a Pool governed by t.
func NewPool(t *Throttle) *Pool {
	return &Pool{throttle: t}
}

// Throttle returns the pool's controller.
func (p *Pool) Throttle() *Throttle {
	return p.throttle
}

// Run dispatches items 0..n-1 in index order while the number in flight is
// below the current allowance. The host sampler runs for the duration of
// the call. After the first error, or once ctx is done, no further items
// are dispatched; items already in flight always run to completion. Run
// returns the first work error, else ctx.Err() if dispatch was cut short.
func (p *Pool) Run(ctx context.Context, n int, work WorkFunc) error {
	if n <= 0 {
		return nil
	}

	ctrlCtx, stopCtrl := context.WithCancel(ctx)
	defer stopCtrl()
	go p.throttle.Run(ctrlCtx)

	done := make(chan error, n)
	ctxDone := ctx.Done()

	var (
		next     int
		inFlight int
		firstErr error
		halted   bool
	)

	for {
		for !halted && ctx.Err() == nil && next < n && inFlight < p.throttle.Allowed() {
			i := next
			next++
			inFlight++
			go func() {
				done <- work(ctx, i)
			}()
		}

		if inFlight == 0 && (halted || next >= n) {
			break
		}

		select {
		case err := <-done:
			inFlight--
			if err != nil && firstErr == nil {
				firstErr = err
				halted = true
			}
		case <-p.throttle.Changed():
		case <-ctxDone:
			halted = true
			ctxDone = nil
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if next < n {
		return ctx.Err()
	}
	return nil
}
