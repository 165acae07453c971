// Package timer drives the view-local deadlines of the consensus engine. The
// only timeouts in the protocol are measured against the moment the current
// view was entered: after six synchrony bounds an unfinalized QC is reported
// to the leader, and after twelve the process asks to end the view. The
// engine re-checks both conditions on every clock tick, so the timer's job is
// to deliver ticks at a resolution finer than the synchrony bound and to
// answer deadline queries.
package timer

import (
	"time"
)

// A Clock supplies monotone local timestamps. It is injected so that tests
// and simulations can drive logical time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host's clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ViewTimer answers the two deadline queries of the protocol relative to a
// view entry timestamp.
type ViewTimer struct {
	opts Options
}

// NewViewTimer constructs a view timer from the input options.
func NewViewTimer(opts Options) *ViewTimer {
	return &ViewTimer{opts: opts}
}

// Delta returns the synchrony bound.
func (t *ViewTimer) Delta() time.Duration {
	return t.opts.Delta
}

// ComplainDeadlineReached reports whether the 6Δ complaint deadline has
// passed for a view entered at the given time.
func (t *ViewTimer) ComplainDeadlineReached(viewEnteredAt, now time.Time) bool {
	return now.Sub(viewEnteredAt) >= 6*t.opts.Delta
}

// EndViewDeadlineReached reports whether the 12Δ end-view deadline has
// passed for a view entered at the given time.
func (t *ViewTimer) EndViewDeadlineReached(viewEnteredAt, now time.Time) bool {
	return now.Sub(viewEnteredAt) >= 12*t.opts.Delta
}

// Ticks invokes the handler at the timer's resolution until the done channel
// closes. The handler runs on a dedicated goroutine; callers must serialise
// it with the rest of the engine.
func (t *ViewTimer) Ticks(done <-chan struct{}, handle func(time.Time)) {
	ticker := time.NewTicker(t.opts.Resolution)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				handle(now)
			}
		}
	}()
}
