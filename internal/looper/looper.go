// Package looper implements three edge-triggered, run-once-per-event-
// loop-iteration tasks: ReadLooper, PeekLooper, and
// WriteLooper. None of them run their own goroutine; each exposes a
// buffered trigger channel that the connection's single event-loop
// goroutine selects on, matching a cooperative, lock-free scheduling
// model where the core suspends only by returning to the event base.
//
// The dedup behavior falls out of using a channel of capacity 1: any
// number of Run() calls between two receives from Chan() collapse into a
// single pending iteration, which is exactly "run at most once per
// iteration, edge-triggered".
package looper

import (
	"sync/atomic"
	"time"
)

// Looper is one edge-triggered, run-once-per-iteration task.
type Looper struct {
	name    string
	trigger chan struct{}
	stopped atomic.Bool
}

// New builds a Looper. name is used only for diagnostics/logging.
func New(name string) *Looper {
	return &Looper{name: name, trigger: make(chan struct{}, 1)}
}

// Name returns the looper's diagnostic name.
func (l *Looper) Name() string { return l.name }

// Run schedules one iteration, unless the looper is stopped. Calling Run
// repeatedly before the pending iteration is consumed is a no-op after the
// first call — this is the "edge-triggered" part.
func (l *Looper) Run() {
	if l.stopped.Load() {
		return
	}
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Stop disables scheduling and discards any pending iteration. A stopped
// looper's Run() calls are ignored until Resume is called.
func (l *Looper) Stop() {
	l.stopped.Store(true)
	select {
	case <-l.trigger:
	default:
	}
}

// Resume re-enables scheduling after Stop.
func (l *Looper) Resume() {
	l.stopped.Store(false)
}

// Running reports whether Stop has not been called (or Resume has been
// called since).
func (l *Looper) Running() bool {
	return !l.stopped.Load()
}

// Chan is the trigger channel the owning event loop selects on. A receive
// from it means "run this looper's body now".
func (l *Looper) Chan() <-chan struct{} {
	return l.trigger
}

// WriteLooper is a Looper augmented with the pacing predicate the write
// path orchestrator consults before invoking the wire writer.
type WriteLooper struct {
	*Looper
	pacingDelay func() time.Duration
}

// NewWriteLooper builds a WriteLooper. pacingDelay, if non-nil, returns how
// long to wait before the next write burst; a zero or negative duration
// means "write now".
func NewWriteLooper(pacingDelay func() time.Duration) *WriteLooper {
	return &WriteLooper{Looper: New("write"), pacingDelay: pacingDelay}
}

// PacingDelay returns the current pacing delay, or 0 if no pacer is installed.
func (w *WriteLooper) PacingDelay() time.Duration {
	if w.pacingDelay == nil {
		return 0
	}
	return w.pacingDelay()
}

// SetPacingDelay installs or replaces the pacing predicate, used when the
// pacer is (re)configured by SetTransportSettings.
func (w *WriteLooper) SetPacingDelay(fn func() time.Duration) {
	w.pacingDelay = fn
}
