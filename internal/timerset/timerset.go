// Package timerset implements a connection's timer set as independent,
// explicitly re-armed one-shot timers, each cancellable idempotently. It
// generalizes quic-go's single merged-deadline utils.Timer
// (connection_timer.go) to N independently owned timers, because unlike
// quic-go's read loop this core needs to reason about "is the drain timer
// already armed" and "cancel only the loss timer" independently.
package timerset

import (
	"math"
	"sync"
	"time"
)

// ID names one of the eight timer singletons a connection owns.
type ID uint8

const (
	Loss ID = iota
	Ack
	PathValidation
	Idle
	Keepalive
	Drain
	Ping
	ExcessWrite
	numTimers
)

func (id ID) String() string {
	switch id {
	case Loss:
		return "loss"
	case Ack:
		return "ack"
	case PathValidation:
		return "path_validation"
	case Idle:
		return "idle"
	case Keepalive:
		return "keepalive"
	case Drain:
		return "drain"
	case Ping:
		return "ping"
	case ExcessWrite:
		return "excess_write"
	default:
		return "unknown"
	}
}

// entry tracks one timer's live *time.Timer plus enough bookkeeping to
// implement the drain-safe reset idiom from utils.Timer without merging
// timers together, since each ID must be independently cancellable.
type entry struct {
	timer    *time.Timer
	armed    bool
	deadline time.Time
	armCount uint64 // bumped on every Arm; guards a stale CheckIdleTimer call against a since re-armed timer.
}

// Set owns all eight timers for one connection and dispatches their
// expiries onto a single callback per ID, invoked on whatever goroutine
// calls Fire — the core's single event-loop goroutine.
type Set struct {
	mu       sync.Mutex
	entries  [numTimers]*entry
	onExpire [numTimers]func()
	closed   bool
}

// New builds a Set. Each onExpire[i] is invoked (never concurrently with
// other core work, by construction of the caller's event loop) when timer i
// fires and hasn't since been cancelled or re-armed to a later time.
func New() *Set {
	s := &Set{}
	for i := range s.entries {
		e := &entry{timer: time.NewTimer(time.Duration(math.MaxInt64))}
		e.timer.Stop()
		s.entries[i] = e
	}
	return s
}

// OnExpire registers the callback for a timer ID. Must be called before the
// first Fire of that ID.
func (s *Set) OnExpire(id ID, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire[id] = fn
}

// Arm schedules timer id to fire after d, cancelling any pending expiry
// first (idempotent cancel).
func (s *Set) Arm(id ID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e := s.entries[id]
	if !e.timer.Stop() {
		select {
		case <-e.timer.C:
		default:
		}
	}
	e.armCount++
	e.armed = true
	e.deadline = time.Now().Add(d)
	e.timer.Reset(d)
}

// ArmAt schedules timer id to fire at the given absolute time.
func (s *Set) ArmAt(id ID, at time.Time) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.Arm(id, d)
}

// Cancel disarms timer id. Cancelling an unarmed timer is a no-op.
func (s *Set) Cancel(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	e.timer.Stop()
	e.armed = false
}

// IsArmed reports whether timer id currently has a pending expiry. Used by
// the Drain and PathValidation arming rules, which must be idempotent
// ("only if not already armed" / "at most once per lifetime").
func (s *Set) IsArmed(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id].armed
}

// Deadline reports the absolute time timer id is scheduled to fire, and
// whether it is armed at all.
func (s *Set) Deadline(id ID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	return e.deadline, e.armed
}

// Generation reports how many times timer id has been armed. A caller that
// defers acting on a timer's state across an async hop (CheckIdleTimer's
// caller, scheduling the actual timeout asynchronously) captures this value
// first, so it can tell afterward whether the timer was cancelled or
// re-armed out from under it in the meantime.
func (s *Set) Generation(id ID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id].armCount
}

// CheckIdleTimer reports whether the idle timer's deadline has already
// passed as of now without its underlying time.Timer channel having fired
// yet — the case a clock-skewed or long-stalled event loop can produce. On a
// true result it also clears the armed bit, so a caller driving the actual
// timeout callback asynchronously from this result won't be told to do so a
// second time; it returns the arm generation at the moment of the decision,
// for the caller to re-check before firing in case the timer was re-armed
// during the async hop.
func (s *Set) CheckIdleTimer(now time.Time) (shouldFire bool, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[Idle]
	if s.closed || !e.armed || now.Before(e.deadline) {
		return false, e.armCount
	}
	e.armed = false
	return true, e.armCount
}

// Chan exposes the underlying channel for select-based event loops that
// multiplex all eight timers themselves and call Fire on each expiry.
func (s *Set) Chan(id ID) <-chan time.Time {
	return s.entries[id].timer.C
}

// Fire is called by the event loop when timer id's channel has produced a
// value; it clears the armed bit and invokes the registered callback,
// unless the Set has been stopped (Close) in the interim.
func (s *Set) Fire(id ID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e := s.entries[id]
	e.armed = false
	fn := s.onExpire[id]
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// StopAll cancels every timer named. Used when tearing down Loss, Ack,
// PathValidation, Idle, Keepalive, Ping, and ExcessWrite while leaving Drain
// (intentionally omitted by callers that still need it) running.
func (s *Set) StopAll(ids ...ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e := s.entries[id]
		e.timer.Stop()
		e.armed = false
	}
}

// Close disarms every timer and rejects future Arm calls; used once the
// connection reaches Drained.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, e := range s.entries {
		e.timer.Stop()
		e.armed = false
	}
}
