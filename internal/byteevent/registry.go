// Package byteevent implements the per-stream, offset-ordered TX/ACK
// notification queues a connection uses to tell callers when data has left
// the wire or been acknowledged. It is deliberately ignorant of
// stream state machines, flow control, and the wire: it only ever sees
// (stream ID, offset, callback) tuples handed to it by the connection core,
// and dispatches or cancels them in strict offset order.
//
// Grounded on mvfst's ByteEventMap (QuicTransportBase.cpp) for the
// registration/dispatch/cancellation contract, expressed with Go sorted
// slices instead of C++ deques — a stream rarely has more than a handful of
// pending byte events outstanding, so linear insertion is the right choice
// over a heap.
package byteevent

import (
	"sort"
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// Kind distinguishes the two independent event families: TX fires when a
// byte has been written to the wire, ACK fires when the peer has
// acknowledged it.
type Kind uint8

const (
	TX Kind = iota
	ACK
)

func (k Kind) String() string {
	if k == TX {
		return "tx"
	}
	return "ack"
}

// Callback receives the three notifications a registered byte event can
// produce; exactly one of OnByteEvent/OnByteEventCanceled fires per
// registration.
type Callback interface {
	OnByteEventRegistered(id protocol.StreamID, offset protocol.ByteCount, kind Kind)
	OnByteEvent(id protocol.StreamID, offset protocol.ByteCount, kind Kind, rtt time.Duration)
	OnByteEventCanceled(id protocol.StreamID, offset protocol.ByteCount, kind Kind)
}

type entry struct {
	offset protocol.ByteCount
	cb     Callback
}

// Registry owns the TX and ACK queues for every stream on one connection.
type Registry struct {
	queues [2]map[protocol.StreamID][]entry

	// scheduleAsync enqueues fn to run on the next event-loop iteration; it
	// backs the "schedule an asynchronous dispatch" rule for registrations
	// that are already deliverable at register time.
	scheduleAsync func(fn func())
}

// New builds an empty Registry. scheduleAsync must not be nil in
// production use; tests may pass a synchronous stand-in that calls fn
// immediately.
func New(scheduleAsync func(fn func())) *Registry {
	return &Registry{
		queues:        [2]map[protocol.StreamID][]entry{{}, {}},
		scheduleAsync: scheduleAsync,
	}
}

// Register inserts a new byte event in offset order. It is the caller's
// (the stream API's) job to have already validated that the connection is
// Open, the stream exists, and the stream is not receive-only — the
// registry only enforces the duplicate rule and the immediate-fire rule.
//
// A nil cb succeeds silently.
//
// maxOffsetReady is the largest offset already deliverable for this
// (kind, id) pair, or (0, false) if nothing has been delivered/sent yet; if
// offset is already covered, the async re-check-and-fire path is armed
// instead of firing synchronously, since register() itself must not
// re-enter application code.
func (r *Registry) Register(kind Kind, id protocol.StreamID, offset protocol.ByteCount, cb Callback, maxOffsetReady protocol.ByteCount, hasMaxOffsetReady bool) error {
	if cb == nil {
		return nil
	}
	q := r.queues[kind]
	existing := q[id]
	for _, e := range existing {
		if e.offset == offset && e.cb == cb {
			return qerr.NewLocalError(qerr.InvalidOperation, "duplicate byte event registration")
		}
	}
	idx := sort.Search(len(existing), func(i int) bool { return existing[i].offset >= offset })
	existing = append(existing, entry{})
	copy(existing[idx+1:], existing[idx:])
	existing[idx] = entry{offset: offset, cb: cb}
	q[id] = existing

	cb.OnByteEventRegistered(id, offset, kind)

	if hasMaxOffsetReady && maxOffsetReady >= offset {
		r.scheduleReverify(kind, id, offset, cb)
	}
	return nil
}

// scheduleReverify arms the asynchronous re-check-and-fire an
// already-deliverable registration requires: by the time the deferred task
// runs, the entry may already have
// been cancelled or delivered by a synchronous Dispatch call, so it must
// look the entry up again before firing.
func (r *Registry) scheduleReverify(kind Kind, id protocol.StreamID, offset protocol.ByteCount, cb Callback) {
	fire := func() {
		q := r.queues[kind]
		existing := q[id]
		for i, e := range existing {
			if e.offset == offset && e.cb == cb {
				q[id] = append(existing[:i], existing[i+1:]...)
				cb.OnByteEvent(id, offset, kind, 0)
				return
			}
		}
		// Already delivered or cancelled by the time we ran; nothing to do.
	}
	if r.scheduleAsync != nil {
		r.scheduleAsync(fire)
	} else {
		fire()
	}
}

// Dispatch invokes, in ascending offset order, every callback registered
// for (kind, id) whose offset is <= maxOffset, supplying rtt as the
// observed sample (only meaningful for ACK dispatch — TX dispatch callers
// should pass 0). isClosed is polled after every callback; if it starts
// reporting true, Dispatch returns immediately, leaving the remainder of
// the queue for closeImpl's cancellation fan-out to clean up.
func (r *Registry) Dispatch(kind Kind, id protocol.StreamID, maxOffset protocol.ByteCount, rtt time.Duration, isClosed func() bool) {
	q := r.queues[kind]
	existing := q[id]
	i := 0
	for i < len(existing) && existing[i].offset <= maxOffset {
		e := existing[i]
		i++
		e.cb.OnByteEvent(id, e.offset, kind, rtt)
		if isClosed != nil && isClosed() {
			q[id] = existing[i:]
			return
		}
	}
	if i > 0 {
		remaining := existing[i:]
		if len(remaining) == 0 {
			delete(q, id)
		} else {
			q[id] = remaining
		}
	}
}

// Cancel invokes OnByteEventCanceled for every (kind, id) entry whose
// offset is strictly less than beforeOffset (or every entry, if
// hasBeforeOffset is false), in ascending offset order, matching
// cancelByteEventCallbacksForStream. It returns true if the queue
// for (kind, id) became empty as a result, so the caller can update a
// stream manager's deliverable/tx index.
func (r *Registry) Cancel(kind Kind, id protocol.StreamID, beforeOffset protocol.ByteCount, hasBeforeOffset bool, isClosed func() bool) (becameEmpty bool) {
	q := r.queues[kind]
	existing := q[id]
	i := 0
	for i < len(existing) {
		e := existing[i]
		if hasBeforeOffset && e.offset >= beforeOffset {
			break
		}
		i++
		e.cb.OnByteEventCanceled(id, e.offset, kind)
		if isClosed != nil && isClosed() {
			q[id] = existing[i:]
			return len(q[id]) == 0
		}
	}
	remaining := existing[i:]
	if len(remaining) == 0 {
		delete(q, id)
		return true
	}
	q[id] = remaining
	return false
}

// CancelAll moves every queue out of the registry and cancels every entry
// in it, matching cancelAllByteEventCallbacks — used from the
// close/drain FSM.
func (r *Registry) CancelAll() {
	for kind := range r.queues {
		q := r.queues[kind]
		r.queues[kind] = map[protocol.StreamID][]entry{}
		for id, entries := range q {
			for _, e := range entries {
				e.cb.OnByteEventCanceled(id, e.offset, Kind(kind))
			}
		}
	}
}

// CancelAllForStream cancels every TX and ACK entry for one stream,
// matching handleCancelByteEventCallbacks's behavior on stream reset.
func (r *Registry) CancelAllForStream(id protocol.StreamID) {
	for _, kind := range [2]Kind{TX, ACK} {
		r.Cancel(kind, id, 0, false, nil)
	}
}

// Empty reports whether (kind, id) currently has no pending entries.
func (r *Registry) Empty(kind Kind, id protocol.StreamID) bool {
	return len(r.queues[kind][id]) == 0
}

// Len reports the number of pending entries for (kind, id); used by tests
// to assert ordering invariants without reaching into private state.
func (r *Registry) Len(kind Kind, id protocol.StreamID) int {
	return len(r.queues[kind][id])
}
