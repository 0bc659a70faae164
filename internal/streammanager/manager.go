// Package streammanager tracks which stream IDs exist and who may open the
// next one. The stream state machine itself (send/receive states, reset,
// STOP_SENDING handling) is out of scope for the connection core and is
// left to the caller; this package only answers "does this ID exist" and
// "what's the next ID I'm allowed to hand out", generalizing quic-go's
// streamsMap ID-bookkeeping half without carrying over its frame-parsing
// half.
package streammanager

import (
	"sync"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// Stream is the minimal handle the manager needs: an ID and whether it has
// already been retired (closed and fully drained on both sides).
type Stream interface {
	ID() protocol.StreamID
}

// Manager allocates outgoing stream IDs, admits peer-initiated ones within
// the configured limits, and keeps the accept queues the stream API surface
// (C11) drains from OpenStream/AcceptStream.
type Manager struct {
	mu sync.Mutex

	perspective protocol.Perspective

	streams map[protocol.StreamID]Stream

	nextOutgoingBidi protocol.StreamID
	nextOutgoingUni  protocol.StreamID

	maxIncomingBidi uint64
	maxIncomingUni  uint64
	numIncomingBidi uint64
	numIncomingUni  uint64

	acceptBidi chan Stream
	acceptUni  chan Stream

	closeErr error
}

// New builds a Manager for the given perspective. maxIncomingBidi/Uni are
// the peer-facing stream limits this side advertises.
func New(perspective protocol.Perspective, maxIncomingBidi, maxIncomingUni uint64) *Manager {
	m := &Manager{
		perspective:     perspective,
		streams:         make(map[protocol.StreamID]Stream),
		maxIncomingBidi: maxIncomingBidi,
		maxIncomingUni:  maxIncomingUni,
		acceptBidi:      make(chan Stream, 1<<10),
		acceptUni:       make(chan Stream, 1<<10),
	}
	if perspective == protocol.PerspectiveClient {
		m.nextOutgoingBidi = 0
		m.nextOutgoingUni = 2
	} else {
		m.nextOutgoingBidi = 1
		m.nextOutgoingUni = 3
	}
	return m
}

// NextOutgoingBidiStreamID reserves and returns the next bidirectional
// stream ID this side is allowed to open.
func (m *Manager) NextOutgoingBidiStreamID() (protocol.StreamID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return 0, m.closeErr
	}
	id := m.nextOutgoingBidi
	m.nextOutgoingBidi += 4
	return id, nil
}

// NextOutgoingUniStreamID is NextOutgoingBidiStreamID for unidirectional streams.
func (m *Manager) NextOutgoingUniStreamID() (protocol.StreamID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return 0, m.closeErr
	}
	id := m.nextOutgoingUni
	m.nextOutgoingUni += 4
	return id, nil
}

// Register records a newly created stream, whichever side opened it.
func (m *Manager) Register(s Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[s.ID()] = s
}

// Remove retires a stream ID once both directions are fully drained.
func (m *Manager) Remove(id protocol.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
}

// Get returns the live stream for id, if any.
func (m *Manager) Get(id protocol.StreamID) (Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	return s, ok
}

// AdmitIncoming records that the peer opened id, enforcing the advertised
// stream-count limit. newStream is invoked (and its result registered and
// queued for Accept) only for a genuinely new ID; a retransmitted open for
// an ID already seen is a no-op.
func (m *Manager) AdmitIncoming(id protocol.StreamID, newStream func(protocol.StreamID) Stream) error {
	m.mu.Lock()
	if m.closeErr != nil {
		err := m.closeErr
		m.mu.Unlock()
		return err
	}
	if _, ok := m.streams[id]; ok {
		m.mu.Unlock()
		return nil
	}
	if id.IsBidirectional() {
		if m.numIncomingBidi >= m.maxIncomingBidi {
			m.mu.Unlock()
			return qerr.NewTransportError(qerr.TransportStreamLimitError, "too many open bidirectional streams")
		}
		m.numIncomingBidi++
	} else {
		if m.numIncomingUni >= m.maxIncomingUni {
			m.mu.Unlock()
			return qerr.NewTransportError(qerr.TransportStreamLimitError, "too many open unidirectional streams")
		}
		m.numIncomingUni++
	}
	s := newStream(id)
	m.streams[id] = s
	m.mu.Unlock()

	if id.IsBidirectional() {
		m.acceptBidi <- s
	} else {
		m.acceptUni <- s
	}
	return nil
}

// AcceptBidiStream blocks (via the returned channel) until a peer-opened
// bidirectional stream is available, or the manager is closed.
func (m *Manager) AcceptBidiStream() <-chan Stream { return m.acceptBidi }

// AcceptUniStream is AcceptBidiStream for unidirectional streams.
func (m *Manager) AcceptUniStream() <-chan Stream { return m.acceptUni }

// CloseWithError unblocks any pending Next/Accept calls and rejects future
// ones with err.
func (m *Manager) CloseWithError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return
	}
	m.closeErr = err
	close(m.acceptBidi)
	close(m.acceptUni)
}

// Len reports how many streams are currently tracked, for tests and stats.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
