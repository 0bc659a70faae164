package flowcontrol

import (
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
)

// StreamController is one stream's flow-control state, generalizing the
// teacher's streamFlowController by additionally tracking the current
// send-buffer occupancy the gate needs for invariant P5's accounting.
type StreamController struct {
	base
	id protocol.StreamID

	curBufferLen protocol.ByteCount
}

// NewStreamController builds a controller for stream id.
func NewStreamController(id protocol.StreamID, initialWindow, maxWindow protocol.ByteCount, rtt func() time.Duration) *StreamController {
	return &StreamController{base: newBase(initialWindow, maxWindow, rtt), id: id}
}

// ID returns the owning stream's ID.
func (s *StreamController) ID() protocol.StreamID { return s.id }

// SetBufferLen records how many bytes are currently buffered for this
// stream's send side, feeding sumCurStreamBufferLen at the connection level.
func (s *StreamController) SetBufferLen(n protocol.ByteCount) {
	s.mu.Lock()
	s.curBufferLen = n
	s.mu.Unlock()
}

// BufferLen returns the current send-buffer occupancy.
func (s *StreamController) BufferLen() protocol.ByteCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curBufferLen
}
