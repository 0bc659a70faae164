package flowcontrol

import (
	"sync"
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
)

// ConnController is the connection-level flow-control window plus the
// buffer-space accounting the gate needs, generalizing quic-go's
// connectionFlowController with the total-buffer-space bookkeeping mvfst's
// QuicTransportBase keeps at the Conn level.
type ConnController struct {
	base

	mu                    sync.RWMutex
	totalBufferSpace      protocol.ByteCount
	sumCurStreamBufferLen protocol.ByteCount
	streams               map[protocol.StreamID]*StreamController
}

// NewConnController builds a connection-level controller. totalBufferSpace
// is totalBufferSpaceAvailable.
func NewConnController(initialWindow, maxWindow, totalBufferSpace protocol.ByteCount, rtt func() time.Duration) *ConnController {
	return &ConnController{
		base:             newBase(initialWindow, maxWindow, rtt),
		totalBufferSpace: totalBufferSpace,
		streams:          make(map[protocol.StreamID]*StreamController),
	}
}

// Register tracks a stream controller so its buffer length contributes to
// sumCurStreamBufferLen; Unregister removes it (on stream close).
func (c *ConnController) Register(s *StreamController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[s.ID()] = s
}

func (c *ConnController) Unregister(id protocol.StreamID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, id)
}

// SumCurStreamBufferLen totals every registered stream's current buffer
// occupancy.
func (c *ConnController) SumCurStreamBufferLen() protocol.ByteCount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sum protocol.ByteCount
	for _, s := range c.streams {
		sum += s.BufferLen()
	}
	return sum
}

// BufferSpaceAvailable implements
// bufferSpaceAvailable = max(0, totalBufferSpaceAvailable - sumCurStreamBufferLen).
func (c *ConnController) BufferSpaceAvailable() protocol.ByteCount {
	remaining := c.totalBufferSpace - c.SumCurStreamBufferLen()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetTotalBufferSpace updates totalBufferSpaceAvailable, e.g. when transport
// settings are changed post-construction.
func (c *ConnController) SetTotalBufferSpace(n protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalBufferSpace = n
}
