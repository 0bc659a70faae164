// Package flowcontrol implements the connection- and stream-level windows
// and the write-gating arithmetic, generalizing quic-go's
// baseFlowController (auto-tuned receive window, monotone send window) to
// also feed the multi-factor min() writable-bytes computation:
//
//	writable_bytes_on_stream = min(stream_credit, conn_credit, buffer_headroom, cc_headroom*multiplier)
package flowcontrol

import (
	"sync"
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
)

// windowUpdateThreshold mirrors quic-go's auto-tuning trigger: a window
// update is sent once more than this fraction of the increment has been
// consumed since the last update.
const windowUpdateThreshold = 0.25

// base holds the send/receive window bookkeeping shared by both the
// connection- and stream-level controllers, exactly as in quic-go's
// baseFlowController.
type base struct {
	mu sync.RWMutex

	bytesSent  protocol.ByteCount
	sendWindow protocol.ByteCount

	bytesRead                 protocol.ByteCount
	highestReceived           protocol.ByteCount
	receiveWindow             protocol.ByteCount
	receiveWindowIncrement    protocol.ByteCount
	maxReceiveWindowIncrement protocol.ByteCount
	lastWindowUpdateTime      time.Time

	rtt func() time.Duration
}

func newBase(initialWindow, maxWindow protocol.ByteCount, rtt func() time.Duration) base {
	return base{
		sendWindow:                initialWindow,
		receiveWindow:             initialWindow,
		receiveWindowIncrement:    initialWindow,
		maxReceiveWindowIncrement: maxWindow,
		rtt:                       rtt,
	}
}

// AddBytesSent accounts for n bytes just handed to the wire writer.
func (b *base) AddBytesSent(n protocol.ByteCount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytesSent += n
}

// UpdateSendWindow raises the send window if offset is larger than the
// current one; it is monotone, matching quic-go's semantics for a
// peer's MAX_DATA/MAX_STREAM_DATA frame, which can only grow the window.
func (b *base) UpdateSendWindow(offset protocol.ByteCount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset > b.sendWindow {
		b.sendWindow = offset
	}
}

// SendCredit is the number of bytes still writable before hitting the peer-advertised window.
func (b *base) SendCredit() protocol.ByteCount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bytesSent >= b.sendWindow {
		return 0
	}
	return b.sendWindow - b.bytesSent
}

// IsBlocked reports whether the send window is currently exhausted.
func (b *base) IsBlocked() bool {
	return b.SendCredit() == 0
}

// AddBytesRead accounts for n bytes just consumed by the application.
func (b *base) AddBytesRead(n protocol.ByteCount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bytesRead == 0 {
		b.lastWindowUpdateTime = time.Now()
	}
	b.bytesRead += n
}

// SetHighestReceived records the highest byte offset seen from the peer, so
// a flow-control violation (highestReceived > receiveWindow) can be detected.
func (b *base) SetHighestReceived(offset protocol.ByteCount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset > b.highestReceived {
		b.highestReceived = offset
	}
}

// FlowControlViolation reports whether the peer has sent past our advertised window.
func (b *base) FlowControlViolation() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.highestReceived > b.receiveWindow
}

// MaybeWindowUpdate returns the new receive-window offset and true if
// enough of the window has been consumed to warrant advertising a larger
// one, auto-tuning the increment the same way quic-go does.
func (b *base) MaybeWindowUpdate() (protocol.ByteCount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.receiveWindow - b.bytesRead
	threshold := protocol.ByteCount(float64(b.receiveWindowIncrement) * (1 - windowUpdateThreshold))
	if remaining >= threshold {
		return 0, false
	}
	b.maybeAdjustIncrementLocked()
	b.receiveWindow = b.bytesRead + b.receiveWindowIncrement
	b.lastWindowUpdateTime = time.Now()
	return b.receiveWindow, true
}

func (b *base) maybeAdjustIncrementLocked() {
	if b.lastWindowUpdateTime.IsZero() || b.rtt == nil {
		return
	}
	rtt := b.rtt()
	if rtt <= 0 {
		return
	}
	if time.Since(b.lastWindowUpdateTime) >= time.Duration(4*windowUpdateThreshold*float64(rtt)) {
		return
	}
	next := 2 * b.receiveWindowIncrement
	if next > b.maxReceiveWindowIncrement {
		next = b.maxReceiveWindowIncrement
	}
	b.receiveWindowIncrement = next
}

// ReceiveWindow exposes the currently advertised receive window, for tests
// and diagnostics.
func (b *base) ReceiveWindow() protocol.ByteCount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.receiveWindow
}

// BytesSent exposes the running sent counter, for diagnostics.
func (b *base) BytesSent() protocol.ByteCount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytesSent
}
