package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/datagramqueue"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
)

// pacedWriteDataToSocket is the single entry to the wire writer. Pacing
// decides whether to write now, later (the WriteLooper will fire when the
// pacer says so), or immediately followed by a yield-and-retry via the
// ExcessWrite timer.
func (c *Conn) pacedWriteDataToSocket() {
	if c.closeState == StateClosed {
		return
	}
	if c.settings.CheckIdleTimerOnWrite {
		c.checkIdleTimer(time.Now())
		if c.closeState == StateClosed {
			return
		}
	}
	if !c.settings.PacingEnabled || c.pacer == nil {
		hadMore := c.writeSocketData()
		if hadMore && (c.excessWriteLimiter == nil || c.excessWriteLimiter.Allow()) {
			c.timers.Arm(timerset.ExcessWrite, 0)
		}
		return
	}
	delay := c.pacer.TimeUntilSend()
	if delay > 0 {
		return
	}
	c.writeSocketData()
}

// writeSocketData snapshots counters, invokes the external wire encoder,
// re-arms loss detection, notifies observers, and detects app-limited
// transitions. It returns true if more data remains queued after this burst.
func (c *Conn) writeSocketData() bool {
	if c.encoder == nil {
		return false
	}

	bytesBefore := c.totalBytesSent
	packetsBefore := c.packetsSent

	newBytes, newPackets, newAckEliciting, closeTransport, err := c.encoder.EncodeAndSend(c)
	if closeTransport {
		c.CloseWithTransportError(qerr.NewTransportError(qerr.TransportProtocolViolation, "max packet number reached"), false)
		return false
	}
	if err != nil {
		c.closeOnDecodeError(err)
		return false
	}

	c.totalBytesSent += int64(newBytes)
	c.packetsSent += int64(newPackets)
	if newAckEliciting > 0 {
		c.ackElicitingAppDataSent += uint64(newAckEliciting)
	}

	if c.totalBytesSent < bytesBefore || c.packetsSent < packetsBefore {
		panic("qcore: write counters must be monotonically non-decreasing")
	}

	if newPackets > 0 {
		c.timers.Arm(timerset.Loss, c.estimatedPTO())
		if c.tracer != nil && c.tracer.PacketsWritten != nil {
			c.tracer.PacketsWritten(newPackets, newBytes)
		}
		if c.cc != nil {
			c.cc.OnPacketSent(time.Now(), newBytes, true)
		}
		if c.pacer != nil {
			c.pacer.OnPacketSent(time.Now(), newBytes)
		}
	}

	c.detectAppLimited()

	c.scheduleAckTimer()
	c.schedulePathValidationTimer()

	moreQueued := c.datagramWrite.Len() > 0
	return moreQueued
}

// detectAppLimited implements step 7 of writeSocketData: with no datagrams
// queued for send and headroom in the congestion window, the sender is
// idle for lack of data rather than congestion, so it's marked app-limited
// and an AppLimitedTracker interval starts.
func (c *Conn) detectAppLimited() {
	if c.cc == nil {
		return
	}
	hasQueuedData := c.datagramWrite.Len() > 0
	hasHeadroom := c.cc.Writable() > 0
	limited := !hasQueuedData && hasHeadroom

	if limited == c.appLimited {
		return
	}
	c.appLimited = limited
	if limited {
		c.cc.OnAppLimited()
		c.appLimitedInfo = AppLimitedTracker{
			Active:            true,
			StartPacketNumber: uint64(c.packetsSent),
		}
	} else {
		c.appLimitedInfo.Active = false
		c.appLimitedInfo.EndPacketNumber = uint64(c.packetsSent)
	}
	if c.tracer != nil && c.tracer.AppLimited != nil {
		c.tracer.AppLimited(limited)
	}
}

// updateWriteLooper decides whether the WriteLooper should be scheduled to
// run again this iteration.
func (c *Conn) updateWriteLooper(shouldWriteData func() bool) {
	if c.closeState == StateClosed {
		c.writeLooper.Stop()
		return
	}
	if shouldWriteData != nil && !shouldWriteData() {
		c.writeLooper.Stop()
		return
	}
	c.writeLooper.Run()
}

// SendKnob queues a KNOB frame request for the next write.
func (c *Conn) SendKnob(space, id uint64, blob []byte) error {
	if err := c.mustBeOpen(); err != nil {
		return err
	}
	c.pendingKnob = &pendingKnob{space: space, id: id, blob: blob}
	c.writeLooper.Run()
	return nil
}

type pendingKnob struct {
	space uint64
	id    uint64
	blob  []byte
}

// TakePendingKnob is consumed by the external WireEncoder when it builds
// the next packet, so a KNOB frame is emitted at most once per SendKnob call.
func (c *Conn) TakePendingKnob() (space, id uint64, blob []byte, ok bool) {
	if c.pendingKnob == nil {
		return 0, 0, nil, false
	}
	k := c.pendingKnob
	c.pendingKnob = nil
	return k.space, k.id, k.blob, true
}

// AppLimitedInfo exposes the current app-limited interval for an external
// bandwidth estimator.
func (c *Conn) AppLimitedInfo() AppLimitedTracker { return c.appLimitedInfo }

// NextDatagramToWrite pops the next queued outgoing datagram for the
// external encoder.
func (c *Conn) NextDatagramToWrite() ([]byte, bool) { return c.datagramWrite.Pop() }

// PushReceivedDatagram enqueues a received datagram for the application to
// read, notifying the datagram callback if one is installed.
func (c *Conn) PushReceivedDatagram(payload []byte, receivedAt time.Time) {
	c.datagramRead.Push(datagramqueue.Datagram{Payload: payload, ReceivedAt: receivedAt})
	if cb := c.callbacks.Datagram(); cb != nil {
		cb.OnDatagramsAvailable()
	}
}

func (c *Conn) writableBudget() protocol.ByteCount {
	return c.flowGate.MaxWritableOnConn(c.connFC, c.ccWritable())
}
