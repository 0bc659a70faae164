package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/byteevent"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
)

// NetworkPacket is one still-encrypted UDP datagram handed to the ingress
// path, plus the metadata C9 needs before decoding it.
type NetworkPacket struct {
	Raw        []byte
	ReceivedAt time.Time
	ECN        protocol.ECN
}

// knobFrame is a staged KNOB frame delivery, drained by handleKnobCallbacks
// so knob delivery participates in the fixed fan-out order instead of
// firing inline during decode.
type knobFrame struct {
	space uint64
	id    uint64
	blob  []byte
}

// NetworkData is a batch of packets read off the wire in one socket read.
type NetworkData struct {
	Packets    []NetworkPacket
	TotalBytes protocol.ByteCount
}

// IngestNetworkData is C9's entry point: it accounts bytes, decodes every
// packet via the external WireDecoder, drives the post-network callback
// fan-out, and re-arms the timers that depend on having heard from the
// peer.
func (c *Conn) IngestNetworkData(data NetworkData) {
	if c.closeState == StateClosed {
		return
	}

	c.totalBytesRecvd += int64(data.TotalBytes)
	if c.tracer != nil && c.tracer.NetworkDataReceived != nil {
		c.tracer.NetworkDataReceived(len(data.Packets), data.TotalBytes)
	}

	ackStateAdvanced := false
	ackEliciting := false
	for _, pkt := range data.Packets {
		c.packetsRecvd++
		c.accountECNMark(pkt.ECN)

		if c.decoder == nil {
			continue
		}
		result, err := c.decoder.DecodePacket(c, pkt.Raw, pkt.ReceivedAt, pkt.ECN)
		if err != nil {
			c.closeOnDecodeError(err)
			return
		}
		if result.PeerClosed {
			reason := qerr.NewTransportCloseReason(qerr.NewTransportError(qerr.TransportNoError, "peer closed"), true)
			if result.PeerCloseReason != "" {
				reason = reason.WithUnsanitizedMessage(result.PeerCloseReason)
			}
			c.closeImpl(reason, false)
			return
		}
		if result.AckStateAdvanced {
			ackStateAdvanced = true
		}
		if result.IsAckEliciting {
			ackEliciting = true
		}
		if result.HasKnob {
			c.pendingKnobFrames = append(c.pendingKnobFrames, knobFrame{
				space: result.KnobSpace,
				id:    result.KnobID,
				blob:  result.KnobBlob,
			})
		}
		c.pendingNewStreamIDs = append(c.pendingNewStreamIDs, result.NewStreamIDs...)
		c.pendingResetStreamIDs = append(c.pendingResetStreamIDs, result.ResetStreamIDs...)
		c.pendingStopSending = append(c.pendingStopSending, result.StopSendingStreams...)
		c.pendingDeliveredOffsets = append(c.pendingDeliveredOffsets, result.DeliveredOffsets...)
		c.pendingFlowControlUpdates = append(c.pendingFlowControlUpdates, result.FlowControlUpdates...)
		c.pendingAckEventsProcessed += result.AckEventsProcessed
		if result.HasRTTSample {
			c.UpdateRTTSample(result.RTTSample)
		}

		if c.settings.ProcessCallbacksPerPacket {
			c.runPostNetworkFanOut()
			c.readLooper.Run()
			if c.closeState == StateClosed {
				break
			}
		}
	}

	if c.closeState == StateClosed {
		if c.encoder != nil {
			func() {
				defer func() { recover() }()
				c.encoder.EncodeAndSend(c)
			}()
		}
		return
	}

	if !c.settings.ProcessCallbacksPerPacket {
		c.runPostNetworkFanOut()
	}

	if ackStateAdvanced {
		c.scheduleIdleTimer()
	}
	c.timers.Arm(timerset.Loss, c.estimatedPTO())
	if ackEliciting {
		c.scheduleAckTimer()
	}
	c.schedulePathValidationTimer()
	c.runECNValidation()
}

// closeOnDecodeError maps a decode-time exception to the matching close
// path.
func (c *Conn) closeOnDecodeError(err error) {
	switch e := err.(type) {
	case *qerr.TransportError:
		c.CloseWithTransportError(e, false)
	case *qerr.LocalError:
		c.CloseNow(e)
	case *qerr.ApplicationError:
		c.Close(e)
	default:
		c.CloseNow(qerr.NewLocalError(qerr.InternalError, err.Error()))
	}
}

// runPostNetworkFanOut runs the fixed-order post-network callback sequence,
// aborting early if any step transitions the connection to Closed.
func (c *Conn) runPostNetworkFanOut() {
	steps := []func(){
		c.handleNewStreamCallbacks,
		c.handleNewGroupedStreamCallbacks,
		c.handlePingCallbacks,
		c.handleKnobCallbacks,
		c.handleAckEventCallbacks,
		c.handleCancelByteEventCallbacks,
		c.handleDeliveryCallbacks,
		c.handleStreamFlowControlUpdatedCallbacks,
		c.handleStreamStopSendingCallbacks,
		c.handleConnWritable,
		c.invokeStreamsAvailableCallbacks,
		c.cleanupAckEventState,
	}
	for _, step := range steps {
		step()
		if c.closeState == StateClosed {
			return
		}
	}
}

// handleNewStreamCallbacks drains streams a decoded packet admitted on the
// peer's behalf, notifying the stream-lifecycle observer and the tracer,
// mirroring mvfst's iteration over newPeerStreamIDs.
func (c *Conn) handleNewStreamCallbacks() {
	ids := c.pendingNewStreamIDs
	c.pendingNewStreamIDs = nil
	lifecycle := c.callbacks.StreamLifecycle()
	for _, id := range ids {
		if c.tracer != nil && c.tracer.StreamOpened != nil {
			c.tracer.StreamOpened(id)
		}
		if lifecycle != nil {
			if id.IsBidirectional() {
				lifecycle.OnNewBidirectionalStream(id)
			} else {
				lifecycle.OnNewUnidirectionalStream(id)
			}
		}
		if c.isClosed() {
			return
		}
	}
}

// handleNewGroupedStreamCallbacks is a genuine no-op: stream groups are an
// extension this core's DecodeResult has no representation for, so there is
// nothing to drain here yet.
func (c *Conn) handleNewGroupedStreamCallbacks() {}

func (c *Conn) handlePingCallbacks() {
	// Ping acknowledgement is surfaced by the ack-handling collaborator
	// (external) driving DeliverByteEventAck; nothing further to fan out
	// here.
}

// handleKnobCallbacks drains KNOB frames staged during decode.
func (c *Conn) handleKnobCallbacks() {
	frames := c.pendingKnobFrames
	c.pendingKnobFrames = nil
	kcb := c.callbacks.Knob()
	for _, f := range frames {
		if kcb != nil {
			kcb.OnKnob(f.space, f.id, f.blob)
		}
		if c.isClosed() {
			return
		}
	}
}

// handleAckEventCallbacks notifies observers of how many ACK ranges the
// batch resolved, then clears the counter, mirroring mvfst's
// lastProcessedAckEvents notify-then-clear step.
func (c *Conn) handleAckEventCallbacks() {
	if c.pendingAckEventsProcessed == 0 {
		return
	}
	if c.tracer != nil && c.tracer.AckEventsProcessed != nil {
		c.tracer.AckEventsProcessed(c.pendingAckEventsProcessed)
	}
	c.pendingAckEventsProcessed = 0
}

// handleCancelByteEventCallbacks cancels every pending byte event for each
// stream a decoded RESET_STREAM frame just closed.
func (c *Conn) handleCancelByteEventCallbacks() {
	ids := c.pendingResetStreamIDs
	c.pendingResetStreamIDs = nil
	for _, id := range ids {
		c.byteEvents.CancelAllForStream(id)
		if c.isClosed() {
			return
		}
	}
}

// handleDeliveryCallbacks dispatches ACK byte events for every stream a
// decoded ACK frame newly covered, supplying SmoothedRTT as the observed
// sample.
func (c *Conn) handleDeliveryCallbacks() {
	updates := c.pendingDeliveredOffsets
	c.pendingDeliveredOffsets = nil
	for _, u := range updates {
		c.byteEvents.Dispatch(byteevent.ACK, u.ID, u.Offset, c.smoothedRTT, c.isClosed)
		if c.isClosed() {
			return
		}
	}
}

// handleStreamFlowControlUpdatedCallbacks fires each stream's pending
// write-ready callback once a decoded MAX_STREAM_DATA frame raised its send
// window.
func (c *Conn) handleStreamFlowControlUpdatedCallbacks() {
	updates := c.pendingFlowControlUpdates
	c.pendingFlowControlUpdates = nil
	for _, u := range updates {
		if cb, ok := c.callbacks.ConsumePendingStreamWrite(u.ID); ok && cb != nil {
			cb.OnWriteReady(u.Offset)
		}
		if c.isClosed() {
			return
		}
	}
}

// handleStreamStopSendingCallbacks notifies the stream-lifecycle observer
// of every STOP_SENDING frame a decoded packet carried.
func (c *Conn) handleStreamStopSendingCallbacks() {
	stops := c.pendingStopSending
	c.pendingStopSending = nil
	lifecycle := c.callbacks.StreamLifecycle()
	for _, s := range stops {
		if lifecycle != nil {
			lifecycle.OnStopSending(s.ID, s.Code)
		}
		if c.isClosed() {
			return
		}
	}
}

func (c *Conn) handleConnWritable() {
	if c.connFC.SendCredit() <= 0 {
		return
	}
	cb, ok := c.callbacks.ConsumePendingConnWrite()
	if !ok || cb == nil {
		return
	}
	cb.OnWriteReady(c.flowGate.MaxWritableOnConn(c.connFC, c.ccWritable()))
}

func (c *Conn) invokeStreamsAvailableCallbacks() {
	c.readLooper.Run()
	c.peekLooper.Run()
}

// cleanupAckEventState clears residual ack-event bookkeeping once no
// packets remain outstanding, mirroring mvfst's memory-reclamation step at
// the tail of the fan-out.
func (c *Conn) cleanupAckEventState() {
	if c.cc != nil && c.cc.BytesInFlight() > 0 {
		return
	}
	c.pendingAckEventsProcessed = 0
}

func (c *Conn) isClosed() bool { return c.closeState == StateClosed }

func (c *Conn) ccWritable() protocol.ByteCount {
	if c.cc == nil {
		return protocol.ByteCount(1 << 30)
	}
	return c.cc.Writable()
}

func (c *Conn) accountECNMark(mark protocol.ECN) {
	switch mark {
	case protocol.ECNCE:
		c.ecnEchoed.CE++
	case protocol.ECT0:
		c.ecnEchoed.ECT0++
	case protocol.ECT1:
		c.ecnEchoed.ECT1++
	}
}

// runECNValidation drives the C7 state machine. minExpected and totalSent
// are two independently-tracked counters (ack-eliciting AppData packets
// sent vs. all packets sent) that form a genuine tolerance window, since
// ackElicitingAppDataSent is structurally always <= packetsSent.
func (c *Conn) runECNValidation() {
	sent := uint64(c.packetsSent)
	if sent == 0 {
		return
	}
	minExpected := c.ackElicitingAppDataSent
	res := c.ecnValidator.Validate(c.ackElicitingAppDataSent, minExpected, sent, c.ecnEchoed)
	if !res.Transitioned {
		return
	}
	if res.Failed {
		c.clearECNMarking()
	}
	if res.PromotedFirstL4S {
		c.l4sTrackerInstalled = true
	}
	if c.tracer != nil && c.tracer.ECNStateUpdated != nil {
		c.tracer.ECNStateUpdated(res.NewState)
	}
}

// clearECNMarking implements FailedValidation's side effects: clear the ECN
// bits in the socket TOS byte, push the change to the socket if it supports
// one, and drop the L4S tracker flag.
func (c *Conn) clearECNMarking() {
	c.socketECN = protocol.ECNNon
	if setter, ok := c.writer.(interface{ SetECN(protocol.ECN) }); ok && setter != nil {
		setter.SetECN(c.socketECN)
	}
	c.l4sTrackerInstalled = false
}

// scheduleAckTimer arms the Ack timer to max(timerTick, min(maxAckDelay,
// ackTimerFactor×SRTT)), or exactly maxAckDelay while the peer's
// ACK_FREQUENCY extension is in use.
func (c *Conn) scheduleAckTimer() {
	if c.closeState != StateOpen {
		return
	}
	var timeout time.Duration
	if c.ackFrequencyActive {
		timeout = c.settings.MaxAckDelay
	} else {
		timeout = time.Duration(float64(c.smoothedRTT) * c.settings.AckTimerFactor)
		if timeout > c.settings.MaxAckDelay {
			timeout = c.settings.MaxAckDelay
		}
		if timeout < protocol.TimerGranularity {
			timeout = protocol.TimerGranularity
		}
	}
	c.timers.Arm(timerset.Ack, timeout)
}
