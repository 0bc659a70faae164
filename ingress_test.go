package qcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qcore-go/qcore/internal/ecn"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
	"github.com/qcore-go/qcore/logging"
)

type fakeWriteCallback struct {
	calls      int
	lastOffset protocol.ByteCount
	errs       []error
}

func (f *fakeWriteCallback) OnWriteReady(maxToWrite protocol.ByteCount) {
	f.calls++
	f.lastOffset = maxToWrite
}

func (f *fakeWriteCallback) OnWriteError(err error) {
	f.errs = append(f.errs, err)
}

type fakeKnobCallback struct {
	space, id uint64
	blob      []byte
	calls     int
}

func (f *fakeKnobCallback) OnKnob(space, id uint64, blob []byte) {
	f.space, f.id, f.blob = space, id, blob
	f.calls++
}

func TestIngestNetworkDataUpdatesCounters(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{}, {}}}

	data := NetworkData{
		Packets: []NetworkPacket{
			{Raw: []byte("a"), ReceivedAt: time.Now()},
			{Raw: []byte("bb"), ReceivedAt: time.Now()},
		},
		TotalBytes: 3,
	}
	c.IngestNetworkData(data)

	require.EqualValues(t, 3, c.totalBytesRecvd)
	require.EqualValues(t, 2, c.packetsRecvd)
}

func TestIngestNetworkDataClosesOnTransportErrorFromDecoder(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{
		results: []DecodeResult{{}},
		errs:    []error{qerr.NewTransportError(qerr.TransportProtocolViolation, "bad frame")},
	}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, StateClosed, c.CloseState())
	tr, ok := c.closeReason.Transport()
	require.True(t, ok)
	require.Equal(t, qerr.TransportProtocolViolation, tr.Code)
}

func TestIngestNetworkDataHandlesPeerClose(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{PeerClosed: true, PeerCloseReason: "bye"}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, StateClosed, c.CloseState())
	require.Equal(t, "bye", c.closeReason.LocalMessage())
}

func TestIngestNetworkDataDispatchesKnobCallback(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{HasKnob: true, KnobSpace: 1, KnobID: 2, KnobBlob: []byte("cfg")}}}
	kcb := &fakeKnobCallback{}
	c.SetKnob(kcb)

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, 1, kcb.calls)
	require.EqualValues(t, 1, kcb.space)
	require.EqualValues(t, 2, kcb.id)
	require.Equal(t, "cfg", string(kcb.blob))
}

func TestIngestNetworkDataNoopWhenAlreadyClosed(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{}}}
	c.CloseNow(nil)

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}, TotalBytes: 100})

	require.Zero(t, c.totalBytesRecvd, "a closed connection must ignore incoming data")
}

func TestAccountECNMarkTallies(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.accountECNMark(protocol.ECT0)
	c.accountECNMark(protocol.ECT0)
	c.accountECNMark(protocol.ECNCE)
	require.EqualValues(t, 2, c.ecnEchoed.ECT0)
	require.EqualValues(t, 1, c.ecnEchoed.CE)
}

func TestIngestNetworkDataNotifiesNewStreamsAndStopSending(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	lifecycle := &fakeStreamLifecycle{}
	c.SetStreamLifecycleCallback(lifecycle)

	bidiID := protocol.StreamID(0)
	uniID := protocol.StreamID(2)
	c.decoder = &fakeDecoder{results: []DecodeResult{{
		NewStreamIDs:       []protocol.StreamID{bidiID, uniID},
		StopSendingStreams: []StreamAppError{{ID: bidiID, Code: qerr.ApplicationErrorCode(7)}},
	}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, []protocol.StreamID{bidiID}, lifecycle.bidi)
	require.Equal(t, []protocol.StreamID{uniID}, lifecycle.uni)
	require.Equal(t, []protocol.StreamID{bidiID}, lifecycle.stopSending)
}

func TestIngestNetworkDataDispatchesResetAndDeliveryByteEvents(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	id, _ := c.OpenStreamBidi()
	ackCB := &fakeByteEventCallback{}
	require.NoError(t, c.RegisterDeliveryCallback(id, 100, ackCB))

	otherID, _ := c.OpenStreamBidi()
	cancelCB := &fakeByteEventCallback{}
	require.NoError(t, c.RegisterDeliveryCallback(otherID, 50, cancelCB))

	c.decoder = &fakeDecoder{results: []DecodeResult{{
		DeliveredOffsets: []StreamOffsetUpdate{{ID: id, Offset: 100}},
		ResetStreamIDs:   []protocol.StreamID{otherID},
	}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, 1, ackCB.delivered, "expected the delivered offset to dispatch the registered ACK callback")
	require.Equal(t, 1, cancelCB.canceled, "expected the reset stream's pending byte events to be canceled")
}

func TestIngestNetworkDataFiresStreamFlowControlWriteReady(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	id, _ := c.OpenStreamBidi()
	wcb := &fakeWriteCallback{}
	require.NoError(t, c.callbacks.SetPendingStreamWrite(id, wcb))

	c.decoder = &fakeDecoder{results: []DecodeResult{{
		FlowControlUpdates: []StreamOffsetUpdate{{ID: id, Offset: 4096}},
	}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, 1, wcb.calls)
	require.EqualValues(t, 4096, wcb.lastOffset)
}

func TestIngestNetworkDataNotifiesAckEventsProcessedAndUpdatesRTT(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	var reported int
	c.tracer = &logging.ConnectionTracer{
		AckEventsProcessed: func(count int) { reported = count },
	}

	c.decoder = &fakeDecoder{results: []DecodeResult{{
		AckEventsProcessed: 3,
		RTTSample:          40 * time.Millisecond,
		HasRTTSample:       true,
	}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.Equal(t, 3, reported)
	require.EqualValues(t, 40*time.Millisecond, c.smoothedRTT, "first RTT sample seeds SmoothedRTT directly")
}

func TestRunECNValidationFailureClearsSocketMarking(t *testing.T) {
	c, w, _ := newTestConn(protocol.PerspectiveServer)
	c.ecnValidator = ecn.New(ecn.AttemptingECN)
	c.socketECN = protocol.ECT0
	c.l4sTrackerInstalled = true
	c.ackElicitingAppDataSent = 10
	c.packetsSent = 12
	// No ECN marks were echoed back at all, so validation fails outright.

	c.runECNValidation()

	require.Equal(t, protocol.ECNNon, c.socketECN)
	require.False(t, c.l4sTrackerInstalled)
	require.NotEmpty(t, w.ecnSets)
	require.Equal(t, protocol.ECNNon, w.ecnSets[len(w.ecnSets)-1])
}

func TestRunECNValidationSucceedsWithinToleranceWindow(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.ecnValidator = ecn.New(ecn.AttemptingECN)
	c.socketECN = protocol.ECT0
	c.ackElicitingAppDataSent = 8
	c.packetsSent = 10
	// A window, not an exact match: 9 marks echoed falls between the 8
	// ack-eliciting packets sent and the 10 total packets sent.
	c.ecnEchoed = ecn.EchoedCounts{ECT0: 9}

	c.runECNValidation()

	require.Equal(t, ecn.ValidatedECN, c.ecnValidator.State())
	require.Equal(t, protocol.ECT0, c.socketECN, "expected successful validation to leave the socket marking untouched")
}

func TestIngestNetworkDataArmsAckTimerWhenAckElicitingPacketArrives(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{IsAckEliciting: true}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.True(t, c.timers.IsArmed(timerset.Ack), "expected an ack-eliciting packet to arm the Ack timer")
}

func TestIngestNetworkDataDoesNotArmAckTimerWithoutAckElicitingPacket(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveServer)
	c.decoder = &fakeDecoder{results: []DecodeResult{{IsAckEliciting: false}}}

	c.IngestNetworkData(NetworkData{Packets: []NetworkPacket{{Raw: []byte("x")}}})

	require.False(t, c.timers.IsArmed(timerset.Ack), "a batch with no ack-eliciting packet must not (re)arm the Ack timer")
}

func TestScheduleAckTimerUsesSRTTFactorWithinMaxAckDelay(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.smoothedRTT = 40 * time.Millisecond
	c.settings.AckTimerFactor = 0.25
	c.settings.MaxAckDelay = 25 * time.Millisecond

	c.scheduleAckTimer()

	require.True(t, c.timers.IsArmed(timerset.Ack))
}

func TestScheduleAckTimerHonorsAckFrequencyOverride(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.smoothedRTT = 1 * time.Millisecond
	c.SetAckFrequencyActive(true)
	c.settings.MaxAckDelay = 25 * time.Millisecond

	c.scheduleAckTimer()

	require.True(t, c.timers.IsArmed(timerset.Ack))
}
