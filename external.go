package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// CongestionController is the minimal surface the write path and lifecycle
// need from a congestion controller (Cubic, BBR, …). The algorithm itself
// is out of scope; only the query/notify contract the core drives lives
// here.
type CongestionController interface {
	// Writable returns how many bytes the controller currently permits
	// in flight.
	Writable() protocol.ByteCount
	// CongestionWindow reports the current window, for Stats().
	CongestionWindow() protocol.ByteCount
	// BytesInFlight reports outstanding, unacknowledged bytes.
	BytesInFlight() protocol.ByteCount
	// OnPacketSent notifies the controller a packet left the wire.
	OnPacketSent(sentTime time.Time, size protocol.ByteCount, isAckEliciting bool)
	// OnAppLimited notifies the controller the sender ran out of data to
	// send rather than being congestion-limited.
	OnAppLimited()
	// SetBounds updates the controller's minimum and initial window,
	// honored by SetTransportSettings after the handshake completes.
	SetBounds(min, initial protocol.ByteCount)
}

// Pacer is the external pacing collaborator driving WriteLooper's delay.
type Pacer interface {
	// TimeUntilSend returns how long to wait before the next burst is
	// allowed; zero or negative means "now".
	TimeUntilSend() time.Duration
	// OnPacketSent lets the pacer update its token bucket.
	OnPacketSent(sentTime time.Time, size protocol.ByteCount)
	// Reset restarts pacing from a clean rate sample, used by writeChain
	// when resuming from app-limited/app-idle.
	Reset()
}

// WireEncoder is the external wire-format writer: given whatever payload
// the write path has staged, it serializes and hands the datagram to the
// socket. EncodeAndSend returns how many bytes were newly made outstanding
// (for loss-recovery bookkeeping), how many of the newly-sent packets
// actually carried an ack-eliciting frame (a strict subset of
// newPacketsSent — pure-ACK or padding-only packets don't count), and
// whether the encoder wants the connection torn down (closeTransport, e.g.
// "max packet number reached").
type WireEncoder interface {
	EncodeAndSend(c *Conn) (newOutstandingBytes protocol.ByteCount, newPacketsSent, newAckElicitingPacketsSent int, closeTransport bool, err error)
}

// WireDecoder is the external wire-format reader driven by network data
// ingress. DecodePacket mutates whatever external Conn state it owns
// (crypto, ack state, stream data) and reports what the core needs to
// react to.
type WireDecoder interface {
	DecodePacket(c *Conn, raw []byte, rcvTime time.Time, ecnMark protocol.ECN) (DecodeResult, error)
}

// StreamOffsetUpdate names a stream and the new offset a decoded packet
// advanced it to; it backs both the delivery (ACK) and stream
// flow-control-updated fan-out steps.
type StreamOffsetUpdate struct {
	ID     protocol.StreamID
	Offset protocol.ByteCount
}

// StreamAppError pairs a stream ID with the application error code carried
// by a decoded STOP_SENDING frame.
type StreamAppError struct {
	ID   protocol.StreamID
	Code qerr.ApplicationErrorCode
}

// DecodeResult is what a decoded packet tells the ingress path to do.
type DecodeResult struct {
	// IsAckEliciting reports whether this packet carried a frame that
	// demands acknowledgment; the ingress path only (re-)arms the Ack timer
	// for a batch that contained at least one.
	IsAckEliciting    bool
	AckStateAdvanced  bool
	PeerClosed        bool
	PeerCloseReason   string
	NewStreamIDs      []protocol.StreamID
	KnobSpace         uint64
	KnobID            uint64
	KnobBlob          []byte
	HasKnob           bool

	// ResetStreamIDs are streams a decoded RESET_STREAM frame just closed
	// on the peer's send side; drives handleCancelByteEventCallbacks.
	ResetStreamIDs []protocol.StreamID
	// StopSendingStreams are streams a decoded STOP_SENDING frame named.
	StopSendingStreams []StreamAppError
	// DeliveredOffsets are (stream, maxOffsetToDeliver) pairs a decoded ACK
	// frame just newly covered; drives handleDeliveryCallbacks.
	DeliveredOffsets []StreamOffsetUpdate
	// FlowControlUpdates are (stream, newSendWindow) pairs a decoded
	// MAX_STREAM_DATA frame just advanced; drives
	// handleStreamFlowControlUpdatedCallbacks.
	FlowControlUpdates []StreamOffsetUpdate
	// AckEventsProcessed is how many ACK ranges this packet's frames
	// resolved, for handleAckEventCallbacks' observer notification. It
	// carries no per-stream detail; delivery detail lives in
	// DeliveredOffsets.
	AckEventsProcessed int
	// RTTSample is a fresh RTT observation derived from this packet's ACK
	// frame, if any; forwarded to UpdateRTTSample before the fan-out runs
	// so every SRTT-derived timer sees it in the same iteration.
	RTTSample     time.Duration
	HasRTTSample  bool
}

// AppLimitedTracker records a single app-limited interval, generalizing
// mvfst's own bandwidth sampler bookkeeping: it exists so a bandwidth
// estimator external to this core can tell which samples span an
// app-limited period and should be discounted.
type AppLimitedTracker struct {
	Active               bool
	StartPacketNumber    uint64
	EndPacketNumber      uint64
}

func (c *Conn) nextPacingDelay() time.Duration {
	if c.pacer == nil || !c.settings.PacingEnabled {
		return 0
	}
	return c.pacer.TimeUntilSend()
}
