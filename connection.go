// Package qcore implements the connection-level transport core of a QUIC
// endpoint: the per-connection object that sits between a UDP socket and
// an application reading and writing streams. It owns the connection
// lifecycle, stream registry bookkeeping, timers, flow control, byte-event
// dispatch, and the write path; wire encoding/decoding, the congestion
// controller, the pacer, and the cryptographic handshake are external
// collaborators reached through the small interfaces in external.go.
package qcore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qcore-go/qcore/internal/byteevent"
	"github.com/qcore-go/qcore/internal/callbacks"
	"github.com/qcore-go/qcore/internal/datagramqueue"
	"github.com/qcore-go/qcore/internal/ecn"
	"github.com/qcore-go/qcore/internal/flowcontrol"
	"github.com/qcore-go/qcore/internal/looper"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/streammanager"
	"github.com/qcore-go/qcore/internal/timerset"
	"github.com/qcore-go/qcore/internal/transport"
	"github.com/qcore-go/qcore/internal/utils"
	"github.com/qcore-go/qcore/logging"
	"golang.org/x/time/rate"
)

// CloseState is a node in the close FSM: Open, GracefulClosing, Closed.
type CloseState uint8

const (
	StateOpen CloseState = iota
	StateGracefulClosing
	StateClosed
)

func (s CloseState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateGracefulClosing:
		return "graceful_closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the connection core. It is single-threaded and cooperative: every
// exported method must be called from the same goroutine (the "event
// base"), and none of them take a lock on the Conn itself — safety comes
// from the structural discipline described at the type's call sites, not
// from mutual exclusion. Some collaborator subsystems (the callback
// registry, the flow-control controllers) keep their own internal locks;
// the byte-event registry has none.
type Conn struct {
	perspective protocol.Perspective
	settings    TransportSettings
	logger      *utils.Logger
	tracer      *logging.ConnectionTracer

	timers      *timerset.Set
	readLooper  *looper.Looper
	peekLooper  *looper.Looper
	writeLooper *looper.WriteLooper

	byteEvents *byteevent.Registry
	callbacks  *callbacks.Registry

	connFC   *flowcontrol.ConnController
	flowGate flowcontrol.Gate

	ecnValidator *ecn.Validator
	ecnEchoed    ecn.EchoedCounts
	// socketECN is the ECN codepoint currently marked on outgoing packets;
	// FailedValidation clears it back to ECNNon and pushes the change to
	// the socket.
	socketECN           protocol.ECN
	l4sTrackerInstalled bool

	// ackFrequencyActive mirrors the peer's ACK_FREQUENCY extension state:
	// when true, the Ack timer uses MaxAckDelay exactly
	// instead of the SRTT-derived bound.
	ackFrequencyActive bool

	datagramRead  *datagramqueue.ReadQueue
	datagramWrite *datagramqueue.WriteQueue

	streams *streammanager.Manager

	writer  transport.PacketWriter
	cc      CongestionController
	pacer   Pacer
	encoder WireEncoder
	decoder WireDecoder

	// scheduleAsync runs a closure on the next event-loop iteration rather
	// than inline; used to defer the idle-timer cross-check past the
	// nominal deadline. When nil, the cross-check fires the idle timeout
	// inline instead.
	scheduleAsync func(func())

	// excessWriteLimiter throttles how often pacedWriteDataToSocket may
	// re-arm the ExcessWrite yield-and-retry timer.
	excessWriteLimiter *rate.Limiter

	closeState  CloseState
	closeReason *qerr.CloseReason

	handshakeComplete bool
	attached          bool

	totalBytesSent int64
	totalBytesRecvd int64
	packetsSent     int64
	packetsRecvd    int64
	ackElicitingAppDataSent uint64

	smoothedRTT time.Duration

	appLimited     bool
	appLimitedInfo AppLimitedTracker

	writeCount uint64

	// qlogger and qlogRefCount implement reference-
	// counted attach/detach; the sink type itself is opaque to this core.
	qlogger      QLogger
	qlogRefCount int

	// pendingKnob holds at most one outgoing KNOB frame request, staged by
	// SendKnob for the next EncodeAndSend call.
	pendingKnob *pendingKnob

	// pending* accumulate what decoded packets reported during one
	// IngestNetworkData batch, drained by runPostNetworkFanOut in a
	// fixed order.
	pendingNewStreamIDs       []protocol.StreamID
	pendingResetStreamIDs     []protocol.StreamID
	pendingStopSending        []StreamAppError
	pendingDeliveredOffsets   []StreamOffsetUpdate
	pendingFlowControlUpdates []StreamOffsetUpdate
	pendingAckEventsProcessed int
	pendingKnobFrames         []knobFrame

	// evbGeneration is bumped on attach/detach so async closures scheduled
	// on a prior event base can recognize they are stale.
	evbGeneration atomic.Uint64
}

// NewConn constructs a Conn: it builds the three loopers, wires
// the pacing predicate into the write looper, and installs the caller's
// collaborators. The connection starts Open.
func NewConn(perspective protocol.Perspective, settings TransportSettings, deps ConnDeps) *Conn {
	settings = clampToDefaults(settings)

	c := &Conn{
		perspective: perspective,
		settings:    settings,
		logger:      deps.Logger,
		tracer:      deps.Tracer,
		writer:      deps.Writer,
		cc:          deps.CongestionController,
		pacer:       deps.Pacer,
		encoder:     deps.Encoder,
		decoder:     deps.Decoder,
		scheduleAsync: deps.ScheduleAsync,
		closeState:  StateOpen,
	}
	if c.logger == nil {
		c.logger = utils.NewNopLogger()
	}

	c.timers = timerset.New()
	c.readLooper = looper.New("read")
	c.peekLooper = looper.New("peek")
	c.writeLooper = looper.NewWriteLooper(c.nextPacingDelay)

	c.byteEvents = byteevent.New(deps.ScheduleAsync)
	c.callbacks = callbacks.New(settings.UseConnEndWithError)

	rtt := func() time.Duration { return c.smoothedRTT }
	c.connFC = flowcontrol.NewConnController(settings.InitialConnFlowControlWindow, settings.MaxConnFlowControlWindow, settings.TotalBufferSpace, rtt)
	c.flowGate = flowcontrol.Gate{BackpressureFactor: settings.BackpressureFactor}

	c.ecnValidator = ecn.New(settings.ECNInitialState)
	switch settings.ECNInitialState {
	case ecn.AttemptingECN:
		c.socketECN = protocol.ECT0
	case ecn.AttemptingL4S:
		c.socketECN = protocol.ECT1
	default:
		c.socketECN = protocol.ECNNon
	}

	c.excessWriteLimiter = rate.NewLimiter(rate.Limit(settings.ExcessWriteRateLimit), settings.ExcessWriteBurst)

	c.datagramRead = datagramqueue.NewReadQueue(settings.DatagramReadBufferSize)
	c.datagramWrite = datagramqueue.NewWriteQueue(settings.DatagramWriteBufferSize, settings.DatagramDropOldest)

	c.streams = streammanager.New(perspective, settings.MaxIncomingBidiStreams, settings.MaxIncomingUniStreams)

	c.timers.OnExpire(timerset.Idle, c.onIdleTimeout)
	c.timers.OnExpire(timerset.Keepalive, c.onKeepaliveTimeout)
	c.timers.OnExpire(timerset.Drain, c.onDrainTimeout)
	c.timers.OnExpire(timerset.Ping, c.onPingTimeout)
	c.timers.OnExpire(timerset.Loss, c.onLossTimeout)
	c.timers.OnExpire(timerset.Ack, c.onAckTimeout)
	c.timers.OnExpire(timerset.PathValidation, c.onPathValidationTimeout)
	c.timers.OnExpire(timerset.ExcessWrite, c.onExcessWriteTimeout)

	if deps.LocalAddr != "" || deps.RemoteAddr != "" {
		c.notifyStarted(deps.LocalAddr, deps.RemoteAddr)
	}
	c.scheduleIdleTimer()

	return c
}

// ConnDeps are the external collaborators a Conn is built with. All fields
// are optional; a nil field degrades gracefully (e.g. no tracer, no CC).
type ConnDeps struct {
	Logger               *utils.Logger
	Tracer               *logging.ConnectionTracer
	Writer               transport.PacketWriter
	CongestionController CongestionController
	Pacer                Pacer
	Encoder              WireEncoder
	Decoder              WireDecoder
	ScheduleAsync        func(func())
	LocalAddr            string
	RemoteAddr           string
}

func (c *Conn) notifyStarted(local, remote string) {
	if c.tracer != nil && c.tracer.StartedConnection != nil {
		c.tracer.StartedConnection(local, remote, c.perspective)
	}
}

// Perspective returns which side of the handshake this Conn plays.
func (c *Conn) Perspective() protocol.Perspective { return c.perspective }

// CloseState returns the current node of the close FSM.
func (c *Conn) CloseState() CloseState { return c.closeState }

// IsOpen reports whether the connection still accepts application calls.
func (c *Conn) IsOpen() bool { return c.closeState == StateOpen }

func (c *Conn) mustBeOpen() error {
	if c.closeState != StateOpen {
		return qerr.NewLocalError(qerr.ConnectionClosed, fmt.Sprintf("connection is %s", c.closeState))
	}
	return nil
}

// AttachEventBase rebinds a (client-only) connection to a new event loop:
// it moves the socket, reattaches loopers, and re-schedules the
// timers that are meaningful across a migration.
func (c *Conn) AttachEventBase(writer transport.PacketWriter) error {
	if c.perspective != protocol.PerspectiveClient {
		return qerr.NewLocalError(qerr.InvalidOperation, "only client connections may reattach an event base")
	}
	c.writer = writer
	c.attached = true
	c.evbGeneration.Add(1)
	c.readLooper.Resume()
	c.peekLooper.Resume()
	c.writeLooper.Resume()
	c.scheduleIdleTimer()
	c.schedulePathValidationTimer()
	if c.tracer != nil && c.tracer.Debug != nil {
		c.tracer.Debug("lifecycle", "evb attached")
	}
	return nil
}

// DetachEventBase unbinds the connection from its current event loop
// without closing it, stopping the loopers so nothing fires against a
// socket that is about to be swapped out from under it.
func (c *Conn) DetachEventBase() error {
	if c.perspective != protocol.PerspectiveClient {
		return qerr.NewLocalError(qerr.InvalidOperation, "only client connections may detach an event base")
	}
	c.attached = false
	c.readLooper.Stop()
	c.peekLooper.Stop()
	c.writeLooper.Stop()
	c.timers.StopAll(timerset.Loss, timerset.Ack, timerset.PathValidation)
	if c.tracer != nil && c.tracer.Debug != nil {
		c.tracer.Debug("lifecycle", "evb detached")
	}
	return nil
}

// SetTransportSettings replaces mutable settings. Once the handshake has
// completed, only the congestion-control-related fields are honored;
// everything else is left at its previous value.
func (c *Conn) SetTransportSettings(next TransportSettings) error {
	next = clampToDefaults(next)
	if !c.handshakeComplete {
		c.settings = next
		c.flowGate.BackpressureFactor = next.BackpressureFactor
		return nil
	}
	if next.MinCwnd > next.InitialCwnd {
		return qerr.NewLocalError(qerr.InvalidOperation, "MinCwnd must not exceed InitialCwnd")
	}
	c.settings.InitialCwnd = next.InitialCwnd
	c.settings.MinCwnd = next.MinCwnd
	c.settings.PacingEnabled = next.PacingEnabled
	c.settings.BackpressureFactor = next.BackpressureFactor
	c.flowGate.BackpressureFactor = next.BackpressureFactor
	if c.cc != nil {
		c.cc.SetBounds(next.MinCwnd, next.InitialCwnd)
	}
	return nil
}

// QLogger is an opaque handle to an external qlog sink. The sink's own
// behavior (what it writes, where) is out of scope for this core; only the
// reference-counted lifecycle it participates in lives here.
type QLogger interface{}

// SetQLogger attaches logger with reference-counted semantics. The first
// attach requires the refcount to be zero; once attached, only the same
// logger value may be attached again, each call bumping the refcount.
func (c *Conn) SetQLogger(logger QLogger) error {
	if c.qlogRefCount == 0 {
		c.qlogger = logger
		c.qlogRefCount = 1
		return nil
	}
	if c.qlogger != logger {
		return qerr.NewLocalError(qerr.InvalidOperation, "a different qlogger is already attached")
	}
	c.qlogRefCount++
	return nil
}

// ResetQLogger releases one reference; the logger detaches only once the
// refcount returns to zero.
func (c *Conn) ResetQLogger() {
	if c.qlogRefCount == 0 {
		return
	}
	c.qlogRefCount--
	if c.qlogRefCount == 0 {
		c.qlogger = nil
	}
}

// QLogger returns the currently attached qlogger handle, or nil if none is
// attached.
func (c *Conn) QLogger() QLogger { return c.qlogger }

// SocketECN reports the ECN codepoint currently marked on outgoing packets.
func (c *Conn) SocketECN() protocol.ECN { return c.socketECN }

// SetAckFrequencyActive records whether the peer's ACK_FREQUENCY extension
// governs the Ack timer.
func (c *Conn) SetAckFrequencyActive(active bool) { c.ackFrequencyActive = active }

// UpdateRTTSample folds a fresh RTT observation from the external
// loss-detection collaborator into SmoothedRTT, using the same one-eighth
// gain EWMA quic-go's RTT-stats surface (internal/utils/rtt_stats.go)
// exposes. Every RTT-derived timer (Ack, PathValidation, Drain) reads
// SmoothedRTT through this single write path.
func (c *Conn) UpdateRTTSample(sample time.Duration) {
	if sample <= 0 {
		return
	}
	if c.smoothedRTT <= 0 {
		c.smoothedRTT = sample
		return
	}
	c.smoothedRTT += (sample - c.smoothedRTT) / 8
}

// Stats is the connection statistics snapshot.
type Stats struct {
	Perspective     protocol.Perspective
	CloseState      CloseState
	BytesSent       int64
	BytesReceived   int64
	PacketsSent     int64
	PacketsReceived int64
	SmoothedRTT     time.Duration
	CongestionWindow protocol.ByteCount
	AppLimited      bool
	ECNState        ecn.State
	OpenStreams     int
}

// Stats reports a point-in-time snapshot of connection counters, mirroring
// getTransportInfo/getConnectionsStats.
func (c *Conn) Stats() Stats {
	var cwnd protocol.ByteCount
	if c.cc != nil {
		cwnd = c.cc.CongestionWindow()
	}
	return Stats{
		Perspective:      c.perspective,
		CloseState:       c.closeState,
		BytesSent:        c.totalBytesSent,
		BytesReceived:    c.totalBytesRecvd,
		PacketsSent:      c.packetsSent,
		PacketsReceived:  c.packetsRecvd,
		SmoothedRTT:      c.smoothedRTT,
		CongestionWindow: cwnd,
		AppLimited:       c.appLimited,
		ECNState:         c.ecnValidator.State(),
		OpenStreams:      c.streams.Len(),
	}
}
