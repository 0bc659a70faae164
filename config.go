package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/ecn"
	"github.com/qcore-go/qcore/internal/protocol"
)

// TransportSettings configures a Config for one connection. Fields are
// grouped the way quic-go's Config groups them: general connection
// limits first, flow control, then the congestion/pacing knobs that remain
// mutable after the handshake completes.
type TransportSettings struct {
	MaxIdleTimeout   time.Duration
	KeepAliveEnabled bool
	// CheckIdleTimerOnWrite opportunistically re-checks the idle deadline
	// at the top of every write attempt, catching the case where the event
	// loop stalled long enough that the deadline passed without the timer
	// firing on its own.
	CheckIdleTimerOnWrite bool

	MaxIncomingBidiStreams uint64
	MaxIncomingUniStreams  uint64

	InitialStreamFlowControlWindow protocol.ByteCount
	MaxStreamFlowControlWindow     protocol.ByteCount
	InitialConnFlowControlWindow   protocol.ByteCount
	MaxConnFlowControlWindow       protocol.ByteCount
	TotalBufferSpace               protocol.ByteCount

	// BackpressureFactor bounds how far ahead of the congestion window the
	// core is willing to buffer, via the flow-control gate. Zero disables
	// the extra bound.
	BackpressureFactor float64

	InitialCwnd protocol.ByteCount
	MinCwnd     protocol.ByteCount
	PacingEnabled bool

	// MaxAckDelay upper-bounds the Ack timer; it also substitutes as the
	// exact Ack timeout whenever the peer's ACK_FREQUENCY extension is in
	// use.
	MaxAckDelay time.Duration
	// AckTimerFactor scales SmoothedRTT to get the Ack timer's lower bound
	// before it is clamped to MaxAckDelay.
	AckTimerFactor float64

	ECNInitialState ecn.State

	DatagramReadBufferSize  int
	DatagramWriteBufferSize int
	DatagramDropOldest      bool

	// UseConnEndWithError makes the terminal connection callback always
	// fire through OnConnectionEndWithError, matching one of the two
	// terminal-callback shapes the construction step chooses between.
	UseConnEndWithError bool

	// ProcessCallbacksPerPacket runs the post-network fan-out and Read
	// looper inline after each decoded packet instead of once per batch.
	ProcessCallbacksPerPacket bool

	// OrderedReadCallbacks is stored with the other settings, but no code
	// in this module reads it: setting it does not change the order in
	// which read callbacks are delivered.
	OrderedReadCallbacks bool

	// ExcessWriteRateLimit bounds how many ExcessWrite yield-and-retry
	// cycles per second pacedWriteDataToSocket may schedule, so a wire
	// encoder that always reports more queued data can't spin the event
	// loop.
	ExcessWriteRateLimit float64
	// ExcessWriteBurst is the token bucket's burst size for the above.
	ExcessWriteBurst int
}

// DefaultTransportSettings mirrors quic-go's populateConfig: every
// zero-value field is filled with a sane default so a caller can start
// from an empty TransportSettings{}.
func DefaultTransportSettings() TransportSettings {
	return TransportSettings{
		MaxIdleTimeout:                 30 * time.Second,
		CheckIdleTimerOnWrite:          true,
		MaxIncomingBidiStreams:         100,
		MaxIncomingUniStreams:          100,
		InitialStreamFlowControlWindow: 512 * 1024,
		MaxStreamFlowControlWindow:     6 * 1024 * 1024,
		InitialConnFlowControlWindow:   1024 * 1024,
		MaxConnFlowControlWindow:       15 * 1024 * 1024,
		TotalBufferSpace:               32 * 1024 * 1024,
		InitialCwnd:                    10 * 1452,
		MinCwnd:                        2 * 1452,
		PacingEnabled:                  true,
		MaxAckDelay:                    25 * time.Millisecond,
		AckTimerFactor:                 0.25,
		ExcessWriteRateLimit:           200,
		ExcessWriteBurst:               10,
		ECNInitialState:                ecn.NotAttempted,
		DatagramReadBufferSize:         64,
		DatagramWriteBufferSize:        64,
	}
}

// clampToDefaults fills any zero-valued field of s from defaults, the way
// populateConfig fills a caller-supplied Config.
func clampToDefaults(s TransportSettings) TransportSettings {
	d := DefaultTransportSettings()
	if s.MaxIdleTimeout == 0 {
		s.MaxIdleTimeout = d.MaxIdleTimeout
	}
	if s.MaxIncomingBidiStreams == 0 {
		s.MaxIncomingBidiStreams = d.MaxIncomingBidiStreams
	}
	if s.MaxIncomingUniStreams == 0 {
		s.MaxIncomingUniStreams = d.MaxIncomingUniStreams
	}
	if s.InitialStreamFlowControlWindow == 0 {
		s.InitialStreamFlowControlWindow = d.InitialStreamFlowControlWindow
	}
	if s.MaxStreamFlowControlWindow == 0 {
		s.MaxStreamFlowControlWindow = d.MaxStreamFlowControlWindow
	}
	if s.InitialConnFlowControlWindow == 0 {
		s.InitialConnFlowControlWindow = d.InitialConnFlowControlWindow
	}
	if s.MaxConnFlowControlWindow == 0 {
		s.MaxConnFlowControlWindow = d.MaxConnFlowControlWindow
	}
	if s.TotalBufferSpace == 0 {
		s.TotalBufferSpace = d.TotalBufferSpace
	}
	if s.InitialCwnd == 0 {
		s.InitialCwnd = d.InitialCwnd
	}
	if s.MinCwnd == 0 {
		s.MinCwnd = d.MinCwnd
	}
	if s.MaxAckDelay == 0 {
		s.MaxAckDelay = d.MaxAckDelay
	}
	if s.AckTimerFactor == 0 {
		s.AckTimerFactor = d.AckTimerFactor
	}
	if s.ExcessWriteRateLimit == 0 {
		s.ExcessWriteRateLimit = d.ExcessWriteRateLimit
	}
	if s.ExcessWriteBurst == 0 {
		s.ExcessWriteBurst = d.ExcessWriteBurst
	}
	if s.DatagramReadBufferSize == 0 {
		s.DatagramReadBufferSize = d.DatagramReadBufferSize
	}
	if s.DatagramWriteBufferSize == 0 {
		s.DatagramWriteBufferSize = d.DatagramWriteBufferSize
	}
	return s
}
