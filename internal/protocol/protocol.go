// Package protocol defines the small value types shared across the
// connection core: stream identifiers, byte counts, perspective, and the
// ECN codepoint. It intentionally knows nothing about wire encoding.
package protocol

import (
	"fmt"
	"time"
)

// ByteCount is a count of bytes, matching quic-go's ubiquitous
// protocol.ByteCount idiom so arithmetic on offsets and windows can't
// accidentally mix with unrelated integer types.
type ByteCount int64

// InvalidByteCount is returned by accessors that have nothing to report yet.
const InvalidByteCount ByteCount = -1

// StreamID identifies a QUIC stream. Bit 0 encodes initiator perspective,
// bit 1 encodes directionality, exactly as in RFC 9000 section 2.1.
type StreamID uint64

// Perspective is which side of the connection a StreamID or endpoint acts as.
type Perspective uint8

const (
	PerspectiveServer Perspective = 1
	PerspectiveClient Perspective = 2
)

func (p Perspective) String() string {
	switch p {
	case PerspectiveServer:
		return "server"
	case PerspectiveClient:
		return "client"
	default:
		return "invalid"
	}
}

// InitiatedBy reports which perspective opened this stream.
func (s StreamID) InitiatedBy() Perspective {
	if s&0x1 == 0 {
		return PerspectiveClient
	}
	return PerspectiveServer
}

// IsBidirectional reports whether this stream carries data in both directions.
func (s StreamID) IsBidirectional() bool {
	return s&0x2 == 0
}

// IsUnidirectional is the complement of IsBidirectional.
func (s StreamID) IsUnidirectional() bool {
	return !s.IsBidirectional()
}

func (s StreamID) String() string {
	dir := "bidi"
	if s.IsUnidirectional() {
		dir = "uni"
	}
	return fmt.Sprintf("%d(%s,%s)", uint64(s), s.InitiatedBy(), dir)
}

// ECN is the IP-layer Explicit Congestion Notification codepoint.
type ECN uint8

const (
	ECNUnsupported ECN = iota
	ECNNon             // ECT(0) not set, ECT(1) not set: "Not-ECT"
	ECT0
	ECT1
	ECNCE // Congestion Experienced
)

func (e ECN) String() string {
	switch e {
	case ECNNon:
		return "not-ect"
	case ECT0:
		return "ect0"
	case ECT1:
		return "ect1"
	case ECNCE:
		return "ce"
	default:
		return "unsupported"
	}
}

// TimerGranularity floors every RTT-derived timer duration at the
// scheduler's real resolution, matching quic-go's
// protocol.TimerGranularity use in sent_packet_handler.go's loss-delay
// floor and pacer.go's burst-interval floor.
const TimerGranularity = 1 * time.Millisecond

// PacketNumberSpace is one of the three independently-numbered spaces QUIC
// keeps loss-recovery and ack state in.
type PacketNumberSpace uint8

const (
	PNSpaceInitial PacketNumberSpace = iota
	PNSpaceHandshake
	PNSpaceAppData
)

func (s PacketNumberSpace) String() string {
	switch s {
	case PNSpaceInitial:
		return "initial"
	case PNSpaceHandshake:
		return "handshake"
	case PNSpaceAppData:
		return "app_data"
	default:
		return "unknown"
	}
}
