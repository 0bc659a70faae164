// Package transport declares the narrow external-collaborator interfaces
// the connection core drives but does not implement: handing a finished
// datagram to the socket, and marking its ECN codepoint. Everything below
// the wire — actual UDP I/O, GSO batching, syscall-level socket options —
// belongs to the caller.
package transport

import "github.com/qcore-go/qcore/internal/protocol"

// PacketWriter hands a single already-encoded UDP datagram to the socket.
// Implementations decide batching, GSO, and pacing at the syscall level;
// the write path orchestrator (C10) only needs to know whether the write
// succeeded.
type PacketWriter interface {
	WritePacket(payload []byte, ecn protocol.ECN) (n int, err error)
}

// PacketReader is the read-side counterpart used by the network data
// ingress path (C9) to pull raw datagrams plus their observed ECN mark off
// the wire.
type PacketReader interface {
	ReadPacket(buf []byte) (n int, ecn protocol.ECN, err error)
}
