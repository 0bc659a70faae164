package flowcontrol

import "github.com/qcore-go/qcore/internal/protocol"

// Gate computes the writable-bytes arithmetic:
//
//	writable_bytes_on_stream = min(stream_flow_credit, conn_flow_credit, buffer_headroom, cc_headroom*multiplier)
//
// It holds no state of its own; it is a pure function of the connection
// controller, an optional backpressure multiplier, and whatever the
// congestion controller currently reports as writable — kept as a
// standalone type (rather than methods on ConnController) so it can be
// unit-tested without a real congestion controller.
type Gate struct {
	// BackpressureFactor is M: when > 0, maxWritableOnConn is
	// further bounded by M*ccWritable - currentlyBuffered, floored at 0.
	// Zero disables the extra bound.
	BackpressureFactor float64
}

// MaxWritableOnConn implements
// maxWritableOnConn = min(connSendFlowCredit, bufferHeadroom [, M*ccWritable - currentlyBuffered]).
func (g Gate) MaxWritableOnConn(conn *ConnController, ccWritable protocol.ByteCount) protocol.ByteCount {
	max := min2(conn.SendCredit(), conn.BufferSpaceAvailable())
	if g.BackpressureFactor > 0 {
		buffered := conn.SumCurStreamBufferLen()
		bp := protocol.ByteCount(g.BackpressureFactor*float64(ccWritable)) - buffered
		if bp < 0 {
			bp = 0
		}
		max = min2(max, bp)
	}
	return max
}

// MaxWritableOnStream implements
// maxWritableOnStream = min(streamSendFlowCredit, maxWritableOnConn).
func (g Gate) MaxWritableOnStream(stream *StreamController, conn *ConnController, ccWritable protocol.ByteCount) protocol.ByteCount {
	return min2(stream.SendCredit(), g.MaxWritableOnConn(conn, ccWritable))
}

func min2(a, b protocol.ByteCount) protocol.ByteCount {
	if a < b {
		return a
	}
	return b
}
