package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// fakeWriter is a minimal transport.PacketWriter with an optional Close and
// SetECN, for exercising onDrainTimeout's socket-close step and
// clearECNMarking's opportunistic TOS push.
type fakeWriter struct {
	written [][]byte
	closed  bool
	ecnSets []protocol.ECN
}

func (w *fakeWriter) WritePacket(payload []byte, ecn protocol.ECN) (int, error) {
	cp := append([]byte(nil), payload...)
	w.written = append(w.written, cp)
	return len(payload), nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) SetECN(mark protocol.ECN) {
	w.ecnSets = append(w.ecnSets, mark)
}

// fakeCC is a trivial always-writable CongestionController.
type fakeCC struct {
	writable      protocol.ByteCount
	cwnd          protocol.ByteCount
	appLimitCalls int
	sentCalls     int
}

func newFakeCC() *fakeCC { return &fakeCC{writable: 1 << 20, cwnd: 10 * 1452} }

func (c *fakeCC) Writable() protocol.ByteCount         { return c.writable }
func (c *fakeCC) CongestionWindow() protocol.ByteCount { return c.cwnd }
func (c *fakeCC) BytesInFlight() protocol.ByteCount    { return 0 }
func (c *fakeCC) OnPacketSent(time.Time, protocol.ByteCount, bool) { c.sentCalls++ }
func (c *fakeCC) OnAppLimited()                                    { c.appLimitCalls++ }
func (c *fakeCC) SetBounds(min, initial protocol.ByteCount) {
	c.cwnd = initial
}

// fakePacer never delays.
type fakePacer struct {
	resetCalls int
	sentCalls  int
}

func (p *fakePacer) TimeUntilSend() time.Duration                { return 0 }
func (p *fakePacer) OnPacketSent(time.Time, protocol.ByteCount) { p.sentCalls++ }
func (p *fakePacer) Reset()                                      { p.resetCalls++ }

// fakeEncoder records how many times it was asked to write, returning a
// fixed number of bytes/packets each call.
type fakeEncoder struct {
	calls               int
	bytesPerCall        protocol.ByteCount
	packetsPerCall      int
	ackElicitingPerCall int
	err                 error
	closeTransport      bool
}

func (e *fakeEncoder) EncodeAndSend(c *Conn) (protocol.ByteCount, int, int, bool, error) {
	e.calls++
	if e.err != nil {
		return 0, 0, 0, e.closeTransport, e.err
	}
	ackEliciting := e.ackElicitingPerCall
	if ackEliciting == 0 {
		ackEliciting = e.packetsPerCall
	}
	return e.bytesPerCall, e.packetsPerCall, ackEliciting, e.closeTransport, nil
}

// fakeDecoder returns a canned DecodeResult/error for each call, consumed
// in order; once exhausted it returns a zero-value success.
type fakeDecoder struct {
	results []DecodeResult
	errs    []error
	i       int
}

func (d *fakeDecoder) DecodePacket(c *Conn, raw []byte, rcvTime time.Time, ecnMark protocol.ECN) (DecodeResult, error) {
	if d.i >= len(d.results) {
		return DecodeResult{}, nil
	}
	res := d.results[d.i]
	var err error
	if d.i < len(d.errs) {
		err = d.errs[d.i]
	}
	d.i++
	return res, err
}

// fakeConnCallback records which terminal callback fired.
type fakeConnCallback struct {
	ended       int
	endedErr    int
	errored     int
	lastErr     error
}

func (f *fakeConnCallback) OnConnectionEnd()               { f.ended++ }
func (f *fakeConnCallback) OnConnectionEndWithError(err error) { f.endedErr++; f.lastErr = err }
func (f *fakeConnCallback) OnConnectionError(err error)    { f.errored++; f.lastErr = err }

// fakeStreamLifecycle records peer-driven stream events fanned out from
// the post-network callback sequence.
type fakeStreamLifecycle struct {
	bidi        []protocol.StreamID
	uni         []protocol.StreamID
	stopSending []protocol.StreamID
}

func (f *fakeStreamLifecycle) OnNewBidirectionalStream(id protocol.StreamID) {
	f.bidi = append(f.bidi, id)
}
func (f *fakeStreamLifecycle) OnNewUnidirectionalStream(id protocol.StreamID) {
	f.uni = append(f.uni, id)
}
func (f *fakeStreamLifecycle) OnStopSending(id protocol.StreamID, appErr qerr.ApplicationErrorCode) {
	f.stopSending = append(f.stopSending, id)
}

// fakeSetupCallback records connection-setup failures.
type fakeSetupCallback struct {
	calls   int
	lastErr error
}

func (f *fakeSetupCallback) OnConnectionSetupError(err error) { f.calls++; f.lastErr = err }

func newTestConn(perspective protocol.Perspective) (*Conn, *fakeWriter, *fakeEncoder) {
	w := &fakeWriter{}
	enc := &fakeEncoder{}
	settings := DefaultTransportSettings()
	c := NewConn(perspective, settings, ConnDeps{
		Writer:               w,
		CongestionController: newFakeCC(),
		Pacer:                &fakePacer{},
		Encoder:              enc,
	})
	return c, w, enc
}
