package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/byteevent"
	"github.com/qcore-go/qcore/internal/callbacks"
	"github.com/qcore-go/qcore/internal/flowcontrol"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
)

// StreamReader is the external per-stream data source C11's read/consume
// operations are backed by; the stream's own send/receive state machine
// lives on the other side of this interface.
type StreamReader interface {
	ReadStream(id protocol.StreamID, max protocol.ByteCount) (data []byte, eof bool, err error)
	Peek(id protocol.StreamID, fn func(offset protocol.ByteCount, data []byte)) error
	Consume(id protocol.StreamID, amount protocol.ByteCount) error
	CurrentReadOffset(id protocol.StreamID) protocol.ByteCount
}

// StreamWriter is the external per-stream sink writeChain hands data to.
type StreamWriter interface {
	WriteChain(id protocol.StreamID, data []byte, eof bool) error
	ResetStream(id protocol.StreamID, appErr qerr.ApplicationErrorCode) error
	StopSending(id protocol.StreamID, appErr qerr.ApplicationErrorCode) error
	LargestWriteOffsetSeen(id protocol.StreamID) protocol.ByteCount
}

// OpenStreamBidi allocates the next outgoing bidirectional stream ID.
func (c *Conn) OpenStreamBidi() (protocol.StreamID, error) {
	if err := c.mustBeOpen(); err != nil {
		return 0, err
	}
	id, err := c.streams.NextOutgoingBidiStreamID()
	if err != nil {
		return 0, err
	}
	c.streams.Register(idStream{id})
	if c.tracer != nil && c.tracer.StreamOpened != nil {
		c.tracer.StreamOpened(id)
	}
	return id, nil
}

// OpenStreamUni is OpenStreamBidi for unidirectional streams.
func (c *Conn) OpenStreamUni() (protocol.StreamID, error) {
	if err := c.mustBeOpen(); err != nil {
		return 0, err
	}
	id, err := c.streams.NextOutgoingUniStreamID()
	if err != nil {
		return 0, err
	}
	c.streams.Register(idStream{id})
	if c.tracer != nil && c.tracer.StreamOpened != nil {
		c.tracer.StreamOpened(id)
	}
	return id, nil
}

type idStream struct{ id protocol.StreamID }

func (s idStream) ID() protocol.StreamID { return s.id }

func (c *Conn) requireStream(id protocol.StreamID) error {
	if err := c.mustBeOpen(); err != nil {
		return err
	}
	if _, ok := c.streams.Get(id); !ok {
		return qerr.NewLocalError(qerr.StreamNotExists, "stream does not exist")
	}
	return nil
}

// Read reads up to max bytes from a stream via the external StreamReader.
func (c *Conn) Read(reader StreamReader, id protocol.StreamID, max protocol.ByteCount) ([]byte, bool, error) {
	if id.IsUnidirectional() && id.InitiatedBy() == c.perspective {
		return nil, false, qerr.NewLocalError(qerr.InvalidOperation, "cannot read from a send-only stream")
	}
	if err := c.requireStream(id); err != nil {
		return nil, false, err
	}
	data, eof, err := reader.ReadStream(id, max)
	if err != nil {
		c.CloseNow(qerr.NewLocalError(qerr.InternalError, err.Error()))
		return nil, false, qerr.NewLocalError(qerr.InternalError, err.Error())
	}
	if eof {
		c.callbacks.MarkDeliveredEOM(id)
	}
	return data, eof, nil
}

// Consume advances the read offset by amount, requiring the caller's
// notion of the current offset to match ours.
func (c *Conn) Consume(reader StreamReader, id protocol.StreamID, offset, amount protocol.ByteCount) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	cur := reader.CurrentReadOffset(id)
	if offset != cur {
		return qerr.NewLocalError(qerr.InternalError, "offset does not match current read offset")
	}
	return reader.Consume(id, amount)
}

// WriteChain writes data (optionally with EOF) to a stream, registering an
// ACK byte event when cb is supplied.
func (c *Conn) WriteChain(writer StreamWriter, id protocol.StreamID, data []byte, eof bool, cb byteevent.Callback) error {
	if id.IsUnidirectional() && id.InitiatedBy() != c.perspective {
		return qerr.NewLocalError(qerr.InvalidOperation, "cannot write to a receive-only stream")
	}
	if err := c.requireStream(id); err != nil {
		return err
	}
	if cb != nil && (len(data) > 0 || eof) {
		largest := writer.LargestWriteOffsetSeen(id)
		dataLength := protocol.ByteCount(len(data))
		if eof {
			dataLength++
		}
		ackOffset := largest + dataLength - 1
		if ackOffset < 0 {
			ackOffset = 0
		}
		if err := c.byteEvents.Register(byteevent.ACK, id, ackOffset, cb, protocol.InvalidByteCount, false); err != nil {
			return err
		}
	}
	if c.appLimited && c.pacer != nil {
		c.pacer.Reset()
	}
	if err := writer.WriteChain(id, data, eof); err != nil {
		return qerr.NewLocalError(qerr.InternalError, err.Error())
	}
	c.writeLooper.Run()
	return nil
}

// ResetStream drives the external stream-state-machine reset handler and
// cancels any byte events pending on the stream.
func (c *Conn) ResetStream(writer StreamWriter, id protocol.StreamID, appErr qerr.ApplicationErrorCode) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	if err := writer.ResetStream(id, appErr); err != nil {
		return qerr.NewLocalError(qerr.InternalError, err.Error())
	}
	c.byteEvents.CancelAllForStream(id)
	return nil
}

// StopSending requests the peer stop sending on id.
func (c *Conn) StopSending(writer StreamWriter, id protocol.StreamID, appErr qerr.ApplicationErrorCode) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	if err := writer.StopSending(id, appErr); err != nil {
		return qerr.NewLocalError(qerr.InternalError, err.Error())
	}
	c.writeLooper.Run()
	return nil
}

// SetReadCallback installs id's read callback.
func (c *Conn) SetReadCallback(id protocol.StreamID, cb callbacks.ReadCallback) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	c.callbacks.SetReadCallback(id, cb)
	c.readLooper.Run()
	return nil
}

// SetPeekCallback installs id's peek callback.
func (c *Conn) SetPeekCallback(id protocol.StreamID, cb callbacks.PeekCallback) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	c.callbacks.SetPeekCallback(id, cb)
	c.peekLooper.Run()
	return nil
}

// PauseRead / ResumeRead flip the resumed bit the ReadLooper consults.
func (c *Conn) PauseRead(id protocol.StreamID)  { c.callbacks.PauseRead(id) }
func (c *Conn) ResumeRead(id protocol.StreamID) { c.callbacks.ResumeRead(id); c.readLooper.Run() }

// RegisterDeliveryCallback registers an ACK byte event directly.
func (c *Conn) RegisterDeliveryCallback(id protocol.StreamID, offset protocol.ByteCount, cb byteevent.Callback) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	return c.byteEvents.Register(byteevent.ACK, id, offset, cb, protocol.InvalidByteCount, false)
}

// RegisterTxCallback registers a TX byte event directly.
func (c *Conn) RegisterTxCallback(id protocol.StreamID, offset protocol.ByteCount, cb byteevent.Callback) error {
	if err := c.requireStream(id); err != nil {
		return err
	}
	return c.byteEvents.Register(byteevent.TX, id, offset, cb, protocol.InvalidByteCount, false)
}

// DeliverByteEventAck is invoked by the external ack-state collaborator
// once it knows a stream's newly-acknowledged offset range, driving
// handleDeliveryCallbacks.
func (c *Conn) DeliverByteEventAck(id protocol.StreamID, maxOffsetToDeliver protocol.ByteCount, rtt time.Duration) {
	c.byteEvents.Dispatch(byteevent.ACK, id, maxOffsetToDeliver, rtt, c.isClosed)
}

// DeliverByteEventTx is DeliverByteEventAck for the TX (wire-write) family.
func (c *Conn) DeliverByteEventTx(id protocol.StreamID, largestTxedOffset protocol.ByteCount) {
	c.byteEvents.Dispatch(byteevent.TX, id, largestTxedOffset, 0, c.isClosed)
}

// SetConnectionFlowControlWindow / GetConnectionFlowControl expose C5.
func (c *Conn) SetConnectionFlowControlWindow(n protocol.ByteCount) {
	c.connFC.UpdateSendWindow(n)
}

func (c *Conn) GetConnectionFlowControl() protocol.ByteCount {
	return c.connFC.SendCredit()
}

// GetMaxWritableOnStream computes writable_bytes per invariant 7.
func (c *Conn) GetMaxWritableOnStream(stream *flowcontrol.StreamController) protocol.ByteCount {
	return c.flowGate.MaxWritableOnStream(stream, c.connFC, c.ccWritable())
}

// SendPing installs cb as the ping callback, arms the Ping timer for
// timeout when timeout is positive, and schedules the write looper.
func (c *Conn) SendPing(cb callbacks.PingCallback, timeout time.Duration) error {
	if err := c.mustBeOpen(); err != nil {
		return err
	}
	c.callbacks.SetPing(cb)
	if timeout > 0 {
		c.timers.Arm(timerset.Ping, timeout)
	}
	c.writeLooper.Run()
	return nil
}

// SetPingCallback installs the ping callback without arming a timeout.
func (c *Conn) SetPingCallback(cb callbacks.PingCallback) { c.callbacks.SetPing(cb) }

// SetDatagramCallback installs the datagram-availability callback.
func (c *Conn) SetDatagramCallback(cb callbacks.DatagramCallback) { c.callbacks.SetDatagram(cb) }

// SetKnob installs the callback that receives KNOB frames from the ingress
// fan-out. Sending a knob goes through SendKnob.
func (c *Conn) SetKnob(cb callbacks.KnobCallback) { c.callbacks.SetKnob(cb) }

// SetConnCallback installs the terminal connection-lifecycle callback.
func (c *Conn) SetConnCallback(cb callbacks.ConnCallback) { c.callbacks.SetConn(cb) }

// SetStreamLifecycleCallback installs the observer for peer-driven new
// streams and STOP_SENDING requests, fired from the post-network fan-out.
func (c *Conn) SetStreamLifecycleCallback(cb callbacks.StreamLifecycleCallback) {
	c.callbacks.SetStreamLifecycle(cb)
}

// SetSetupCallback installs the pre-handshake-completion error callback.
func (c *Conn) SetSetupCallback(cb callbacks.SetupCallback) { c.callbacks.SetSetup(cb) }

// WriteDatagram enqueues an unreliable datagram for the write path.
func (c *Conn) WriteDatagram(payload []byte) error {
	if err := c.mustBeOpen(); err != nil {
		return err
	}
	if err := c.datagramWrite.Push(payload); err != nil {
		return err
	}
	c.writeLooper.Run()
	return nil
}

// ReadDatagrams drains up to atMost buffered read datagrams.
func (c *Conn) ReadDatagrams(atMost int) [][]byte {
	buffered := c.datagramRead.PopAtMost(atMost)
	out := make([][]byte, len(buffered))
	for i, d := range buffered {
		out[i] = d.Payload
	}
	return out
}
