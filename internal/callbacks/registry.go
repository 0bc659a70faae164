// Package callbacks implements a capability-based callback registry: read,
// peek, pending-write (stream and connection), ping, datagram,
// connection-setup, and connection-lifecycle callbacks are separate small
// interfaces rather than one fat observer type, matching quic-go's own split between
// StreamHandler/DatagramHandler/logging.ConnectionTracer-style
// struct-of-callbacks components.
package callbacks

import (
	"sync"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// ReadCallback is the application's per-stream read notification sink.
type ReadCallback interface {
	OnStreamReadAvailable(id protocol.StreamID)
	OnStreamReadAvailableWithGroup(id protocol.StreamID, groupID uint64)
	OnStreamReadError(id protocol.StreamID, err error)
	OnStreamReadErrorWithGroup(id protocol.StreamID, groupID uint64, err error)
}

// PeekCallback is the application's per-stream peek notification sink.
type PeekCallback interface {
	OnStreamPeekAvailable(id protocol.StreamID)
	OnStreamPeekError(id protocol.StreamID, err error)
}

// WriteCallback fires once when previously-blocked flow-control credit
// becomes available, for either a single stream or the whole connection.
type WriteCallback interface {
	OnWriteReady(maxToWrite protocol.ByteCount)
	OnWriteError(err error)
}

// PingCallback observes the outcome of a sendPing() call.
type PingCallback interface {
	OnPingAcknowledged()
	OnPingTimeout()
}

// DatagramCallback notifies the application that unreliable datagrams are
// available to read.
type DatagramCallback interface {
	OnDatagramsAvailable()
}

// KnobCallback delivers received KNOB frames.
type KnobCallback interface {
	OnKnob(space uint64, id uint64, blob []byte)
}

// SetupCallback fires when the handshake fails before completion.
type SetupCallback interface {
	OnConnectionSetupError(err error)
}

// StreamLifecycleCallback observes peer-driven stream events surfaced by
// the post-network callback fan-out: new peer-initiated streams and
// STOP_SENDING requests. Kept separate from ConnCallback since those fire
// many times per connection lifetime rather than exactly once.
type StreamLifecycleCallback interface {
	OnNewBidirectionalStream(id protocol.StreamID)
	OnNewUnidirectionalStream(id protocol.StreamID)
	OnStopSending(id protocol.StreamID, appErr qerr.ApplicationErrorCode)
}

// ConnCallback is the terminal, exactly-once-per-lifetime connection
// callback: exactly one of OnConnectionEnd/OnConnectionEndWithError/
// OnConnectionError fires per connection lifetime.
type ConnCallback interface {
	OnConnectionEnd()
	OnConnectionEndWithError(err error)
	OnConnectionError(err error)
}

// ReadCallbackData pairs a read callback with its pause/EOF-delivery state.
type ReadCallbackData struct {
	Callback     ReadCallback
	Resumed      bool
	DeliveredEOM bool
}

// PeekCallbackData pairs a peek callback with its pause state.
type PeekCallbackData struct {
	Callback PeekCallback
	Resumed  bool
}

// Registry owns every callback map/singleton for one connection.
type Registry struct {
	mu sync.Mutex

	read map[protocol.StreamID]*ReadCallbackData
	peek map[protocol.StreamID]*PeekCallbackData

	pendingStreamWrite map[protocol.StreamID]WriteCallback
	pendingConnWrite   WriteCallback

	ping            PingCallback
	datagram        DatagramCallback
	knob            KnobCallback
	setup           SetupCallback
	conn            ConnCallback
	streamLifecycle StreamLifecycleCallback

	// usesConnEndWithError mirrors the "end-with-error form" transport
	// setting: when true, benign closes still route
	// through OnConnectionEndWithError instead of OnConnectionEnd.
	usesConnEndWithError bool
}

// New builds an empty Registry.
func New(useConnEndWithError bool) *Registry {
	return &Registry{
		read:                 make(map[protocol.StreamID]*ReadCallbackData),
		peek:                 make(map[protocol.StreamID]*PeekCallbackData),
		pendingStreamWrite:   make(map[protocol.StreamID]WriteCallback),
		usesConnEndWithError: useConnEndWithError,
	}
}

// SetReadCallback installs (or, if cb is nil, removes) the read callback
// for id. Newly installed callbacks start resumed.
func (r *Registry) SetReadCallback(id protocol.StreamID, cb ReadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb == nil {
		delete(r.read, id)
		return
	}
	r.read[id] = &ReadCallbackData{Callback: cb, Resumed: true}
}

// ReadCallback returns the read callback data for id, if any.
func (r *Registry) ReadCallback(id protocol.StreamID) (*ReadCallbackData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.read[id]
	return d, ok
}

// PauseRead / ResumeRead flip the Resumed bit consulted by the ReadLooper.
func (r *Registry) PauseRead(id protocol.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.read[id]; ok {
		d.Resumed = false
	}
}

func (r *Registry) ResumeRead(id protocol.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.read[id]; ok {
		d.Resumed = true
	}
}

// RemoveRead deletes a stream's read callback entry outright, as done when
// the ReadLooper observes a read error.
func (r *Registry) RemoveRead(id protocol.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.read, id)
}

// MarkDeliveredEOM records that EOF has been delivered on id's read callback.
func (r *Registry) MarkDeliveredEOM(id protocol.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.read[id]; ok {
		d.DeliveredEOM = true
	}
}

// ReadStreamIDs returns every stream ID with a live read callback entry.
// The caller owns ordering (the "ordered read callbacks" setting).
func (r *Registry) ReadStreamIDs() []protocol.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]protocol.StreamID, 0, len(r.read))
	for id := range r.read {
		ids = append(ids, id)
	}
	return ids
}

// SetPeekCallback installs (or removes) the peek callback for id.
func (r *Registry) SetPeekCallback(id protocol.StreamID, cb PeekCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb == nil {
		delete(r.peek, id)
		return
	}
	r.peek[id] = &PeekCallbackData{Callback: cb, Resumed: true}
}

func (r *Registry) PeekCallback(id protocol.StreamID) (*PeekCallbackData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.peek[id]
	return d, ok
}

func (r *Registry) RemovePeek(id protocol.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peek, id)
}

func (r *Registry) PeekStreamIDs() []protocol.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]protocol.StreamID, 0, len(r.peek))
	for id := range r.peek {
		ids = append(ids, id)
	}
	return ids
}

// SetPendingStreamWrite registers exactly one write-ready callback for a
// stream. A second registration with the same pointer is
// CALLBACK_ALREADY_INSTALLED; a different pointer is INVALID_WRITE_CALLBACK.
func (r *Registry) SetPendingStreamWrite(id protocol.StreamID, cb WriteCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setPendingWrite(r.pendingStreamWrite, id, cb)
}

func setPendingWrite(m map[protocol.StreamID]WriteCallback, id protocol.StreamID, cb WriteCallback) error {
	if existing, ok := m[id]; ok {
		if existing == cb {
			return qerr.NewLocalError(qerr.CallbackAlreadyInstalled, "write callback already installed")
		}
		return qerr.NewLocalError(qerr.InvalidWriteCallback, "a different write callback is already installed")
	}
	m[id] = cb
	return nil
}

// ConsumePendingStreamWrite removes and returns the stream's pending write
// callback, so it fires exactly once.
func (r *Registry) ConsumePendingStreamWrite(id protocol.StreamID) (WriteCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pendingStreamWrite[id]
	if ok {
		delete(r.pendingStreamWrite, id)
	}
	return cb, ok
}

// SetPendingConnWrite registers the connection-level write-ready callback,
// with the same duplicate/mismatch rules as the per-stream variant.
func (r *Registry) SetPendingConnWrite(cb WriteCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingConnWrite != nil {
		if r.pendingConnWrite == cb {
			return qerr.NewLocalError(qerr.CallbackAlreadyInstalled, "write callback already installed")
		}
		return qerr.NewLocalError(qerr.InvalidWriteCallback, "a different write callback is already installed")
	}
	r.pendingConnWrite = cb
	return nil
}

func (r *Registry) ConsumePendingConnWrite() (WriteCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.pendingConnWrite
	r.pendingConnWrite = nil
	return cb, cb != nil
}

func (r *Registry) SetPing(cb PingCallback) { r.mu.Lock(); r.ping = cb; r.mu.Unlock() }
func (r *Registry) Ping() PingCallback      { r.mu.Lock(); defer r.mu.Unlock(); return r.ping }

func (r *Registry) SetDatagram(cb DatagramCallback) { r.mu.Lock(); r.datagram = cb; r.mu.Unlock() }
func (r *Registry) Datagram() DatagramCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datagram
}

func (r *Registry) SetKnob(cb KnobCallback) { r.mu.Lock(); r.knob = cb; r.mu.Unlock() }
func (r *Registry) Knob() KnobCallback      { r.mu.Lock(); defer r.mu.Unlock(); return r.knob }

func (r *Registry) SetSetup(cb SetupCallback) { r.mu.Lock(); r.setup = cb; r.mu.Unlock() }
func (r *Registry) Setup() SetupCallback      { r.mu.Lock(); defer r.mu.Unlock(); return r.setup }

func (r *Registry) SetConn(cb ConnCallback) { r.mu.Lock(); r.conn = cb; r.mu.Unlock() }
func (r *Registry) Conn() ConnCallback      { r.mu.Lock(); defer r.mu.Unlock(); return r.conn }

func (r *Registry) SetStreamLifecycle(cb StreamLifecycleCallback) {
	r.mu.Lock()
	r.streamLifecycle = cb
	r.mu.Unlock()
}
func (r *Registry) StreamLifecycle() StreamLifecycleCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamLifecycle
}

// UsesConnEndWithError reports the "end-with-error form" transport setting.
func (r *Registry) UsesConnEndWithError() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usesConnEndWithError
}

// CancelAll cancels every read, peek, pending-write, ping, and datagram
// callback with err, then empties every map, so that after close no
// callback map retains a stale entry. It
// deliberately does not touch the setup/conn singletons: those fire exactly
// once via the caller's own terminal-callback logic, never through this
// generic cancellation path.
func (r *Registry) CancelAll(err error) {
	r.mu.Lock()
	read := r.read
	peek := r.peek
	streamWrite := r.pendingStreamWrite
	connWrite := r.pendingConnWrite
	ping := r.ping
	datagram := r.datagram
	r.read = make(map[protocol.StreamID]*ReadCallbackData)
	r.peek = make(map[protocol.StreamID]*PeekCallbackData)
	r.pendingStreamWrite = make(map[protocol.StreamID]WriteCallback)
	r.pendingConnWrite = nil
	r.ping = nil
	r.datagram = nil
	r.mu.Unlock()

	for id, d := range read {
		if d.Callback != nil {
			d.Callback.OnStreamReadError(id, err)
		}
	}
	for id, d := range peek {
		if d.Callback != nil {
			d.Callback.OnStreamPeekError(id, err)
		}
	}
	for _, cb := range streamWrite {
		if cb != nil {
			cb.OnWriteError(err)
		}
	}
	if connWrite != nil {
		connWrite.OnWriteError(err)
	}
	if ping != nil {
		ping.OnPingTimeout()
	}
	_ = datagram // no per-registration state to cancel; dropping the reference above suffices.
}
