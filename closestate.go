package qcore

import (
	"time"

	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
)

// kDrainFactor multiplies the PTO estimate to get the drain-timer duration.
const kDrainFactor = 3

// Close transitions to Closed with drain=true. A nil err synthesizes a
// generic application "no error".
func (c *Conn) Close(err *qerr.ApplicationError) {
	if err == nil {
		err = qerr.NewApplicationError(qerr.GenericNoError, "")
	}
	c.closeImpl(qerr.NewApplicationCloseReason(err, false), true)
}

// CloseNow transitions to Closed with drain=false, synchronously firing
// drainTimeoutExpired instead of arming the Drain timer.
func (c *Conn) CloseNow(err *qerr.LocalError) {
	if err == nil {
		err = qerr.NewLocalError(qerr.NoError, "")
	}
	drainPending := c.timers.IsArmed(timerset.Drain)
	c.timers.Cancel(timerset.Drain)
	if c.closeState == StateClosed {
		if drainPending {
			c.onDrainTimeout()
		}
		return
	}
	c.closeImpl(qerr.NewLocalCloseReason(err), false)
}

// CloseWithTransportError closes with a wire-visible transport error,
// tagging whether it originated with the peer.
func (c *Conn) CloseWithTransportError(err *qerr.TransportError, remote bool) {
	c.closeImpl(qerr.NewTransportCloseReason(err, remote), true)
}

// CloseGracefully implements Open → GracefulClosing: it stops the read/peek
// loopers, cancels app callbacks with a graceful-close error, and jumps
// straight to Closed if there are no open streams left.
func (c *Conn) CloseGracefully() {
	if c.closeState != StateOpen {
		return
	}
	c.closeState = StateGracefulClosing
	c.readLooper.Stop()
	c.peekLooper.Stop()
	c.callbacks.CancelAll(qerr.NewLocalError(qerr.ShuttingDown, "connection is closing gracefully"))
	c.checkForClosedStream()
}

// checkForClosedStream implements the GracefulClosing → Closed edge: once
// the last stream drains, the graceful close completes.
func (c *Conn) checkForClosedStream() {
	if c.closeState == StateGracefulClosing && c.streams.Len() == 0 {
		c.closeImpl(qerr.NewLocalCloseReason(qerr.NewLocalError(qerr.ShuttingDown, "")), true)
	}
}

// closeImpl runs the full close sequence: notify observers, classify the
// reason, cancel timers and loopers, fire exactly one terminal callback,
// clear outstanding state, emit a close frame, and either start draining or
// tear down immediately. A call on an already-Closed connection is a no-op;
// otherwise every step runs.
func (c *Conn) closeImpl(reason qerr.CloseReason, drain bool) {
	if c.closeState == StateClosed {
		return
	}
	wasHandshakeComplete := c.handshakeComplete

	// Step 1: notify observers.
	if c.tracer != nil && c.tracer.ClosedConnection != nil {
		c.tracer.ClosedConnection(reason)
	}

	// Step 2 (stats snapshot) is available on demand via Stats(); this
	// core doesn't own a qlog sink to push it to.

	// Step 3/4: classify.
	local, isLocal := reason.Local()
	_, isTransport := reason.Transport()
	isReset := isLocal && local.Code == qerr.ConnectionReset
	isAbandon := isLocal && local.Code == qerr.ConnectionAbandoned
	isInvalidMigration := false
	if t, ok := reason.Transport(); ok {
		isInvalidMigration = t.Code == qerr.TransportInvalidMigration
	}
	_ = isTransport

	c.closeState = StateClosed
	c.closeReason = &reason

	// Step 5: cancel timers, stop loopers.
	c.timers.StopAll(timerset.Loss, timerset.Ack, timerset.PathValidation, timerset.Idle, timerset.Keepalive, timerset.Ping, timerset.ExcessWrite)
	c.readLooper.Stop()
	c.peekLooper.Stop()
	c.writeLooper.Stop()

	// Step 6: cancel callbacks, fire exactly one terminal callback.
	c.callbacks.CancelAll(&reason)
	c.fireTerminalCallback(reason, wasHandshakeComplete)

	// Step 7: clear outstanding state.
	c.byteEvents.CancelAll()
	c.appLimited = false
	c.appLimitedInfo = AppLimitedTracker{}

	// Step 8: emit a close frame unless the reason forbids one.
	if !isReset && !isAbandon && c.encoder != nil {
		func() {
			defer func() { recover() }()
			c.encoder.EncodeAndSend(c)
		}()
	}

	// Step 9/10: drain, or fire drainTimeoutExpired synchronously.
	if drain && !isReset && !isAbandon && !isInvalidMigration {
		c.timers.Arm(timerset.Drain, c.drainDuration())
	} else {
		c.onDrainTimeout()
	}
}

func (c *Conn) fireTerminalCallback(reason qerr.CloseReason, handshakeWasComplete bool) {
	conn := c.callbacks.Conn()
	if conn == nil {
		return
	}
	if !handshakeWasComplete {
		if setup := c.callbacks.Setup(); setup != nil {
			setup.OnConnectionSetupError(&reason)
		}
		return
	}
	if c.callbacks.UsesConnEndWithError() {
		conn.OnConnectionEndWithError(&reason)
		return
	}
	if reason.IsBenign() {
		conn.OnConnectionEnd()
		return
	}
	conn.OnConnectionError(&reason)
}

func (c *Conn) drainDuration() time.Duration {
	return kDrainFactor * c.estimatedPTO()
}

func (c *Conn) estimatedPTO() time.Duration {
	if c.smoothedRTT <= 0 {
		return 200 * time.Millisecond
	}
	return c.smoothedRTT * 2
}

// onDrainTimeout is step 10: close the socket (readers should already be
// stopped by closeImpl) and unbind.
func (c *Conn) onDrainTimeout() {
	if closer, ok := c.writer.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	if c.attached {
		_ = c.DetachEventBase()
	}
}

func (c *Conn) onIdleTimeout() {
	code := qerr.IdleTimeout
	drain := true
	if c.closeState == StateGracefulClosing {
		code = qerr.ShuttingDown
		drain = false
	}
	c.closeImpl(qerr.NewLocalCloseReason(qerr.NewLocalError(code, "idle timeout")), drain)
}

func (c *Conn) onKeepaliveTimeout() {
	if c.closeState != StateOpen {
		return
	}
	if p := c.callbacks.Ping(); p != nil {
		c.writeLooper.Run()
	}
	c.scheduleIdleTimer()
}

func (c *Conn) onPingTimeout() {
	if p := c.callbacks.Ping(); p != nil {
		p.OnPingTimeout()
	}
}

func (c *Conn) onLossTimeout() {
	c.pacedWriteDataToSocket()
}

func (c *Conn) onAckTimeout() {
	c.pacedWriteDataToSocket()
}

func (c *Conn) onExcessWriteTimeout() {
	c.pacedWriteDataToSocket()
}

func (c *Conn) onPathValidationTimeout() {
	c.closeImpl(qerr.NewTransportCloseReason(qerr.NewTransportError(qerr.TransportInvalidMigration, "path validation timed out"), false), true)
}

func (c *Conn) scheduleIdleTimer() {
	if c.closeState != StateOpen || c.settings.MaxIdleTimeout <= 0 {
		return
	}
	c.timers.Arm(timerset.Idle, c.settings.MaxIdleTimeout)
	if c.settings.KeepAliveEnabled {
		c.timers.Arm(timerset.Keepalive, time.Duration(float64(c.settings.MaxIdleTimeout)*0.85))
	}
}

// checkIdleTimer re-evaluates the idle deadline against now and, if the
// event loop let it pass silently (a long stall, a coalesced system timer),
// fires the idle timeout asynchronously rather than inline. It is safe to
// call opportunistically; most calls find the timer either unarmed or not
// yet due and do nothing.
func (c *Conn) checkIdleTimer(now time.Time) {
	if c.closeState == StateClosed {
		return
	}
	shouldFire, generation := c.timers.CheckIdleTimer(now)
	if !shouldFire {
		return
	}
	fire := func() {
		if c.closeState == StateClosed || c.timers.Generation(timerset.Idle) != generation {
			return
		}
		c.onIdleTimeout()
	}
	if c.scheduleAsync != nil {
		c.scheduleAsync(fire)
	} else {
		fire()
	}
}

func (c *Conn) schedulePathValidationTimer() {
	if c.closeState != StateOpen {
		return
	}
	timeout := 3 * c.estimatedPTO()
	if min := 6 * c.estimatedPTO() / 2; min > timeout {
		timeout = min
	}
	if !c.timers.IsArmed(timerset.PathValidation) {
		c.timers.Arm(timerset.PathValidation, timeout)
	}
}
