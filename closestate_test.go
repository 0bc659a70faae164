package qcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/internal/timerset"
)

func TestCloseNowFiresOnConnectionEndForBenignReason(t *testing.T) {
	c, w, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)

	c.CloseNow(nil)

	require.Equal(t, StateClosed, c.CloseState())
	require.Equal(t, 1, cb.ended, "expected OnConnectionEnd exactly once")
	require.Zero(t, cb.errored, "benign close must not fire the error-shaped callbacks")
	require.Zero(t, cb.endedErr, "benign close must not fire the error-shaped callbacks")
	require.True(t, w.closed, "CloseNow (drain=false) should close the socket synchronously")
}

func TestCloseWithApplicationErrorFiresOnConnectionError(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)

	c.Close(qerr.NewApplicationError(qerr.ApplicationErrorCode(7), "app broke"))

	require.Equal(t, 1, cb.errored, "expected OnConnectionError exactly once")
	require.Zero(t, cb.ended, "non-benign close must not fire OnConnectionEnd")
}

func TestCloseUsesEndWithErrorFormWhenConfigured(t *testing.T) {
	w := &fakeWriter{}
	settings := DefaultTransportSettings()
	settings.UseConnEndWithError = true
	c := NewConn(protocol.PerspectiveClient, settings, ConnDeps{Writer: w, CongestionController: newFakeCC()})
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)

	c.CloseNow(nil)

	require.Equal(t, 1, cb.endedErr, "expected OnConnectionEndWithError exactly once")
	require.Zero(t, cb.ended)
	require.Zero(t, cb.errored, "UseConnEndWithError must route every close through the with-error form")
}

func TestCloseBeforeHandshakeFiresSetupCallback(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	conn := &fakeConnCallback{}
	setup := &fakeSetupCallback{}
	c.SetConnCallback(conn)
	c.SetSetupCallback(setup)

	c.CloseNow(qerr.NewLocalError(qerr.InternalError, "boom"))

	require.Equal(t, 1, setup.calls, "expected OnConnectionSetupError exactly once")
	require.Zero(t, conn.ended+conn.endedErr+conn.errored, "terminal ConnCallback must not fire when the handshake never completed")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)

	c.CloseNow(nil)
	c.CloseNow(qerr.NewLocalError(qerr.InternalError, "second close should be ignored"))

	require.Equal(t, 1, cb.ended, "expected exactly one terminal callback across both Close calls")
}

func TestCloseGracefullyWaitsForOpenStreams(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	id, err := c.OpenStreamBidi()
	require.NoError(t, err)
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)

	c.CloseGracefully()
	require.Equal(t, StateGracefulClosing, c.CloseState())

	c.streams.Remove(id)
	c.checkForClosedStream()
	require.Equal(t, StateClosed, c.CloseState())
}

func TestCloseGracefullyClosesImmediatelyWithNoOpenStreams(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	c.CloseGracefully()
	require.Equal(t, StateClosed, c.CloseState())
}

func TestCloseClearsByteEventsAndAppLimitedState(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	c.appLimited = true
	c.appLimitedInfo = AppLimitedTracker{Active: true, StartPacketNumber: 3}

	c.CloseNow(nil)

	require.False(t, c.appLimited)
	require.False(t, c.appLimitedInfo.Active)
}

func TestCloseWithResetSkipsCloseFrame(t *testing.T) {
	c, _, enc := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true

	c.CloseNow(qerr.NewLocalError(qerr.ConnectionReset, "reset"))

	require.Zero(t, enc.calls, "a reset close must not emit a close frame")
}

func TestCheckIdleTimerFiresPastDeadline(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)
	c.timers.Arm(timerset.Idle, -time.Millisecond)

	c.checkIdleTimer(time.Now())

	require.Equal(t, StateClosed, c.CloseState(), "expected a silently passed deadline to fire the idle timeout")
	require.Equal(t, 1, cb.ended)
}

func TestCheckIdleTimerIsNoopWhenNotArmed(t *testing.T) {
	c, _, _ := newTestConn(protocol.PerspectiveClient)
	c.timers.Cancel(timerset.Idle)

	c.checkIdleTimer(time.Now())

	require.Equal(t, StateOpen, c.CloseState())
}

func TestCheckIdleTimerDefersThroughScheduleAsyncAndFires(t *testing.T) {
	w := &fakeWriter{}
	var deferred func()
	c := NewConn(protocol.PerspectiveClient, DefaultTransportSettings(), ConnDeps{
		Writer:               w,
		CongestionController: newFakeCC(),
		ScheduleAsync:        func(fn func()) { deferred = fn },
	})
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)
	c.timers.Arm(timerset.Idle, -time.Millisecond)

	c.checkIdleTimer(time.Now())
	require.NotNil(t, deferred, "expected the idle timeout to be handed to ScheduleAsync rather than fired inline")
	require.Equal(t, StateOpen, c.CloseState(), "the connection must still be open until the deferred closure runs")

	deferred()

	require.Equal(t, StateClosed, c.CloseState())
	require.Equal(t, 1, cb.ended)
}

func TestCheckIdleTimerDeferredFireSkipsStaleGeneration(t *testing.T) {
	w := &fakeWriter{}
	var deferred func()
	c := NewConn(protocol.PerspectiveClient, DefaultTransportSettings(), ConnDeps{
		Writer:               w,
		CongestionController: newFakeCC(),
		ScheduleAsync:        func(fn func()) { deferred = fn },
	})
	c.handshakeComplete = true
	cb := &fakeConnCallback{}
	c.SetConnCallback(cb)
	c.timers.Arm(timerset.Idle, -time.Millisecond)

	c.checkIdleTimer(time.Now())
	require.NotNil(t, deferred)

	c.scheduleIdleTimer() // legitimately re-arms Idle before the deferred fire runs
	deferred()

	require.Equal(t, StateOpen, c.CloseState(), "a re-arm racing the deferred fire must suppress it")
	require.Zero(t, cb.ended)
}
