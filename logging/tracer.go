// Package logging defines the observer fan-out surface for the connection
// core. Grounded on quic-go's ConnectionTracer: a struct of optional
// function fields rather than a fat interface, so an observer that only
// cares about three events doesn't have to implement the rest as no-ops.
// The observer *transport* (where these events end up — a qlog file, a
// metrics sink) is out of scope; this package only defines the fan-out
// pattern and the events it carries.
package logging

import (
	"time"

	"github.com/qcore-go/qcore/internal/ecn"
	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
)

// ConnectionTracer is the set of lifecycle and I/O events a per-connection
// observer may subscribe to. Every field is optional; a nil field is
// simply not called.
type ConnectionTracer struct {
	StartedConnection      func(local, remote string, perspective protocol.Perspective)
	ClosedConnection       func(reason qerr.CloseReason)
	NetworkDataReceived    func(packets int, bytes protocol.ByteCount)
	PacketsWritten         func(count int, bytes protocol.ByteCount)
	AppLimited             func(limited bool)
	ECNStateUpdated        func(state ecn.State)
	UpdatedMetrics         func(rtt, rttVar time.Duration, cwnd, bytesInFlight protocol.ByteCount)
	StreamOpened           func(id protocol.StreamID)
	StreamClosed           func(id protocol.StreamID)
	ByteEventRegistered    func(id protocol.StreamID, offset protocol.ByteCount, kind string)
	ByteEventDelivered     func(id protocol.StreamID, offset protocol.ByteCount, kind string)
	ByteEventCanceled      func(id protocol.StreamID, offset protocol.ByteCount, kind string)
	AckEventsProcessed     func(count int)
	Debug                  func(name, msg string)
}

// Multiplex combines any number of tracers into one, invoking every
// non-nil field of every input tracer in argument order, matching the
// teacher's logging.NewMultiplexedConnectionTracer. The exceptions are
// ByteEventRegistered, ByteEventDelivered and ByteEventCanceled: the
// combined tracer leaves them nil and does not forward them.
func Multiplex(tracers ...*ConnectionTracer) *ConnectionTracer {
	live := make([]*ConnectionTracer, 0, len(tracers))
	for _, t := range tracers {
		if t != nil {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if len(live) == 1 {
		return live[0]
	}
	m := &ConnectionTracer{}
	m.StartedConnection = func(local, remote string, p protocol.Perspective) {
		for _, t := range live {
			if t.StartedConnection != nil {
				t.StartedConnection(local, remote, p)
			}
		}
	}
	m.ClosedConnection = func(reason qerr.CloseReason) {
		for _, t := range live {
			if t.ClosedConnection != nil {
				t.ClosedConnection(reason)
			}
		}
	}
	m.NetworkDataReceived = func(packets int, bytes protocol.ByteCount) {
		for _, t := range live {
			if t.NetworkDataReceived != nil {
				t.NetworkDataReceived(packets, bytes)
			}
		}
	}
	m.PacketsWritten = func(count int, bytes protocol.ByteCount) {
		for _, t := range live {
			if t.PacketsWritten != nil {
				t.PacketsWritten(count, bytes)
			}
		}
	}
	m.AppLimited = func(limited bool) {
		for _, t := range live {
			if t.AppLimited != nil {
				t.AppLimited(limited)
			}
		}
	}
	m.ECNStateUpdated = func(state ecn.State) {
		for _, t := range live {
			if t.ECNStateUpdated != nil {
				t.ECNStateUpdated(state)
			}
		}
	}
	m.UpdatedMetrics = func(rtt, rttVar time.Duration, cwnd, bytesInFlight protocol.ByteCount) {
		for _, t := range live {
			if t.UpdatedMetrics != nil {
				t.UpdatedMetrics(rtt, rttVar, cwnd, bytesInFlight)
			}
		}
	}
	m.StreamOpened = func(id protocol.StreamID) {
		for _, t := range live {
			if t.StreamOpened != nil {
				t.StreamOpened(id)
			}
		}
	}
	m.StreamClosed = func(id protocol.StreamID) {
		for _, t := range live {
			if t.StreamClosed != nil {
				t.StreamClosed(id)
			}
		}
	}
	m.AckEventsProcessed = func(count int) {
		for _, t := range live {
			if t.AckEventsProcessed != nil {
				t.AckEventsProcessed(count)
			}
		}
	}
	m.Debug = func(name, msg string) {
		for _, t := range live {
			if t.Debug != nil {
				t.Debug(name, msg)
			}
		}
	}
	return m
}
