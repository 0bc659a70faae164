package logging

import (
	"testing"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/stretchr/testify/assert"
)

func TestMultiplexNilReturnsNil(t *testing.T) {
	assert.Nil(t, Multiplex())
	assert.Nil(t, Multiplex(nil, nil))
}

func TestMultiplexSingleReturnsSameTracer(t *testing.T) {
	tr := &ConnectionTracer{}
	assert.Same(t, tr, Multiplex(tr))
}

func TestMultiplexFansOutToAllNonNilTracers(t *testing.T) {
	var calls []string
	a := &ConnectionTracer{StreamOpened: func(id protocol.StreamID) { calls = append(calls, "a") }}
	b := &ConnectionTracer{StreamOpened: func(id protocol.StreamID) { calls = append(calls, "b") }}
	c := &ConnectionTracer{} // no StreamOpened set, must not panic

	m := Multiplex(a, nil, b, c)
	m.StreamOpened(4)

	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestMultiplexClosedConnectionFansOut(t *testing.T) {
	var count int
	a := &ConnectionTracer{ClosedConnection: func(_ qerr.CloseReason) { count++ }}
	b := &ConnectionTracer{ClosedConnection: func(_ qerr.CloseReason) { count++ }}

	m := Multiplex(a, b)
	m.ClosedConnection(qerr.NewLocalCloseReason(qerr.NewLocalError(qerr.NoError, "")))

	assert.Equal(t, 2, count)
}
