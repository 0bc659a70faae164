package streammanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcore-go/qcore/internal/protocol"
)

type fakeStream struct{ id protocol.StreamID }

func (f *fakeStream) ID() protocol.StreamID { return f.id }

func TestOutgoingBidiIDsFollowPerspectiveNumbering(t *testing.T) {
	client := New(protocol.PerspectiveClient, 100, 100)
	id0, err := client.NextOutgoingBidiStreamID()
	require.NoError(t, err)
	id1, err := client.NextOutgoingBidiStreamID()
	require.NoError(t, err)
	assert.Equal(t, protocol.StreamID(0), id0)
	assert.Equal(t, protocol.StreamID(4), id1)

	server := New(protocol.PerspectiveServer, 100, 100)
	sid0, _ := server.NextOutgoingBidiStreamID()
	assert.Equal(t, protocol.StreamID(1), sid0)
}

func TestAdmitIncomingEnforcesLimit(t *testing.T) {
	m := New(protocol.PerspectiveServer, 1, 0)
	newStream := func(id protocol.StreamID) Stream { return &fakeStream{id: id} }

	require.NoError(t, m.AdmitIncoming(0, newStream))
	err := m.AdmitIncoming(4, newStream)
	require.Error(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestAdmitIncomingQueuesForAccept(t *testing.T) {
	m := New(protocol.PerspectiveServer, 10, 10)
	newStream := func(id protocol.StreamID) Stream { return &fakeStream{id: id} }
	require.NoError(t, m.AdmitIncoming(0, newStream))

	s := <-m.AcceptBidiStream()
	assert.Equal(t, protocol.StreamID(0), s.ID())
}

func TestAdmitIncomingDuplicateIsNoop(t *testing.T) {
	m := New(protocol.PerspectiveServer, 1, 0)
	newStream := func(id protocol.StreamID) Stream { return &fakeStream{id: id} }
	require.NoError(t, m.AdmitIncoming(0, newStream))
	require.NoError(t, m.AdmitIncoming(0, newStream))
	assert.Equal(t, 1, m.Len())
}

func TestCloseWithErrorRejectsFurtherAllocation(t *testing.T) {
	m := New(protocol.PerspectiveClient, 10, 10)
	m.CloseWithError(assertErr{})
	_, err := m.NextOutgoingBidiStreamID()
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "closed" }
