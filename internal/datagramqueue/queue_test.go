package datagramqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadQueueDropsOnOverflow(t *testing.T) {
	q := NewReadQueue(2)
	assert.True(t, q.Push(Datagram{Payload: []byte("a"), ReceivedAt: time.Now()}))
	assert.True(t, q.Push(Datagram{Payload: []byte("b"), ReceivedAt: time.Now()}))
	assert.False(t, q.Push(Datagram{Payload: []byte("c"), ReceivedAt: time.Now()}))
	assert.Equal(t, 2, q.Len())
}

func TestReadQueuePopAtMostPreservesOrder(t *testing.T) {
	q := NewReadQueue(5)
	q.Push(Datagram{Payload: []byte("1")})
	q.Push(Datagram{Payload: []byte("2")})
	q.Push(Datagram{Payload: []byte("3")})

	got := q.PopAtMost(2)
	require.Len(t, got, 2)
	assert.Equal(t, "1", string(got[0].Payload))
	assert.Equal(t, "2", string(got[1].Payload))
	assert.Equal(t, 1, q.Len())
}

func TestWriteQueueRejectsWhenFullAndNotDroppingOldest(t *testing.T) {
	q := NewWriteQueue(1, false)
	require.NoError(t, q.Push([]byte("a")))
	err := q.Push([]byte("b"))
	require.Error(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestWriteQueueDropsOldestWhenConfigured(t *testing.T) {
	q := NewWriteQueue(1, true)
	require.NoError(t, q.Push([]byte("a")))
	require.NoError(t, q.Push([]byte("b")))
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", string(got))
}

func TestWriteQueuePopFIFO(t *testing.T) {
	q := NewWriteQueue(4, false)
	q.Push([]byte("x"))
	q.Push([]byte("y"))
	first, _ := q.Pop()
	second, _ := q.Pop()
	assert.Equal(t, "x", string(first))
	assert.Equal(t, "y", string(second))
	_, ok := q.Pop()
	assert.False(t, ok)
}
