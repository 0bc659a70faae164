// Package datagramqueue implements the bounded read/write FIFOs for
// unreliable QUIC datagrams, generalizing the
// teacher's channel-based datagram_queue.go into plain slice-backed FIFOs
// (with no locking of their own) so both the receive side (opaque payload + timestamp) and the send side
// (configurable overflow policy) can share the same small package.
package datagramqueue

import (
	"time"

	"github.com/qcore-go/qcore/internal/qerr"
)

// Datagram is a received, still-opaque datagram payload plus its arrival time.
type Datagram struct {
	Payload    []byte
	ReceivedAt time.Time
}

// ReadQueue is the bounded FIFO of received datagrams awaiting
// readDatagrams()/readDatagramBufs(). On overflow it drops the
// incoming datagram, since an unread backlog belongs to a slow
// application, not the network.
type ReadQueue struct {
	buf    []Datagram
	maxLen int
}

// NewReadQueue builds a queue that holds at most maxLen datagrams.
func NewReadQueue(maxLen int) *ReadQueue {
	return &ReadQueue{maxLen: maxLen}
}

// Push appends d, dropping it if the queue is already full. Returns true if
// the datagram was accepted.
func (q *ReadQueue) Push(d Datagram) bool {
	if len(q.buf) >= q.maxLen {
		return false
	}
	q.buf = append(q.buf, d)
	return true
}

// PopAtMost removes and returns up to n datagrams, oldest first. n <= 0
// means "all of them".
func (q *ReadQueue) PopAtMost(n int) []Datagram {
	if n <= 0 || n > len(q.buf) {
		n = len(q.buf)
	}
	out := q.buf[:n]
	q.buf = q.buf[n:]
	return out
}

// Len reports how many datagrams are currently buffered.
func (q *ReadQueue) Len() int { return len(q.buf) }

// WriteQueue is the bounded FIFO of outgoing datagrams awaiting a write
// opportunity. Overflow policy is configurable: when dropOldest is true,
// the oldest queued datagram is
// evicted to make room; when false, the new datagram is rejected outright
// with INVALID_WRITE_DATA.
type WriteQueue struct {
	buf        [][]byte
	maxLen     int
	dropOldest bool
}

// NewWriteQueue builds a write queue holding at most maxLen datagrams.
func NewWriteQueue(maxLen int, dropOldest bool) *WriteQueue {
	return &WriteQueue{maxLen: maxLen, dropOldest: dropOldest}
}

// Push enqueues payload for sending. If the queue is full and dropOldest is
// configured, the oldest queued payload is silently evicted; otherwise the
// push fails with INVALID_WRITE_DATA, matching writeDatagram()'s contract.
func (q *WriteQueue) Push(payload []byte) error {
	if len(q.buf) >= q.maxLen {
		if !q.dropOldest {
			return qerr.NewLocalError(qerr.InvalidWriteData, "datagram write queue is full")
		}
		q.buf = q.buf[1:]
	}
	q.buf = append(q.buf, payload)
	return nil
}

// Pop removes and returns the oldest queued payload, for the write path
// orchestrator to hand to the wire writer.
func (q *WriteQueue) Pop() ([]byte, bool) {
	if len(q.buf) == 0 {
		return nil, false
	}
	p := q.buf[0]
	q.buf = q.buf[1:]
	return p, true
}

// Len reports how many payloads are currently queued for send.
func (q *WriteQueue) Len() int { return len(q.buf) }
