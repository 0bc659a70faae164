package flowcontrol

import (
	"testing"
	"time"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCreditDecreasesAsBytesSent(t *testing.T) {
	c := NewConnController(1000, 4000, 10000, nil)
	assert.EqualValues(t, 1000, c.SendCredit())
	c.AddBytesSent(400)
	assert.EqualValues(t, 600, c.SendCredit())
}

// Scenario 4: connection window at 0, register a pending-write callback,
// then grant +4096 bytes of credit — handled at the API layer, but the
// controller arithmetic underneath must report the transition correctly.
func TestUpdateSendWindowUnblocks(t *testing.T) {
	c := NewConnController(0, 4096, 10000, nil)
	require.True(t, c.IsBlocked())
	c.UpdateSendWindow(4096)
	assert.False(t, c.IsBlocked())
	assert.EqualValues(t, 4096, c.SendCredit())
}

func TestUpdateSendWindowIsMonotone(t *testing.T) {
	c := NewConnController(1000, 4000, 10000, nil)
	c.UpdateSendWindow(500) // smaller than current window: no-op
	assert.EqualValues(t, 1000, c.SendCredit())
	c.UpdateSendWindow(2000)
	assert.EqualValues(t, 2000, c.SendCredit())
}

func TestBufferSpaceAvailableFloorsAtZero(t *testing.T) {
	c := NewConnController(1000, 4000, 100, nil)
	s := NewStreamController(1, 1000, 4000, nil)
	c.Register(s)
	s.SetBufferLen(500) // exceeds totalBufferSpace of 100
	assert.EqualValues(t, 0, c.BufferSpaceAvailable())
}

func TestGateMaxWritableOnStreamTakesMinimum(t *testing.T) {
	c := NewConnController(1000, 4000, 50, nil)
	s := NewStreamController(1, 20, 4000, nil)
	c.Register(s)

	g := Gate{}
	// conn buffer headroom (50) > stream credit (20): stream credit wins.
	assert.EqualValues(t, 20, g.MaxWritableOnStream(s, c, 0))
}

func TestGateBackpressureFactorBounds(t *testing.T) {
	c := NewConnController(10000, 40000, 10000, nil)
	s := NewStreamController(1, 10000, 40000, nil)
	c.Register(s)
	s.SetBufferLen(300)

	g := Gate{BackpressureFactor: 1.0}
	// M*ccWritable - buffered = 1.0*200 - 300 = -100 -> floored at 0.
	assert.EqualValues(t, 0, g.MaxWritableOnConn(c, 200))
}

func TestWindowAutoTuneDoublesIncrementUnderFastConsumption(t *testing.T) {
	rtt := func() time.Duration { return time.Millisecond }
	c := NewConnController(1000, 100000, 10000, rtt)
	c.AddBytesRead(1) // seeds lastWindowUpdateTime
	c.AddBytesRead(800)
	offset, updated := c.MaybeWindowUpdate()
	require.True(t, updated)
	assert.Greater(t, int64(offset), int64(801))
}

func TestFlowControlViolationDetected(t *testing.T) {
	s := NewStreamController(1, 100, 1000, nil)
	assert.False(t, s.FlowControlViolation())
	s.SetHighestReceived(101)
	assert.True(t, s.FlowControlViolation())
}

func TestUnregisterRemovesFromBufferSum(t *testing.T) {
	c := NewConnController(1000, 4000, 10000, nil)
	s := NewStreamController(protocol.StreamID(3), 1000, 4000, nil)
	c.Register(s)
	s.SetBufferLen(50)
	assert.EqualValues(t, 50, c.SumCurStreamBufferLen())
	c.Unregister(s.ID())
	assert.EqualValues(t, 0, c.SumCurStreamBufferLen())
}
