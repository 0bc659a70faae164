package looper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunCollapsesIntoOneIteration(t *testing.T) {
	l := New("read")
	l.Run()
	l.Run()
	l.Run()

	select {
	case <-l.Chan():
	default:
		t.Fatal("expected a pending iteration")
	}
	select {
	case <-l.Chan():
		t.Fatal("expected no second pending iteration")
	default:
	}
}

func TestStopDiscardsPending(t *testing.T) {
	l := New("peek")
	l.Run()
	l.Stop()
	select {
	case <-l.Chan():
		t.Fatal("Stop should discard the pending iteration")
	default:
	}
	l.Run()
	select {
	case <-l.Chan():
		t.Fatal("Run after Stop should be ignored")
	default:
	}
	assert.False(t, l.Running())
}

func TestResumeReenablesScheduling(t *testing.T) {
	l := New("read")
	l.Stop()
	l.Resume()
	assert.True(t, l.Running())
	l.Run()
	select {
	case <-l.Chan():
	default:
		t.Fatal("expected a pending iteration after Resume")
	}
}

func TestWriteLooperPacingDelay(t *testing.T) {
	w := NewWriteLooper(nil)
	assert.Equal(t, time.Duration(0), w.PacingDelay())

	w.SetPacingDelay(func() time.Duration { return 42 * time.Millisecond })
	assert.Equal(t, 42*time.Millisecond, w.PacingDelay())
}
