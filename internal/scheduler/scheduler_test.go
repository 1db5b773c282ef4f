package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimers_Fires(t *testing.T) {
	s := NewTimers()
	done := make(chan struct{})
	s.After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
}

func TestTimers_StopDropsPending(t *testing.T) {
	s := NewTimers()
	var fired atomic.Int32
	s.After(50*time.Millisecond, func() { fired.Add(1) })
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}
	s.Stop()
	s.After(time.Millisecond, func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("fired = %d after Stop, want 0", fired.Load())
	}
}

func TestManual_Advance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []int
	m.After(2*time.Second, func() { order = append(order, 2) })
	m.After(time.Second, func() { order = append(order, 1) })
	m.After(time.Minute, func() { order = append(order, 3) })

	m.Advance(1500 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 1.5s order = %v, want [1]", order)
	}
	m.Advance(time.Second)
	if len(order) != 2 || order[1] != 2 {
		t.Fatalf("after 2.5s order = %v, want [1 2]", order)
	}
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", m.Pending())
	}
	if got := m.Now(); !got.Equal(time.Unix(2, 500_000_000)) {
		t.Errorf("Now() = %v", got)
	}
}
