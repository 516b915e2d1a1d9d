package core

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherProcessesInOrder(t *testing.T) {
	d := newDispatcher(nil)

	var mu sync.Mutex
	var got []int
	go d.run(func(e dispatchEvent) {
		mu.Lock()
		got = append(got, e.(int))
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		d.post(i)
	}
	d.stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("expected 100 events processed, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("events processed out of order at index %d: %d", i, v)
		}
	}
}

func TestDispatcherSaturationFiresOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	d := newDispatcher(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	// No consumer running: the channel fills and every post beyond its
	// capacity must trigger onSaturated, but only once.
	for i := 0; i < dispatcherQueueDepth+50; i++ {
		d.post(i)
	}

	// Drain so stop doesn't hang.
	go d.run(func(dispatchEvent) {})
	d.stop()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected onSaturated to fire exactly once, got %d", calls)
	}
}

// TestDispatcherControlBypassesSaturatedEvents exercises the fix for
// DispatcherSaturated (spec.md §7): an emergency/control signal posted
// while the main event queue is completely full must still reach handle
// promptly, not wait for the backlog to drain.
func TestDispatcherControlBypassesSaturatedEvents(t *testing.T) {
	d := newDispatcher(nil)

	for i := 0; i < dispatcherQueueDepth; i++ {
		d.post(i)
	}

	controlSeen := make(chan struct{})
	go d.run(func(e dispatchEvent) {
		if s, ok := e.(string); ok && s == "control" {
			close(controlSeen)
		}
	})

	d.postControl("control")

	select {
	case <-controlSeen:
	case <-time.After(2 * time.Second):
		t.Fatalf("control event was not processed promptly despite a saturated event queue")
	}

	d.stop()
}
