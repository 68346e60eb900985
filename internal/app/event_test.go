package app

import "testing"

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	for i := uint8(1); i <= 3; i++ {
		if !q.Post(Event{Kind: EventKeyPressed, Arg: i}) {
			t.Fatalf("Post(%d) = false", i)
		}
	}
	select {
	case <-q.Wake():
	default:
		t.Fatal("Post should signal Wake")
	}
	for want := uint8(1); want <= 3; want++ {
		e, ok := q.Next()
		if !ok || e.Arg != want {
			t.Fatalf("Next() = %+v, %v, want arg %d", e, ok, want)
		}
	}
	if _, ok := q.Next(); ok {
		t.Error("Next() on empty queue should report false")
	}
}

func TestQueueFullDrops(t *testing.T) {
	q := NewQueue(2)
	q.Post(Event{Kind: EventKeyPressed, Arg: 1})
	q.Post(Event{Kind: EventKeyPressed, Arg: 2})
	if q.Post(Event{Kind: EventKeyPressed, Arg: 3}) {
		t.Error("Post on a full queue should report false")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestNewQueueDefaultSize(t *testing.T) {
	q := NewQueue(0)
	if cap(q.events) != DefaultQueueSize {
		t.Errorf("capacity = %d, want %d", cap(q.events), DefaultQueueSize)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateInit:   "INIT",
		StateIdle:   "IDLE",
		StateActive: "ACTIVE",
		State(9):    "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", uint8(s), got, want)
		}
	}
}
