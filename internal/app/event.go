package app

import (
	"fmt"
	"log/slog"
)

// State is the application state.
type State uint8

const (
	// StateInit waits for a destination to be chosen.
	StateInit State = iota
	// StateIdle waits for user data to be entered.
	StateIdle
	// StateActive advertises until the receiver consumes the data.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// EventKind classifies an Event.
type EventKind uint8

const (
	EventGAPStateChanged EventKind = iota + 1
	EventAppStateChanged
	EventCharChanged
	EventCharEnquired
	EventKeyPressed
)

func (k EventKind) String() string {
	switch k {
	case EventGAPStateChanged:
		return "gap-state"
	case EventAppStateChanged:
		return "app-state"
	case EventCharChanged:
		return "char-changed"
	case EventCharEnquired:
		return "char-enquired"
	case EventKeyPressed:
		return "key"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one queued application event. Arg carries the GAP state,
// app state, characteristic id or key code depending on Kind.
type Event struct {
	Kind EventKind
	Arg  uint8
}

// DefaultQueueSize is the event queue capacity.
const DefaultQueueSize = 32

// Queue is a bounded FIFO of events with a wake signal. Post is safe
// from any goroutine and never blocks.
type Queue struct {
	events chan Event
	wake   chan struct{}
}

// NewQueue creates a Queue holding up to size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		events: make(chan Event, size),
		wake:   make(chan struct{}, 1),
	}
}

// Post appends e and wakes the loop. A full queue drops e and returns
// false.
func (q *Queue) Post(e Event) bool {
	select {
	case q.events <- e:
	default:
		slog.Warn("[APP] event queue full, dropping", "kind", e.Kind, "arg", e.Arg)
		return false
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Wake fires after one or more Posts.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Next pops the oldest event without blocking.
func (q *Queue) Next() (Event, bool) {
	select {
	case e := <-q.events:
		return e, true
	default:
		return Event{}, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}
