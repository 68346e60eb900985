package keys

import (
	"sync"
	"time"
)

// Debouncer delays key delivery until edges have settled. Every edge
// records its sampled code and restarts a one-shot timer; when the timer
// expires the last non-None code is delivered once.
type Debouncer struct {
	timeout time.Duration
	deliver func(Code)

	mu      sync.Mutex
	pending Code
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer that calls deliver after timeout.
// A non-positive timeout falls back to DebounceTimeout.
func NewDebouncer(timeout time.Duration, deliver func(Code)) *Debouncer {
	if timeout <= 0 {
		timeout = DebounceTimeout
	}
	return &Debouncer{timeout: timeout, deliver: deliver}
}

// Edge records a sampled code and (re)starts the debounce timer.
func (d *Debouncer) Edge(c Code) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if c != None {
		d.pending = c
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.timeout, d.fire)
		return
	}
	d.timer.Reset(d.timeout)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	c := d.pending
	d.pending = None
	stopped := d.stopped
	d.mu.Unlock()

	if stopped || c == None || d.deliver == nil {
		return
	}
	d.deliver(c)
}

// Stop cancels a pending delivery. Later edges are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
