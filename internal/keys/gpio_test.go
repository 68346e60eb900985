package keys

import (
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// fakePin is an active-low input whose edges are injected by the test.
type fakePin struct {
	name string

	mu    sync.Mutex
	level gpio.Level
	pull  gpio.Pull
	edge  gpio.Edge
	inErr error
	edges chan struct{}
}

func newFakePin(name string) *fakePin {
	return &fakePin{name: name, level: gpio.High, edges: make(chan struct{}, 4)}
}

func (p *fakePin) Name() string { return p.name }

func (p *fakePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pull = pull
	p.edge = edge
	return p.inErr
}

func (p *fakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

// press drives the pin low and signals a falling edge.
func (p *fakePin) press() {
	p.mu.Lock()
	p.level = gpio.Low
	p.mu.Unlock()
	p.edges <- struct{}{}
}

func (p *fakePin) release() {
	p.mu.Lock()
	p.level = gpio.High
	p.mu.Unlock()
}

func TestGPIOKeypadConfiguresPullUpFallingEdge(t *testing.T) {
	pin := newFakePin("GPIO5")
	k := NewGPIOKeypad(map[Code]EdgePin{Key1: pin}, 20*time.Millisecond)
	if err := k.Start(func(Code) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer k.Stop()

	pin.mu.Lock()
	defer pin.mu.Unlock()
	if pin.pull != gpio.PullUp {
		t.Errorf("pull = %v, want PullUp", pin.pull)
	}
	if pin.edge != gpio.FallingEdge {
		t.Errorf("edge = %v, want FallingEdge", pin.edge)
	}
}

func TestGPIOKeypadDeliversResolvedCode(t *testing.T) {
	one := newFakePin("GPIO5")
	ok := newFakePin("GPIO17")
	rec := &recorder{}

	k := NewGPIOKeypad(map[Code]EdgePin{Key1: one, OK: ok}, 20*time.Millisecond)
	if err := k.Start(rec.deliver); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer k.Stop()

	// Both keys held at once: OK has priority over digits.
	one.mu.Lock()
	one.level = gpio.Low
	one.mu.Unlock()
	ok.press()

	time.Sleep(150 * time.Millisecond)
	one.release()
	ok.release()

	got := rec.snapshot()
	if len(got) != 1 || got[0] != OK {
		t.Errorf("delivered %v, want [OK]", got)
	}
}

func TestGPIOKeypadNoPins(t *testing.T) {
	k := NewGPIOKeypad(nil, time.Millisecond)
	if err := k.Start(func(Code) {}); err == nil {
		t.Error("Start() with no pins should fail")
	}
	k.Stop()
}

func TestGPIOKeypadConfigureError(t *testing.T) {
	pin := newFakePin("GPIO5")
	pin.inErr = errors.New("busy")
	k := NewGPIOKeypad(map[Code]EdgePin{Key1: pin}, time.Millisecond)
	if err := k.Start(func(Code) {}); err == nil {
		t.Error("Start() should fail when a pin cannot be configured")
	}
	k.Stop()
}
