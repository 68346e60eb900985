package keys

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// EdgePin is the part of a periph.io input pin the keypad needs.
// gpio.PinIO satisfies it.
type EdgePin interface {
	Name() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// edgePoll bounds how long a pin goroutine blocks before checking Stop.
const edgePoll = 100 * time.Millisecond

type keyPin struct {
	code Code
	pin  EdgePin
}

// GPIOKeypad reads active-low push buttons wired to GPIO inputs with
// pull-ups. A falling edge on any pin samples every pin, resolves the
// pressed set to one code and feeds the debouncer.
type GPIOKeypad struct {
	pins    []keyPin
	timeout time.Duration

	deb  *Debouncer
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ Source = (*GPIOKeypad)(nil)

// NewGPIOKeypad creates a keypad from a code-to-pin assignment.
func NewGPIOKeypad(pins map[Code]EdgePin, timeout time.Duration) *GPIOKeypad {
	k := &GPIOKeypad{timeout: timeout, done: make(chan struct{})}
	// Keep a stable order so sampling is deterministic.
	for c := Key1; c <= Power; c++ {
		if p, ok := pins[c]; ok && p != nil {
			k.pins = append(k.pins, keyPin{code: c, pin: p})
		}
	}
	return k
}

// Start configures the pins and starts one edge watcher per pin.
func (k *GPIOKeypad) Start(cb func(Code)) error {
	if len(k.pins) == 0 {
		return fmt.Errorf("keys: keypad has no pins")
	}
	for _, kp := range k.pins {
		if err := kp.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return fmt.Errorf("keys: configure %s for %s: %w", kp.pin.Name(), kp.code, err)
		}
	}

	k.deb = NewDebouncer(k.timeout, cb)
	for _, kp := range k.pins {
		k.wg.Add(1)
		go k.watch(kp)
	}
	slog.Info("[KEY] keypad ready", "pins", len(k.pins))
	return nil
}

func (k *GPIOKeypad) watch(kp keyPin) {
	defer k.wg.Done()
	for {
		select {
		case <-k.done:
			return
		default:
		}
		if kp.pin.WaitForEdge(edgePoll) {
			k.deb.Edge(k.sample())
		}
	}
}

// sample reads every key pin; a low level means pressed.
func (k *GPIOKeypad) sample() Code {
	var pressed []Code
	for _, kp := range k.pins {
		if kp.pin.Read() == gpio.Low {
			pressed = append(pressed, kp.code)
		}
	}
	return Resolve(pressed)
}

// Stop ends the edge watchers and cancels a pending delivery.
func (k *GPIOKeypad) Stop() {
	k.once.Do(func() {
		close(k.done)
		k.wg.Wait()
		if k.deb != nil {
			k.deb.Stop()
		}
	})
}
