// Package keys provides the debounced keypad of the transmitter. A key
// source turns physical presses into one Code per press, delivered after
// a fixed debounce window. Sources exist for the desktop keyboard (gohook)
// and for GPIO keypads (periph.io).
package keys

import (
	"fmt"
	"time"
)

// Code identifies a single resolved key press.
type Code uint8

const (
	None  Code = 0x00
	Key1  Code = 0x01
	Key2  Code = 0x02
	Key3  Code = 0x03
	Key4  Code = 0x04
	Key5  Code = 0x05
	Key6  Code = 0x06
	Key7  Code = 0x07
	Key8  Code = 0x08
	Key9  Code = 0x09
	OK    Code = 0x0A
	Power Code = 0x0B
)

// DebounceTimeout is the delay between a physical edge and the callback.
const DebounceTimeout = 500 * time.Millisecond

// IsDigit reports whether c is one of the number keys 1-9.
func (c Code) IsDigit() bool {
	return c >= Key1 && c <= Key9
}

// Digit returns the number printed on a digit key, or 0.
func (c Code) Digit() uint8 {
	if !c.IsDigit() {
		return 0
	}
	return uint8(c)
}

func (c Code) String() string {
	switch {
	case c == None:
		return "none"
	case c == OK:
		return "OK"
	case c == Power:
		return "PWR"
	case c.IsDigit():
		return fmt.Sprintf("S%d", uint8(c))
	default:
		return fmt.Sprintf("0x%02x", uint8(c))
	}
}

// Resolve collapses keys held at the same time into one code.
// Priority: Power > OK > highest-numbered digit.
func Resolve(pressed []Code) Code {
	best := None
	for _, c := range pressed {
		if rank(c) > rank(best) {
			best = c
		}
	}
	return best
}

func rank(c Code) int {
	switch {
	case c == Power:
		return 11
	case c == OK:
		return 10
	case c.IsDigit():
		return int(c)
	default:
		return 0
	}
}

// Source delivers debounced key codes to a callback. The callback runs on
// the source's timer goroutine and must only hand the code off.
type Source interface {
	// Start begins delivering key codes to cb. It does not block.
	Start(cb func(Code)) error
	// Stop releases the source. It is safe to call multiple times.
	Stop()
}
