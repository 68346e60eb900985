// Package led drives the two indicator LEDs of the transmitter. Each
// channel holds a mode: steady off or on, a symmetric flash, or a short
// burst followed by a long off period.
package led

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Channel selects one of the LEDs.
type Channel uint8

const (
	Primary Channel = iota
	Secondary
)

func (c Channel) String() string {
	switch c {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Mode is the pattern a channel follows.
type Mode uint8

const (
	// Off turns the LED off and cancels any pattern.
	Off Mode = iota
	// On turns the LED on and cancels any pattern.
	On
	// High drives the LED on without changing the current pattern.
	High
	// Low drives the LED off without changing the current pattern.
	Low
	// Flash toggles the LED every period.
	Flash
	// LowFlash turns the LED on for LowFlashBurst, then off for period.
	LowFlash
	// Toggle inverts the current level and cancels any pattern.
	Toggle
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case On:
		return "on"
	case High:
		return "high"
	case Low:
		return "low"
	case Flash:
		return "flash"
	case LowFlash:
		return "lowflash"
	case Toggle:
		return "toggle"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// LowFlashBurst is the on-time of one LowFlash cycle.
const LowFlashBurst = 50 * time.Millisecond

// Pin is a single LED output.
type Pin interface {
	Set(on bool) error
}

// Controller is what the application needs from the LEDs.
type Controller interface {
	Set(ch Channel, mode Mode, period time.Duration)
}

type channel struct {
	pin    Pin
	mode   Mode
	period time.Duration
	level  bool
	timer  *time.Timer
	// gen invalidates timers scheduled for an earlier pattern.
	gen uint64
}

// Indicator owns both LED channels and runs their patterns on timers.
type Indicator struct {
	mu  sync.Mutex
	chs [2]channel
}

var _ Controller = (*Indicator)(nil)

// New creates an Indicator for the two pins and turns both off.
func New(primary, secondary Pin) *Indicator {
	in := &Indicator{}
	in.chs[Primary].pin = primary
	in.chs[Secondary].pin = secondary
	in.Set(Primary, Off, 0)
	in.Set(Secondary, Off, 0)
	return in
}

// Set applies mode to ch. period is used by Flash and LowFlash and
// ignored otherwise.
func (in *Indicator) Set(ch Channel, mode Mode, period time.Duration) {
	if int(ch) >= len(in.chs) {
		slog.Warn("[LED] unknown channel", "channel", ch)
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	c := &in.chs[ch]

	switch mode {
	case High:
		c.drive(ch, true)
		return
	case Low:
		c.drive(ch, false)
		return
	}

	c.cancel()
	c.mode = mode
	c.period = period

	switch mode {
	case Off:
		c.drive(ch, false)
	case On:
		c.drive(ch, true)
	case Toggle:
		c.drive(ch, !c.level)
	case Flash, LowFlash:
		if period <= 0 {
			slog.Warn("[LED] pattern needs a period, turning off", "channel", ch, "mode", mode)
			c.mode = Off
			c.drive(ch, false)
			return
		}
		c.drive(ch, true)
		next := period
		if mode == LowFlash {
			next = LowFlashBurst
		}
		in.schedule(ch, next)
	default:
		slog.Warn("[LED] unknown mode", "channel", ch, "mode", mode)
	}
}

// schedule arms the next pattern step. Caller holds in.mu.
func (in *Indicator) schedule(ch Channel, after time.Duration) {
	c := &in.chs[ch]
	gen := c.gen
	c.timer = time.AfterFunc(after, func() { in.step(ch, gen) })
}

func (in *Indicator) step(ch Channel, gen uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := &in.chs[ch]
	if c.gen != gen {
		return
	}

	switch c.mode {
	case Flash:
		c.drive(ch, !c.level)
		in.schedule(ch, c.period)
	case LowFlash:
		if c.level {
			c.drive(ch, false)
			in.schedule(ch, c.period)
		} else {
			c.drive(ch, true)
			in.schedule(ch, LowFlashBurst)
		}
	}
}

// Mode returns the pattern currently set on ch.
func (in *Indicator) Mode(ch Channel) Mode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.chs[ch].mode
}

// Level reports whether ch is currently lit.
func (in *Indicator) Level(ch Channel) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.chs[ch].level
}

// Close stops all patterns and turns both LEDs off.
func (in *Indicator) Close() {
	in.Set(Primary, Off, 0)
	in.Set(Secondary, Off, 0)
}

func (c *channel) cancel() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *channel) drive(ch Channel, on bool) {
	c.level = on
	if c.pin == nil {
		return
	}
	if err := c.pin.Set(on); err != nil {
		slog.Warn("[LED] set failed", "channel", ch, "on", on, "error", err)
	}
}
