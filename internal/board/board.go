// Package board binds the keypad, LEDs and power switch to a concrete
// backend: GPIO pins through periph.io, or the desktop keyboard with
// logged LEDs for bench runs.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/chaz8081/evrs-tx/internal/config"
	"github.com/chaz8081/evrs-tx/internal/keys"
	"github.com/chaz8081/evrs-tx/internal/led"
)

// Board is the hardware the application runs on.
type Board struct {
	Keys      keys.Source
	Primary   led.Pin
	Secondary led.Pin

	powerOff func()
	cancel   context.CancelFunc
	once     sync.Once
}

// Shutdown cuts power where the board can, then cancels the process
// context. Only the first call has an effect.
func (b *Board) Shutdown() {
	b.once.Do(func() {
		slog.Info("[BOARD] shutdown requested")
		if b.powerOff != nil {
			b.powerOff()
		}
		if b.cancel != nil {
			b.cancel()
		}
	})
}

// Close releases the key source.
func (b *Board) Close() {
	if b.Keys != nil {
		b.Keys.Stop()
	}
}

// levelOut is the part of gpio.PinOut the LED and power pins need.
type levelOut interface {
	Out(l gpio.Level) error
}

// outPin is an LED on a GPIO output.
type outPin struct {
	out       levelOut
	activeLow bool
}

func (p outPin) Set(on bool) error {
	level := gpio.Level(on)
	if p.activeLow {
		level = !level
	}
	return p.out.Out(level)
}

// Open picks the backend named by cfg.Board.Kind.
func Open(cfg *config.Config, cancel context.CancelFunc) (*Board, error) {
	debounce := time.Duration(cfg.Board.DebounceMS) * time.Millisecond
	switch cfg.Board.Kind {
	case "gpio":
		return OpenGPIO(&cfg.Board, debounce, cancel)
	case "host", "":
		return OpenHost(&cfg.Host, debounce, cancel)
	default:
		return nil, fmt.Errorf("board: unknown kind %q", cfg.Board.Kind)
	}
}

// OpenGPIO initializes periph.io and claims the configured pins.
func OpenGPIO(cfg *config.BoardConfig, debounce time.Duration, cancel context.CancelFunc) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("board: periph host init: %w", err)
	}
	return openGPIO(cfg, debounce, cancel, gpioreg.ByName)
}

func openGPIO(cfg *config.BoardConfig, debounce time.Duration, cancel context.CancelFunc, byName func(string) gpio.PinIO) (*Board, error) {
	pins, err := keypadPins(cfg.Keys, byName)
	if err != nil {
		return nil, err
	}

	primary, err := outputPin(cfg.PrimaryLED, byName)
	if err != nil {
		return nil, err
	}
	secondary, err := outputPin(cfg.SecondaryLED, byName)
	if err != nil {
		return nil, err
	}

	b := &Board{
		Keys:      keys.NewGPIOKeypad(pins, debounce),
		Primary:   outPin{out: primary, activeLow: cfg.ActiveLowLEDs},
		Secondary: outPin{out: secondary, activeLow: cfg.ActiveLowLEDs},
		cancel:    cancel,
	}

	if cfg.SoftPower != "" {
		sp, err := outputPin(cfg.SoftPower, byName)
		if err != nil {
			return nil, err
		}
		// Hold the power latch while running.
		if err := sp.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("board: latch %s: %w", cfg.SoftPower, err)
		}
		b.powerOff = func() {
			if err := sp.Out(gpio.Low); err != nil {
				slog.Error("[BOARD] release power latch failed", "pin", cfg.SoftPower, "error", err)
			}
		}
	}

	slog.Info("[BOARD] gpio ready",
		"keys", len(pins),
		"primary_led", cfg.PrimaryLED,
		"secondary_led", cfg.SecondaryLED,
		"soft_power", cfg.SoftPower,
	)
	return b, nil
}

func keypadPins(cfg config.KeyPins, byName func(string) gpio.PinIO) (map[keys.Code]keys.EdgePin, error) {
	if len(cfg.Digits) != 9 {
		return nil, fmt.Errorf("board: need 9 digit key pins, got %d", len(cfg.Digits))
	}
	pins := make(map[keys.Code]keys.EdgePin, 11)
	add := func(name string, c keys.Code) error {
		p := byName(name)
		if p == nil {
			return fmt.Errorf("board: key %s pin %q not found", c, name)
		}
		pins[c] = p
		return nil
	}
	for i, name := range cfg.Digits {
		if err := add(name, keys.Key1+keys.Code(i)); err != nil {
			return nil, err
		}
	}
	if err := add(cfg.OK, keys.OK); err != nil {
		return nil, err
	}
	if err := add(cfg.Power, keys.Power); err != nil {
		return nil, err
	}
	return pins, nil
}

func outputPin(name string, byName func(string) gpio.PinIO) (gpio.PinIO, error) {
	p := byName(name)
	if p == nil {
		return nil, fmt.Errorf("board: output pin %q not found", name)
	}
	return p, nil
}

// logPin stands in for an LED on the host board.
type logPin struct {
	name string
}

func (p logPin) Set(on bool) error {
	slog.Debug("[LED] "+p.name, "on", on)
	return nil
}

// OpenHost reads the keypad from the desktop keyboard and logs LED
// changes at debug level.
func OpenHost(cfg *config.HostConfig, debounce time.Duration, cancel context.CancelFunc) (*Board, error) {
	bindings, err := keys.NewBindings(cfg.Digits, cfg.OK, cfg.Power)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	slog.Info("[BOARD] host keyboard ready", "ok", cfg.OK, "power", cfg.Power)
	return &Board{
		Keys:      keys.NewHookSource(bindings, debounce),
		Primary:   logPin{name: "primary"},
		Secondary: logPin{name: "secondary"},
		cancel:    cancel,
	}, nil
}
