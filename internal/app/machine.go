// Package app runs the transmitter: the INIT/IDLE/ACTIVE state machine,
// its event queue and the boot sequence that wires the collaborators.
package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/evrs-tx/internal/battery"
	"github.com/chaz8081/evrs-tx/internal/ble"
	"github.com/chaz8081/evrs-tx/internal/ble/advert"
	"github.com/chaz8081/evrs-tx/internal/config"
	"github.com/chaz8081/evrs-tx/internal/devid"
	"github.com/chaz8081/evrs-tx/internal/keys"
	"github.com/chaz8081/evrs-tx/internal/led"
	"github.com/chaz8081/evrs-tx/internal/nvstore"
)

var (
	// ErrBatteryFloor is returned by Boot when the supply is too low to run.
	ErrBatteryFloor = errors.New("app: supply voltage below floor")
	// ErrHalted is returned by Run after a shutdown request.
	ErrHalted = errors.New("app: halted")
)

// LED periods per state.
const (
	initLowBatteryFlash = 500 * time.Millisecond
	initIdleFlash       = 2000 * time.Millisecond
	idleFlash           = 1000 * time.Millisecond
	activeFlash         = 100 * time.Millisecond
)

// Halter powers the board down.
type Halter interface {
	Shutdown()
}

// Options tunes the machine.
type Options struct {
	BootPause       time.Duration
	FloorMicrovolts uint32
	LowMicrovolts   uint32
	QueueSize       int
	Params          ble.Params
}

// DefaultOptions returns the stock timings and thresholds.
func DefaultOptions() Options {
	return NewOptions(config.Default())
}

// NewOptions builds Options from the loaded configuration.
func NewOptions(cfg *config.Config) Options {
	return Options{
		BootPause:       time.Duration(cfg.Board.BootPauseMS) * time.Millisecond,
		FloorMicrovolts: cfg.Battery.FloorMicrovolts,
		LowMicrovolts:   cfg.Battery.LowMicrovolts,
		QueueSize:       DefaultQueueSize,
		Params:          ble.NewParams(&cfg.BLE),
	}
}

// Deps are the collaborators the machine drives.
type Deps struct {
	Keys      keys.Source
	LEDs      led.Controller
	Battery   battery.Monitor
	Store     nvstore.Store
	Transport ble.Transport
	Halter    Halter
	// Rand mints the device id. Defaults to crypto/rand.
	Rand io.Reader
}

// Machine owns the application state. Events are handled one at a time
// on the Run goroutine; collaborators only post to its queue.
type Machine struct {
	deps  Deps
	opts  Options
	queue *Queue

	mu         sync.Mutex
	state      State
	dest       uint8
	userData   uint8
	deviceID   devid.ID
	batteryLow bool
	adv        advert.Data
	scanRsp    advert.ScanResponse
	halted     bool
}

// New creates a Machine in StateInit.
func New(deps Deps, opts Options) (*Machine, error) {
	switch {
	case deps.Keys == nil:
		return nil, fmt.Errorf("app: missing key source")
	case deps.LEDs == nil:
		return nil, fmt.Errorf("app: missing LEDs")
	case deps.Battery == nil:
		return nil, fmt.Errorf("app: missing battery monitor")
	case deps.Store == nil:
		return nil, fmt.Errorf("app: missing store")
	case deps.Transport == nil:
		return nil, fmt.Errorf("app: missing transport")
	case deps.Halter == nil:
		return nil, fmt.Errorf("app: missing halter")
	}
	if deps.Rand == nil {
		deps.Rand = rand.Reader
	}
	return &Machine{
		deps:  deps,
		opts:  opts,
		queue: NewQueue(opts.QueueSize),
		state: StateInit,
		adv: advert.Data{
			Flags:       advert.FlagsGeneralNoBREDR,
			ServiceUUID: opts.Params.ServiceUUID,
		},
		scanRsp: advert.ScanResponse{
			MinConnInterval: opts.Params.MinConnInterval,
			MaxConnInterval: opts.Params.MaxConnInterval,
			TxPower:         opts.Params.TxPower,
		},
	}, nil
}

// Queue returns the machine's event queue.
func (m *Machine) Queue() *Queue {
	return m.queue
}

// State returns the current application state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DestinationID returns the selected destination, 0 when none.
func (m *Machine) DestinationID() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dest
}

// UserData returns the entered response value, 0 when none.
func (m *Machine) UserData() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userData
}

// DeviceID returns the id loaded at boot.
func (m *Machine) DeviceID() devid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// BatteryLow reports whether the primary cell was low at boot.
func (m *Machine) BatteryLow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batteryLow
}

// postKey is the key source callback.
func (m *Machine) postKey(c keys.Code) {
	m.queue.Post(Event{Kind: EventKeyPressed, Arg: uint8(c)})
}

func (m *Machine) postState(s State) {
	m.queue.Post(Event{Kind: EventAppStateChanged, Arg: uint8(s)})
}

// stackHandler forwards transport callbacks into the queue.
type stackHandler struct {
	q *Queue
}

func (h stackHandler) GAPStateChanged(s ble.GAPState) {
	h.q.Post(Event{Kind: EventGAPStateChanged, Arg: uint8(s)})
}

func (h stackHandler) CharacteristicChanged(id ble.CharID) {
	h.q.Post(Event{Kind: EventCharChanged, Arg: uint8(id)})
}

func (h stackHandler) CharacteristicEnquired(id ble.CharID) {
	h.q.Post(Event{Kind: EventCharEnquired, Arg: uint8(id)})
}

// dispatch handles one event. Caller holds m.mu.
func (m *Machine) dispatch(e Event) {
	switch e.Kind {
	case EventGAPStateChanged:
		m.handleGAPState(ble.GAPState(e.Arg))
	case EventAppStateChanged:
		m.enterState(State(e.Arg))
	case EventCharChanged:
		m.handleCharChanged(ble.CharID(e.Arg))
	case EventCharEnquired:
		m.handleCharEnquired(ble.CharID(e.Arg))
	case EventKeyPressed:
		m.handleKey(keys.Code(e.Arg))
	default:
		slog.Debug("[APP] dropping unknown event", "kind", e.Kind)
	}
}

func (m *Machine) handleGAPState(s ble.GAPState) {
	switch s {
	case ble.GAPStarted:
		slog.Info("[APP] stack started")
		m.postState(StateInit)
	case ble.GAPWaiting, ble.GAPWaitingAfterTimeout:
		slog.Info("[APP] link down", "gap", s)
	case ble.GAPError:
		slog.Warn("[APP] stack reported error state")
	default:
		slog.Info("[APP] gap state", "gap", s)
	}
}

// enterState runs the entry actions of s.
func (m *Machine) enterState(s State) {
	switch s {
	case StateInit:
		m.dest = 0
		m.adv.Destination = 0
		m.userData = 0
		if err := m.deps.Transport.SetCharacteristic(ble.CharData, []byte{0}); err != nil {
			slog.Warn("[APP] clear DATA failed", "error", err)
		}
		m.setAdvertising(false)
		if m.batteryLow {
			m.deps.LEDs.Set(led.Primary, led.Flash, initLowBatteryFlash)
		} else {
			m.deps.LEDs.Set(led.Primary, led.LowFlash, initIdleFlash)
		}
		m.deps.LEDs.Set(led.Secondary, led.Off, 0)
	case StateIdle:
		m.setAdvertising(false)
		m.deps.LEDs.Set(led.Secondary, led.LowFlash, idleFlash)
	case StateActive:
		m.setAdvertising(true)
		m.deps.LEDs.Set(led.Secondary, led.Flash, activeFlash)
	default:
		slog.Debug("[APP] dropping unknown state", "state", s)
		return
	}
	prev := m.state
	m.state = s
	slog.Info("[APP] state", "from", prev, "to", s)
}

func (m *Machine) setAdvertising(on bool) {
	if err := m.deps.Transport.SetAdvertisingEnabled(on); err != nil {
		slog.Warn("[APP] set advertising failed", "enabled", on, "error", err)
	}
}

func (m *Machine) handleKey(c keys.Code) {
	slog.Debug("[APP] key", "key", c, "state", m.state)
	m.deps.LEDs.Set(led.Primary, led.High, 0)

	switch m.state {
	case StateInit:
		m.keyInit(c)
	case StateIdle:
		m.keyIdle(c)
	case StateActive:
	}

	m.deps.LEDs.Set(led.Primary, led.Low, 0)

	if c == keys.Power {
		slog.Info("[APP] power key, shutting down")
		m.enterState(StateInit)
		m.deps.LEDs.Set(led.Primary, led.Off, 0)
		m.deps.LEDs.Set(led.Secondary, led.Off, 0)
		m.halt()
	}
}

func (m *Machine) keyInit(c keys.Code) {
	switch {
	case c.IsDigit():
		m.dest = c.Digit()
		m.adv.Destination = m.dest
		slog.Info("[APP] destination selected", "dest", m.dest)
	case c == keys.OK:
		if m.dest == 0 {
			return
		}
		if err := m.deps.Transport.SetAdvertData(m.adv); err != nil {
			slog.Warn("[APP] advert update rejected", "dest", m.dest, "error", err)
			return
		}
		m.postState(StateIdle)
	}
}

func (m *Machine) keyIdle(c keys.Code) {
	switch {
	case c.IsDigit():
		m.userData = c.Digit()
		slog.Info("[APP] user data entered", "data", m.userData)
	case c == keys.OK:
		if m.userData == 0 {
			return
		}
		if err := m.deps.Transport.SetCharacteristic(ble.CharData, []byte{m.userData}); err != nil {
			slog.Warn("[APP] DATA update rejected", "data", m.userData, "error", err)
			return
		}
		m.postState(StateActive)
	}
}

func (m *Machine) handleCharEnquired(id ble.CharID) {
	switch id {
	case ble.CharCmd:
		slog.Info("[APP] CMD enquired")
		if err := m.deps.Transport.SetCharacteristic(ble.CharCmd, []byte{0}); err != nil {
			slog.Warn("[APP] clear CMD failed", "error", err)
		}
	case ble.CharData:
		slog.Info("[APP] DATA enquired", "data", m.userData)
		m.userData = 0
		if err := m.deps.Transport.SetCharacteristic(ble.CharData, []byte{0}); err != nil {
			slog.Warn("[APP] clear DATA failed", "error", err)
		}
		m.postState(StateIdle)
	default:
		slog.Debug("[APP] enquiry on unknown characteristic", "char", id)
	}
}

func (m *Machine) handleCharChanged(id ble.CharID) {
	v := m.deps.Transport.Characteristic(id)
	slog.Info("[APP] characteristic changed", "char", id, "value", fmt.Sprintf("%x", v))
}

func (m *Machine) handleStack(msg ble.StackMessage) {
	switch msg.Kind {
	case ble.StackConnEventEnd:
		m.deps.Transport.RetryPendingResponse()
	case ble.StackHardwareError:
		slog.Error("[APP] radio hardware error, halting", "code", msg.Value)
		m.mu.Lock()
		m.deps.LEDs.Set(led.Primary, led.Off, 0)
		m.deps.LEDs.Set(led.Secondary, led.Off, 0)
		m.halt()
		m.mu.Unlock()
	default:
		slog.Debug("[APP] dropping unknown stack message", "kind", msg.Kind)
	}
}

// halt requests power-down once. Caller holds m.mu.
func (m *Machine) halt() {
	if m.halted {
		return
	}
	m.halted = true
	m.deps.Halter.Shutdown()
}

func (m *Machine) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}
