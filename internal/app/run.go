package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/evrs-tx/internal/battery"
	"github.com/chaz8081/evrs-tx/internal/devid"
	"github.com/chaz8081/evrs-tx/internal/led"
)

// Boot brings the transmitter up: keys, LED self-test, supply check,
// device id, radio configuration and service registration. On success
// the stack's Started notification is queued and Run enters INIT.
func (m *Machine) Boot(ctx context.Context) error {
	if err := m.deps.Keys.Start(m.postKey); err != nil {
		return fmt.Errorf("app: start keys: %w", err)
	}

	leds := m.deps.LEDs
	leds.Set(led.Primary, led.Off, 0)
	leds.Set(led.Secondary, led.Off, 0)
	leds.Set(led.Primary, led.On, 0)
	leds.Set(led.Secondary, led.On, 0)

	if m.opts.BootPause > 0 {
		t := time.NewTimer(m.opts.BootPause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	vcc := m.deps.Battery.ReadMicrovolts(battery.Supply)
	slog.Info("[APP] supply", "uv", vcc)
	if battery.IsLow(vcc, m.opts.FloorMicrovolts) {
		slog.Error("[APP] supply below floor, shutting down", "uv", vcc, "floor", m.opts.FloorMicrovolts)
		leds.Set(led.Primary, led.Off, 0)
		leds.Set(led.Secondary, led.Off, 0)
		m.mu.Lock()
		m.halt()
		m.mu.Unlock()
		return ErrBatteryFloor
	}

	id := devid.Load(m.deps.Store, m.deps.Rand)
	params := m.opts.Params
	params.SystemID = devid.SystemID(id)

	m.mu.Lock()
	m.deviceID = id
	m.scanRsp.DeviceID = id
	scanRsp, adv := m.scanRsp, m.adv
	m.mu.Unlock()

	tr := m.deps.Transport
	if err := tr.Configure(params); err != nil {
		return fmt.Errorf("app: configure radio: %w", err)
	}
	if err := tr.SetScanResponse(scanRsp); err != nil {
		return fmt.Errorf("app: set scan response: %w", err)
	}
	if err := tr.SetAdvertData(adv); err != nil {
		return fmt.Errorf("app: set advert data: %w", err)
	}
	if err := tr.Start(stackHandler{q: m.queue}); err != nil {
		return fmt.Errorf("app: start radio: %w", err)
	}

	primary := m.deps.Battery.ReadMicrovolts(battery.Primary)
	low := battery.IsLow(primary, m.opts.LowMicrovolts)
	m.mu.Lock()
	m.batteryLow = low
	m.mu.Unlock()

	slog.Info("[APP] initialized", "device_id", id, "battery_uv", primary, "battery_low", low)
	return nil
}

// Run processes stack messages and queued events until ctx is cancelled
// or the machine halts. On each wake one pending stack message is
// handled before the queued events are drained in FIFO order.
func (m *Machine) Run(ctx context.Context) error {
	msgs := m.deps.Transport.Messages()
	for {
		if m.isHalted() {
			return ErrHalted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			m.handleStack(msg)
		case <-m.queue.Wake():
			select {
			case msg := <-msgs:
				m.handleStack(msg)
			default:
			}
		}
		m.drain()
	}
}

// drain handles every queued event, including ones posted while
// draining.
func (m *Machine) drain() {
	for {
		if m.isHalted() {
			return
		}
		e, ok := m.queue.Next()
		if !ok {
			return
		}
		m.mu.Lock()
		m.dispatch(e)
		m.mu.Unlock()
	}
}
