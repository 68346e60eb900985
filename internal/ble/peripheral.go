package ble

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/evrs-tx/internal/ble/advert"
)

// advertising is the platform-neutral advertisement handed to a server.
type advertising struct {
	LocalName    string
	ServiceUUID  uint16
	Interval     time.Duration
	CompanyID    uint16
	Manufacturer []byte
	// Payload is the legacy PDU the fields above encode to.
	Payload []byte
}

// gattServer is the radio backend of a Peripheral. Its callbacks may run
// synchronously inside any of its methods.
type gattServer interface {
	// Enable powers on the radio. onConnect reports link changes for the
	// lifetime of the server and onFault reports controller failures.
	Enable(onConnect func(connected bool), onFault func(code int)) error
	// AddServices registers Device Information and the ETX profile.
	// onWrite receives every write to CMD or DATA.
	AddServices(p Params, uuids profileUUIDs, onWrite func(id CharID, value []byte)) error
	// Notify stores value in the characteristic and notifies subscribers.
	Notify(id CharID, value []byte) error
	ConfigureAdvertising(a advertising) error
	StartAdvertising() error
	StopAdvertising() error
}

// profileUUIDs are the 128-bit forms of the configured 16-bit ids.
type profileUUIDs struct {
	Service string
	Cmd     string
	Data    string
}

// pendingResponse is a notification the stack refused.
type pendingResponse struct {
	id    CharID
	value []byte
}

// Peripheral implements Transport on top of a gattServer.
type Peripheral struct {
	srv  gattServer
	msgs chan StackMessage

	// op serializes calls into srv. Callbacks from srv only take mu, and
	// mu is never held across a srv call.
	op sync.Mutex

	mu          sync.Mutex
	params      Params
	configured  bool
	started     bool
	handler     Handler
	uuids       profileUUIDs
	values      [2][]byte
	local       [2]bool // local value being written; its echo is ignored
	advData     advert.Data
	scanRsp     advert.ScanResponse
	advertising bool // last state the server accepted
	connected   bool
	pending     *pendingResponse
	retryStop   chan struct{}
}

var _ Transport = (*Peripheral)(nil)

func newPeripheral(srv gattServer) *Peripheral {
	return &Peripheral{
		srv:    srv,
		msgs:   make(chan StackMessage, 16),
		values: [2][]byte{{0x00}, {0x00}},
	}
}

// Configure validates and stores the role parameters. It must be called
// before Start.
func (p *Peripheral) Configure(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	uuids, err := expandProfile(params)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("ble: configure after start")
	}
	p.params = params
	p.uuids = uuids
	p.configured = true
	slog.Info("[BLE] configured",
		"name", params.DeviceName,
		"service", uuids.Service,
		"adv_interval", params.AdvInterval(),
		"conn_interval", fmt.Sprintf("%d..%d", params.MinConnInterval, params.MaxConnInterval),
		"latency", params.SlaveLatency,
		"timeout", params.ConnTimeout,
		"pairing", params.Bond.Mode != PairingDisabled,
	)
	return nil
}

// Start enables the radio, registers the services and pushes the staged
// advertisement with advertising off. h receives GAPStarted on success.
func (p *Peripheral) Start(h Handler) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if !p.configured {
		p.mu.Unlock()
		return fmt.Errorf("ble: start before configure")
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	params, uuids := p.params, p.uuids
	p.handler = h
	p.mu.Unlock()

	if err := p.srv.Enable(p.onConnect, p.onFault); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	if err := p.srv.AddServices(params, uuids, p.onWrite); err != nil {
		return fmt.Errorf("ble: add services: %w", err)
	}

	p.mu.Lock()
	p.started = true
	a, err := p.buildLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if err := p.pushAdvertising(a, false); err != nil {
		return err
	}

	slog.Info("[BLE] services registered")
	h.GAPStateChanged(GAPStarted)
	return nil
}

// SetAdvertData stages the advertising payload and pushes it to the
// server once started. A rejected payload leaves the previous one active.
func (p *Peripheral) SetAdvertData(d advert.Data) error {
	return p.stage(func() func() {
		prev := p.advData
		p.advData = d
		return func() { p.advData = prev }
	})
}

// SetScanResponse stages the scan response payload like SetAdvertData.
func (p *Peripheral) SetScanResponse(s advert.ScanResponse) error {
	return p.stage(func() func() {
		prev := p.scanRsp
		p.scanRsp = s
		return func() { p.scanRsp = prev }
	})
}

// stage applies a payload change under mu, rebuilds the advertisement
// and pushes it. The change is reverted when either step fails.
func (p *Peripheral) stage(apply func() (revert func())) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	revert := apply()
	a, err := p.buildLocked()
	started, running := p.started, p.advertising
	if err != nil || !started {
		if err != nil {
			revert()
		}
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if err := p.pushAdvertising(a, running); err != nil {
		p.mu.Lock()
		revert()
		p.mu.Unlock()
		return err
	}
	return nil
}

// buildLocked lays out the advertisement from the staged payloads.
// Caller holds p.mu.
func (p *Peripheral) buildLocked() (advertising, error) {
	a, err := buildAdvertising(p.params, p.advData, p.scanRsp)
	if err != nil {
		return a, err
	}
	slog.Debug("[BLE] advertisement built",
		"adv_data", fmt.Sprintf("%x", p.advData.Bytes()),
		"scan_rsp", fmt.Sprintf("%x", p.scanRsp.Bytes()),
		"pdu", fmt.Sprintf("%x", a.Payload),
		"name", a.LocalName,
	)
	return a, nil
}

// pushAdvertising reconfigures the server, restarting the advertisement
// if it was running. Caller holds p.op.
func (p *Peripheral) pushAdvertising(a advertising, running bool) error {
	if running {
		if err := p.srv.StopAdvertising(); err != nil {
			return fmt.Errorf("ble: stop advertising: %w", err)
		}
	}
	if err := p.srv.ConfigureAdvertising(a); err != nil {
		if running {
			p.setAdvertising(false)
		}
		return fmt.Errorf("ble: configure advertising: %w", err)
	}
	if running {
		if err := p.srv.StartAdvertising(); err != nil {
			p.setAdvertising(false)
			return fmt.Errorf("ble: start advertising: %w", err)
		}
	}
	return nil
}

func (p *Peripheral) setAdvertising(on bool) {
	p.mu.Lock()
	p.advertising = on
	p.mu.Unlock()
}

// SetAdvertisingEnabled starts or stops advertising and reports the
// resulting GAP state.
func (p *Peripheral) SetAdvertisingEnabled(on bool) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	started, current := p.started, p.advertising
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if current == on {
		return nil
	}

	var err error
	if on {
		err = p.srv.StartAdvertising()
	} else {
		err = p.srv.StopAdvertising()
	}
	if err != nil {
		return fmt.Errorf("ble: set advertising %v: %w", on, err)
	}

	p.mu.Lock()
	p.advertising = on
	connected, h := p.connected, p.handler
	p.mu.Unlock()

	slog.Info("[BLE] advertising", "enabled", on)
	h.GAPStateChanged(gapState(connected, on))
	return nil
}

// SetCharacteristic stores a one-byte value and notifies the central. A
// notification refused while connected is held and retried on each
// connection event.
func (p *Peripheral) SetCharacteristic(id CharID, value []byte) error {
	if id != CharCmd && id != CharData {
		return fmt.Errorf("ble: unknown characteristic %s", id)
	}
	if len(value) != ValueLen {
		return fmt.Errorf("ble: %s value length %d: %w", id, len(value), ErrInvalidValue)
	}

	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	v := append([]byte(nil), value...)
	p.values[id] = v
	p.local[id] = true
	p.mu.Unlock()

	err := p.srv.Notify(id, v)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.local[id] = false
	if err != nil {
		if !p.connected {
			slog.Debug("[BLE] notify without central", "char", id, "error", err)
			return nil
		}
		slog.Warn("[BLE] notify refused, holding response", "char", id, "error", err)
		p.pending = &pendingResponse{id: id, value: v}
		p.startRetryLocked()
	}
	return nil
}

// Characteristic returns a copy of the current value of id.
func (p *Peripheral) Characteristic(id CharID) []byte {
	if id != CharCmd && id != CharData {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[id]...)
}

// Messages returns the stack message channel read by the application loop.
func (p *Peripheral) Messages() <-chan StackMessage {
	return p.msgs
}

// RetryPendingResponse resends a held notification. It is a no-op when
// nothing is held.
func (p *Peripheral) RetryPendingResponse() {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	held := p.pending
	if held == nil {
		p.mu.Unlock()
		return
	}
	p.local[held.id] = true
	p.mu.Unlock()

	err := p.srv.Notify(held.id, held.value)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.local[held.id] = false
	if err != nil {
		slog.Debug("[BLE] retry refused", "char", held.id, "error", err)
		return
	}
	slog.Info("[BLE] held response sent", "char", held.id)
	if p.pending == held {
		p.dropPendingLocked()
	}
}

// post hands a message to the application loop without blocking.
func (p *Peripheral) post(m StackMessage) {
	select {
	case p.msgs <- m:
	default:
		slog.Warn("[BLE] stack message dropped", "kind", m.Kind)
	}
}

// startRetryLocked ticks StackConnEventEnd at the connection interval
// while a response is held. Caller holds p.mu.
func (p *Peripheral) startRetryLocked() {
	if p.retryStop != nil {
		return
	}
	interval := p.params.ConnInterval()
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	stop := make(chan struct{})
	p.retryStop = stop
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				p.post(StackMessage{Kind: StackConnEventEnd})
			}
		}
	}()
}

func (p *Peripheral) dropPendingLocked() {
	p.pending = nil
	if p.retryStop != nil {
		close(p.retryStop)
		p.retryStop = nil
	}
}

// HasPendingResponse reports whether a refused notification is held.
func (p *Peripheral) HasPendingResponse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

func gapState(connected, advertising bool) GAPState {
	switch {
	case connected && advertising:
		return GAPConnectedAdvertising
	case connected:
		return GAPConnected
	case advertising:
		return GAPAdvertising
	default:
		return GAPWaiting
	}
}

// onConnect tracks the link. Advertising state is left as the server
// last accepted it; BlueZ keeps a registered advertisement across
// connections.
func (p *Peripheral) onConnect(connected bool) {
	p.mu.Lock()
	if p.connected == connected {
		p.mu.Unlock()
		return
	}
	p.connected = connected
	if !connected {
		p.dropPendingLocked()
	}
	adv, h := p.advertising, p.handler
	p.mu.Unlock()

	if connected {
		slog.Info("[BLE] central connected")
	} else {
		slog.Info("[BLE] central disconnected")
	}
	if h != nil {
		h.GAPStateChanged(gapState(connected, adv))
	}
}

// onWrite classifies a remote write. A single zero byte means the
// central consumed the value; anything else is a new value. The server
// echo of a local SetCharacteristic is dropped.
func (p *Peripheral) onWrite(id CharID, value []byte) {
	if id != CharCmd && id != CharData {
		return
	}
	p.mu.Lock()
	if p.local[id] {
		p.mu.Unlock()
		return
	}
	if len(value) != ValueLen {
		p.mu.Unlock()
		slog.Warn("[BLE] rejected write", "char", id, "len", len(value))
		return
	}
	p.values[id] = append([]byte(nil), value...)
	h := p.handler
	p.mu.Unlock()

	if h == nil {
		return
	}
	if bytes.Equal(value, []byte{0x00}) {
		h.CharacteristicEnquired(id)
		return
	}
	h.CharacteristicChanged(id)
}

// onFault reports a controller failure to the application loop.
func (p *Peripheral) onFault(code int) {
	slog.Error("[BLE] hardware error", "code", code)
	p.post(StackMessage{Kind: StackHardwareError, Value: code})
}

// expandUUID places a 16-bit id into bytes 2-3 of a 128-bit base UUID.
func expandUUID(base string, short uint16) (string, error) {
	u, err := uuid.Parse(base)
	if err != nil {
		return "", fmt.Errorf("ble: parse base UUID: %w", err)
	}
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u.String(), nil
}

func expandProfile(p Params) (profileUUIDs, error) {
	var out profileUUIDs
	var err error
	if out.Service, err = expandUUID(p.BaseUUID, p.ServiceUUID); err != nil {
		return out, err
	}
	if out.Cmd, err = expandUUID(p.BaseUUID, p.CmdUUID); err != nil {
		return out, err
	}
	if out.Data, err = expandUUID(p.BaseUUID, p.DataUUID); err != nil {
		return out, err
	}
	return out, nil
}

// buildAdvertising maps the advertising and scan response payloads onto
// what a host stack accepts. An unstaged service id falls back to the
// configured one.
func buildAdvertising(p Params, d advert.Data, s advert.ScanResponse) (advertising, error) {
	if d.ServiceUUID == 0 {
		d.ServiceUUID = p.ServiceUUID
	}
	payload, named, err := advert.Host(d, s, p.CompanyID, p.DeviceName)
	if err != nil {
		return advertising{}, fmt.Errorf("ble: advertisement: %w", err)
	}
	a := advertising{
		ServiceUUID:  d.ServiceUUID,
		Interval:     p.AdvInterval(),
		CompanyID:    p.CompanyID,
		Manufacturer: advert.Manufacturer(d, s),
		Payload:      payload,
	}
	if named {
		a.LocalName = p.DeviceName
	}
	return a, nil
}
