package app

import (
	"sync"
	"time"

	"github.com/chaz8081/evrs-tx/internal/ble"
	"github.com/chaz8081/evrs-tx/internal/ble/advert"
	"github.com/chaz8081/evrs-tx/internal/keys"
	"github.com/chaz8081/evrs-tx/internal/led"
)

// fakeKeys captures the delivery callback so tests can press keys.
type fakeKeys struct {
	cb       func(keys.Code)
	startErr error
}

func (k *fakeKeys) Start(cb func(keys.Code)) error {
	if k.startErr != nil {
		return k.startErr
	}
	k.cb = cb
	return nil
}

func (k *fakeKeys) Stop() {}

func (k *fakeKeys) press(c keys.Code) {
	k.cb(c)
}

type ledCall struct {
	ch     led.Channel
	mode   led.Mode
	period time.Duration
}

// recordingLEDs remembers every Set call and the last mode per channel.
type recordingLEDs struct {
	mu    sync.Mutex
	calls []ledCall
}

func (l *recordingLEDs) Set(ch led.Channel, mode led.Mode, period time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledCall{ch, mode, period})
}

func (l *recordingLEDs) last(ch led.Channel) ledCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.calls) - 1; i >= 0; i-- {
		if l.calls[i].ch == ch && l.calls[i].mode != led.High && l.calls[i].mode != led.Low {
			return l.calls[i]
		}
	}
	return ledCall{ch: ch}
}

func (l *recordingLEDs) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

func (l *recordingLEDs) snapshot() []ledCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledCall(nil), l.calls...)
}

type fakeHalter struct {
	mu    sync.Mutex
	count int
}

func (h *fakeHalter) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
}

func (h *fakeHalter) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// mockTransport is an in-memory ble.Transport.
type mockTransport struct {
	mu sync.Mutex

	params      ble.Params
	configured  bool
	handler     ble.Handler
	advData     []advert.Data
	scanRsp     advert.ScanResponse
	advertising bool
	values      [2][]byte
	retries     int
	msgs        chan ble.StackMessage

	advErr  error
	charErr error

	// order records method names for sequence assertions.
	order []string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		values: [2][]byte{{0}, {0}},
		msgs:   make(chan ble.StackMessage, 8),
	}
}

func (t *mockTransport) record(name string) {
	t.order = append(t.order, name)
}

func (t *mockTransport) Configure(p ble.Params) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Configure")
	t.params = p
	t.configured = true
	return nil
}

func (t *mockTransport) Start(h ble.Handler) error {
	t.mu.Lock()
	t.record("Start")
	t.handler = h
	t.mu.Unlock()
	h.GAPStateChanged(ble.GAPStarted)
	return nil
}

func (t *mockTransport) SetAdvertData(d advert.Data) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SetAdvertData")
	if t.advErr != nil {
		return t.advErr
	}
	t.advData = append(t.advData, d)
	return nil
}

func (t *mockTransport) SetScanResponse(s advert.ScanResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SetScanResponse")
	t.scanRsp = s
	return nil
}

func (t *mockTransport) SetAdvertisingEnabled(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertising = on
	return nil
}

func (t *mockTransport) SetCharacteristic(id ble.CharID, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.charErr != nil {
		return t.charErr
	}
	t.values[id] = append([]byte(nil), value...)
	return nil
}

func (t *mockTransport) Characteristic(id ble.CharID) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.values[id]...)
}

func (t *mockTransport) Messages() <-chan ble.StackMessage {
	return t.msgs
}

func (t *mockTransport) RetryPendingResponse() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Retry")
	t.retries++
}

func (t *mockTransport) value(id ble.CharID) byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[id][0]
}

func (t *mockTransport) isAdvertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertising
}

func (t *mockTransport) lastAdvert() advert.Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.advData) == 0 {
		return advert.Data{}
	}
	return t.advData[len(t.advData)-1]
}

// remoteWrite simulates the central writing a characteristic.
func (t *mockTransport) remoteWrite(id ble.CharID, value byte) {
	t.mu.Lock()
	t.values[id] = []byte{value}
	h := t.handler
	t.mu.Unlock()
	if value == 0 {
		h.CharacteristicEnquired(id)
		return
	}
	h.CharacteristicChanged(id)
}
