package ble

import (
	"errors"
	"sync"
	"testing"
)

var errAdvertisingRunning = errors.New("mock: advertisement is already started")

// mockServer records radio calls and lets tests drive the remote side.
type mockServer struct {
	mu sync.Mutex

	enabled     bool
	params      Params
	uuids       profileUUIDs
	adv         advertising
	advCount    int
	advertising bool
	notifies    []pendingResponse
	stops       int
	notifyErr   error
	startErr    error
	// echo makes Notify run the write callback synchronously, as
	// tinygo's BlueZ Characteristic.Write does.
	echo bool

	onConnect func(bool)
	onFault   func(int)
	onWrite   func(CharID, []byte)
}

func (s *mockServer) Enable(onConnect func(bool), onFault func(int)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	s.onConnect = onConnect
	s.onFault = onFault
	return nil
}

func (s *mockServer) AddServices(p Params, u profileUUIDs, onWrite func(CharID, []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	s.uuids = u
	s.onWrite = onWrite
	return nil
}

func (s *mockServer) Notify(id CharID, value []byte) error {
	s.mu.Lock()
	echo, onWrite := s.echo, s.onWrite
	s.mu.Unlock()
	if echo && onWrite != nil {
		onWrite(id, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.notifies = append(s.notifies, pendingResponse{id: id, value: append([]byte(nil), value...)})
	return nil
}

func (s *mockServer) ConfigureAdvertising(a advertising) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advertising {
		return errAdvertisingRunning
	}
	s.adv = a
	s.advCount++
	return nil
}

func (s *mockServer) StartAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.advertising = true
	return nil
}

func (s *mockServer) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertising = false
	s.stops++
	return nil
}

func (s *mockServer) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *mockServer) setNotifyErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyErr = err
}

func (s *mockServer) notified() []pendingResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingResponse, len(s.notifies))
	copy(out, s.notifies)
	return out
}

func (s *mockServer) advertisement() advertising {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adv
}

func (s *mockServer) isAdvertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// SimulateConnect fires the link callback as the stack would.
func (s *mockServer) SimulateConnect(connected bool) {
	s.mu.Lock()
	cb := s.onConnect
	s.mu.Unlock()
	if cb != nil {
		cb(connected)
	}
}

// SimulateFault reports a controller failure as the stack would.
func (s *mockServer) SimulateFault(code int) {
	s.mu.Lock()
	cb := s.onFault
	s.mu.Unlock()
	if cb != nil {
		cb(code)
	}
}

// SimulateWrite delivers a remote write.
func (s *mockServer) SimulateWrite(id CharID, value []byte) {
	s.mu.Lock()
	cb := s.onWrite
	s.mu.Unlock()
	if cb != nil {
		cb(id, value)
	}
}

// recordingHandler collects Handler calls.
type recordingHandler struct {
	mu       sync.Mutex
	states   []GAPState
	changed  []CharID
	enquired []CharID
}

func (h *recordingHandler) GAPStateChanged(s GAPState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
}

func (h *recordingHandler) CharacteristicChanged(id CharID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changed = append(h.changed, id)
}

func (h *recordingHandler) CharacteristicEnquired(id CharID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enquired = append(h.enquired, id)
}

func (h *recordingHandler) snapshot() (states []GAPState, changed, enquired []CharID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]GAPState(nil), h.states...),
		append([]CharID(nil), h.changed...),
		append([]CharID(nil), h.enquired...)
}

func TestMockServerImplementsInterface(t *testing.T) {
	var _ gattServer = (*mockServer)(nil)
}

func TestRecordingHandlerImplementsInterface(t *testing.T) {
	var _ Handler = (*recordingHandler)(nil)
}
