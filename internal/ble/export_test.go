package ble

// NewTestPeripheral returns a Peripheral on an in-memory server that
// echoes local writes through the write callback the way BlueZ does.
func NewTestPeripheral() (*Peripheral, *mockServer) {
	srv := &mockServer{echo: true}
	return newPeripheral(srv), srv
}

// Advertising reports whether the server is advertising.
func (s *mockServer) Advertising() bool { return s.isAdvertising() }

// NotifyCount returns how many notifications the server accepted.
func (s *mockServer) NotifyCount() int { return len(s.notified()) }
