//go:build !linux

package ble

// NewPeripheral returns a Peripheral whose radio calls all fail with
// ErrUnsupported. GATT server support in tinygo-org/bluetooth is only
// wired up for BlueZ.
func NewPeripheral() *Peripheral {
	return newPeripheral(unsupportedServer{})
}

type unsupportedServer struct{}

func (unsupportedServer) Enable(func(bool), func(int)) error { return ErrUnsupported }

func (unsupportedServer) AddServices(Params, profileUUIDs, func(CharID, []byte)) error {
	return ErrUnsupported
}

func (unsupportedServer) Notify(CharID, []byte) error { return ErrUnsupported }

func (unsupportedServer) ConfigureAdvertising(advertising) error { return ErrUnsupported }

func (unsupportedServer) StartAdvertising() error { return ErrUnsupported }

func (unsupportedServer) StopAdvertising() error { return ErrUnsupported }
