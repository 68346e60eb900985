//go:build linux

package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// Standard Device Information service and System ID characteristic.
const (
	devInfoServiceUUID uint16 = 0x180A
	systemIDCharUUID   uint16 = 0x2A23
)

// BlueZ objects watched for link and power changes.
const (
	bluezAdapterPath  = "/org/bluez/hci0"
	bluezAdapterIface = "org.bluez.Adapter1"
	bluezDeviceIface  = "org.bluez.Device1"
)

// tinygoServer wraps tinygo-org/bluetooth in the peripheral role. On Linux
// this drives BlueZ over D-Bus. tinygo only reports connections while an
// advertisement runs, so link and power changes are read from BlueZ on a
// separate bus connection.
type tinygoServer struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	bus     *dbus.Conn

	// mu protects chars.
	mu    sync.Mutex
	chars [2]bluetooth.Characteristic
}

// NewPeripheral creates a Peripheral on the default Bluetooth adapter.
func NewPeripheral() *Peripheral {
	return newPeripheral(&tinygoServer{adapter: bluetooth.DefaultAdapter})
}

func (s *tinygoServer) Enable(onConnect func(connected bool), onFault func(code int)) error {
	if err := s.adapter.Enable(); err != nil {
		return err
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	for _, iface := range []string{bluezAdapterIface, bluezDeviceIface} {
		err := bus.AddMatchSignal(
			dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchArg(0, iface),
		)
		if err != nil {
			bus.Close()
			return fmt.Errorf("watch %s: %w", iface, err)
		}
	}
	err = bus.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.ObjectManager"),
		dbus.WithMatchMember("InterfacesRemoved"),
	)
	if err != nil {
		bus.Close()
		return fmt.Errorf("watch removals: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	bus.Signal(ch)
	go watchBlueZ(ch, onConnect, onFault)

	s.bus = bus
	s.adv = s.adapter.DefaultAdvertisement()
	return nil
}

// watchBlueZ turns BlueZ signals into link and fault callbacks until the
// bus connection closes.
func watchBlueZ(ch <-chan *dbus.Signal, onConnect func(bool), onFault func(int)) {
	for sig := range ch {
		change, ok := classifySignal(sig)
		if !ok {
			continue
		}
		switch change {
		case linkUp:
			onConnect(true)
		case linkDown:
			onConnect(false)
		case powerLost:
			onFault(HardwarePowerLost)
		}
	}
	slog.Debug("[BLE] BlueZ watch ended")
}

type linkChange uint8

const (
	linkUp linkChange = iota
	linkDown
	powerLost
)

const (
	sigPropertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	sigInterfacesRemoved = "org.freedesktop.DBus.ObjectManager.InterfacesRemoved"
)

// classifySignal picks out Device1 connection changes under the adapter
// and the adapter powering off or disappearing.
func classifySignal(sig *dbus.Signal) (linkChange, bool) {
	if len(sig.Body) < 2 {
		return 0, false
	}
	switch sig.Name {
	case sigPropertiesChanged:
		if !strings.HasPrefix(string(sig.Path), bluezAdapterPath) {
			return 0, false
		}
		iface, _ := sig.Body[0].(string)
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return 0, false
		}
		switch iface {
		case bluezDeviceIface:
			if up, ok := changed["Connected"].Value().(bool); ok {
				if up {
					return linkUp, true
				}
				return linkDown, true
			}
		case bluezAdapterIface:
			if on, ok := changed["Powered"].Value().(bool); ok && !on {
				return powerLost, true
			}
		}
	case sigInterfacesRemoved:
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		if path != bluezAdapterPath {
			return 0, false
		}
		for _, i := range ifaces {
			if i == bluezAdapterIface {
				return powerLost, true
			}
		}
	}
	return 0, false
}

func (s *tinygoServer) AddServices(p Params, u profileUUIDs, onWrite func(id CharID, value []byte)) error {
	systemID := p.SystemID
	var sysChar bluetooth.Characteristic
	err := s.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.New16BitUUID(devInfoServiceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &sysChar,
				UUID:   bluetooth.New16BitUUID(systemIDCharUUID),
				Value:  systemID[:],
				Flags:  bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("device information: %w", err)
	}

	svcUUID, err := bluetooth.ParseUUID(u.Service)
	if err != nil {
		return fmt.Errorf("parse service UUID: %w", err)
	}
	cmdUUID, err := bluetooth.ParseUUID(u.Cmd)
	if err != nil {
		return fmt.Errorf("parse CMD UUID: %w", err)
	}
	dataUUID, err := bluetooth.ParseUUID(u.Data)
	if err != nil {
		return fmt.Errorf("parse DATA UUID: %w", err)
	}

	flags := bluetooth.CharacteristicReadPermission |
		bluetooth.CharacteristicWritePermission |
		bluetooth.CharacteristicNotifyPermission

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &s.chars[CharCmd],
				UUID:   cmdUUID,
				Value:  []byte{0x00},
				Flags:  flags,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					onWrite(CharCmd, value)
				},
			},
			{
				Handle: &s.chars[CharData],
				UUID:   dataUUID,
				Value:  []byte{0x00},
				Flags:  flags,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					onWrite(CharData, value)
				},
			},
		},
	})
}

// Notify writes the characteristic. On BlueZ, Write runs the
// characteristic's WriteEvent with the new value before storing it; the
// Peripheral drops that echo.
func (s *tinygoServer) Notify(id CharID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.chars[id].Write(value)
	return err
}

func (s *tinygoServer) ConfigureAdvertising(a advertising) error {
	if s.adv == nil {
		return ErrNotStarted
	}
	opts := bluetooth.AdvertisementOptions{
		LocalName:    a.LocalName,
		Interval:     bluetooth.NewDuration(a.Interval),
		ServiceUUIDs: []bluetooth.UUID{bluetooth.New16BitUUID(a.ServiceUUID)},
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: a.CompanyID, Data: a.Manufacturer},
		},
	}
	return s.adv.Configure(opts)
}

func (s *tinygoServer) StartAdvertising() error {
	if s.adv == nil {
		return ErrNotStarted
	}
	return s.adv.Start()
}

func (s *tinygoServer) StopAdvertising() error {
	if s.adv == nil {
		return ErrNotStarted
	}
	return s.adv.Stop()
}
