// Package ble provides the BLE peripheral side of the transmitter. It
// advertises the destination and device id, serves the CMD and DATA
// characteristics of the ETX profile and reports link changes to the
// application.
package ble

import (
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/evrs-tx/internal/ble/advert"
	"github.com/chaz8081/evrs-tx/internal/config"
)

// ValueLen is the size of the CMD and DATA characteristic values.
const ValueLen = 1

var (
	// ErrNotStarted is returned by calls that need registered services.
	ErrNotStarted = errors.New("ble: transport not started")
	// ErrInvalidValue is returned when a characteristic value is rejected.
	ErrInvalidValue = errors.New("ble: invalid characteristic value")
	// ErrUnsupported is returned on platforms without peripheral support.
	ErrUnsupported = errors.New("ble: peripheral role not supported on this platform")
)

// CharID selects a profile characteristic.
type CharID uint8

const (
	CharCmd CharID = iota
	CharData
)

func (c CharID) String() string {
	switch c {
	case CharCmd:
		return "CMD"
	case CharData:
		return "DATA"
	default:
		return fmt.Sprintf("char(%d)", uint8(c))
	}
}

// GAPState is the link layer role state reported by the stack.
type GAPState uint8

const (
	GAPStarted GAPState = iota
	GAPAdvertising
	GAPConnected
	GAPConnectedAdvertising
	GAPWaiting
	GAPWaitingAfterTimeout
	GAPError
)

func (s GAPState) String() string {
	switch s {
	case GAPStarted:
		return "started"
	case GAPAdvertising:
		return "advertising"
	case GAPConnected:
		return "connected"
	case GAPConnectedAdvertising:
		return "connected-advertising"
	case GAPWaiting:
		return "waiting"
	case GAPWaitingAfterTimeout:
		return "waiting-after-timeout"
	case GAPError:
		return "error"
	default:
		return fmt.Sprintf("gap(%d)", uint8(s))
	}
}

// Handler receives stack notifications. Implementations must not block;
// they are called from stack goroutines.
type Handler interface {
	GAPStateChanged(state GAPState)
	// CharacteristicChanged reports a remote write of a new value.
	CharacteristicChanged(id CharID)
	// CharacteristicEnquired reports that the remote consumed a value by
	// writing 0x00 back. The consumer acknowledges it by clearing the
	// value with SetCharacteristic.
	CharacteristicEnquired(id CharID)
}

// StackMessageKind classifies a StackMessage.
type StackMessageKind uint8

const (
	// StackConnEventEnd marks the end of a connection event. A held
	// response may be retried.
	StackConnEventEnd StackMessageKind = iota
	// StackHardwareError reports that the controller failed. Value holds
	// the error code.
	StackHardwareError
)

// HardwarePowerLost is the StackHardwareError code for a controller that
// powered off or was removed.
const HardwarePowerLost = 0x01

func (k StackMessageKind) String() string {
	switch k {
	case StackConnEventEnd:
		return "conn-event-end"
	case StackHardwareError:
		return "hardware-error"
	default:
		return fmt.Sprintf("stack(%d)", uint8(k))
	}
}

// StackMessage is a message from the stack to the application loop.
type StackMessage struct {
	Kind  StackMessageKind
	Value int
}

// PairingMode controls the bond manager.
type PairingMode uint8

const (
	PairingDisabled PairingMode = iota
	PairingWaitForRequest
	PairingInitiate
)

// IOCapability is the pairing IO capability.
type IOCapability uint8

const (
	IODisplayOnly IOCapability = iota
	IODisplayYesNo
	IOKeyboardOnly
	IONoInputNoOutput
	IOKeyboardDisplay
)

// BondParams configures pairing and bonding.
type BondParams struct {
	Mode     PairingMode
	MITM     bool
	IO       IOCapability
	Bonding  bool
	Passcode uint32
}

// DefaultBondParams disables pairing and bonding.
func DefaultBondParams() BondParams {
	return BondParams{
		Mode:     PairingDisabled,
		MITM:     false,
		IO:       IONoInputNoOutput,
		Bonding:  false,
		Passcode: 0,
	}
}

// Params configures the peripheral role.
type Params struct {
	DeviceName  string
	ServiceUUID uint16
	CmdUUID     uint16
	DataUUID    uint16
	BaseUUID    string
	CompanyID   uint16

	AdvertisingInterval uint16 // 0.625 ms units
	MinConnInterval     uint16 // 1.25 ms units
	MaxConnInterval     uint16 // 1.25 ms units
	SlaveLatency        uint16
	ConnTimeout         uint16 // 10 ms units
	ConnPause           uint16 // seconds before a parameter update request
	TxPower             int8

	Bond     BondParams
	SystemID [8]byte
}

// NewParams builds Params from the BLE configuration section.
func NewParams(cfg *config.BLEConfig) Params {
	return Params{
		DeviceName:          cfg.DeviceName,
		ServiceUUID:         cfg.ServiceUUID,
		CmdUUID:             cfg.CmdUUID,
		DataUUID:            cfg.DataUUID,
		BaseUUID:            cfg.BaseUUID,
		CompanyID:           cfg.CompanyID,
		AdvertisingInterval: cfg.AdvertisingInterval,
		MinConnInterval:     cfg.MinConnInterval,
		MaxConnInterval:     cfg.MaxConnInterval,
		SlaveLatency:        cfg.SlaveLatency,
		ConnTimeout:         cfg.ConnTimeout,
		ConnPause:           cfg.ConnPausePeripheral,
		TxPower:             cfg.TxPower,
		Bond:                DefaultBondParams(),
	}
}

// AdvInterval returns the advertising interval as a duration.
func (p Params) AdvInterval() time.Duration {
	return time.Duration(p.AdvertisingInterval) * 625 * time.Microsecond
}

// ConnInterval returns the minimum connection interval as a duration.
func (p Params) ConnInterval() time.Duration {
	return time.Duration(p.MinConnInterval) * 1250 * time.Microsecond
}

// Validate checks Params before they reach the stack.
func (p Params) Validate() error {
	if p.ServiceUUID == 0 || p.CmdUUID == 0 || p.DataUUID == 0 {
		return errors.New("ble: service and characteristic UUIDs must be non-zero")
	}
	if p.CmdUUID == p.DataUUID {
		return errors.New("ble: CMD and DATA UUIDs must differ")
	}
	if p.AdvertisingInterval == 0 {
		return errors.New("ble: advertising interval must be non-zero")
	}
	if p.MinConnInterval == 0 || p.MinConnInterval > p.MaxConnInterval {
		return fmt.Errorf("ble: invalid connection interval range %d..%d", p.MinConnInterval, p.MaxConnInterval)
	}
	if p.Bond.Mode != PairingDisabled || p.Bond.Bonding {
		return errors.New("ble: pairing and bonding are not supported")
	}
	return nil
}

// Transport is the BLE peripheral as seen by the application.
type Transport interface {
	// Configure applies role parameters. It must precede Start.
	Configure(p Params) error
	// Start registers the GATT services and begins reporting to h.
	Start(h Handler) error
	SetAdvertData(d advert.Data) error
	SetScanResponse(s advert.ScanResponse) error
	SetAdvertisingEnabled(on bool) error
	// SetCharacteristic stores a value and notifies a connected central.
	SetCharacteristic(id CharID, value []byte) error
	// Characteristic returns a copy of the current value.
	Characteristic(id CharID) []byte
	// Messages delivers stack messages to the application loop.
	Messages() <-chan StackMessage
	// RetryPendingResponse resends a notification the stack refused.
	RetryPendingResponse()
}
