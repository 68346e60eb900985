// Package advert encodes the advertising and scan response payloads of
// the transmitter as BLE length-type-value AD structures.
package advert

import (
	"errors"
	"fmt"
)

// MaxLen is the legacy advertising payload limit.
const MaxLen = 31

// AD types used by the transmitter.
const (
	TypeFlags           byte = 0x01
	TypeUUID16Partial   byte = 0x02
	TypeUUID16Complete  byte = 0x03
	TypeCompleteName    byte = 0x09
	TypeTxPower         byte = 0x0A
	TypeConnInterval    byte = 0x12
	TypeDestination     byte = 0xAF
	TypeDeviceID        byte = 0xAE
	TypeManufacturer    byte = 0xFF
	FlagsGeneralNoBREDR byte = 0x06
)

// ErrTooLong is returned when a payload exceeds MaxLen.
var ErrTooLong = errors.New("advert: payload exceeds 31 bytes")

// Field is one AD structure.
type Field struct {
	Type byte
	Data []byte
}

// Encode serializes fields as length-type-value records.
func Encode(fields []Field) ([]byte, error) {
	var buf []byte
	for _, f := range fields {
		if len(f.Data) > MaxLen-2 {
			return nil, fmt.Errorf("advert: field 0x%02x: %w", f.Type, ErrTooLong)
		}
		buf = append(buf, byte(len(f.Data)+1), f.Type)
		buf = append(buf, f.Data...)
	}
	if len(buf) > MaxLen {
		return nil, ErrTooLong
	}
	return buf, nil
}

// Data is the advertising payload.
type Data struct {
	Flags       byte
	ServiceUUID uint16
	Destination uint8
}

// Fields returns the AD structures in transmission order.
func (d Data) Fields() []Field {
	return []Field{
		{Type: TypeFlags, Data: []byte{d.Flags}},
		{Type: TypeUUID16Partial, Data: le16(d.ServiceUUID)},
		{Type: TypeDestination, Data: []byte{d.Destination}},
	}
}

// Bytes encodes the payload. It is always 10 bytes.
func (d Data) Bytes() []byte {
	b, _ := Encode(d.Fields())
	return b
}

// ScanResponse is the scan response payload.
type ScanResponse struct {
	MinConnInterval uint16
	MaxConnInterval uint16
	TxPower         int8
	DeviceID        [4]byte
}

// Fields returns the AD structures in transmission order.
func (s ScanResponse) Fields() []Field {
	interval := append(le16(s.MinConnInterval), le16(s.MaxConnInterval)...)
	return []Field{
		{Type: TypeConnInterval, Data: interval},
		{Type: TypeTxPower, Data: []byte{byte(s.TxPower)}},
		{Type: TypeDeviceID, Data: append([]byte(nil), s.DeviceID[:]...)},
	}
}

// Bytes encodes the payload. It is always 15 bytes.
func (s ScanResponse) Bytes() []byte {
	b, _ := Encode(s.Fields())
	return b
}

// Manufacturer packs the destination and device id into one
// manufacturer-specific data blob for stacks that cannot advertise
// custom AD types directly.
func Manufacturer(d Data, s ScanResponse) []byte {
	out := []byte{TypeDestination, d.Destination, TypeDeviceID}
	return append(out, s.DeviceID[:]...)
}

// Host lays out the advertisement as a host stack such as BlueZ emits it
// for d and s: flags, the complete 16-bit service list and one
// manufacturer record led by companyID. name is appended as the complete
// local name only when it fits; named reports whether it did.
func Host(d Data, s ScanResponse, companyID uint16, name string) (payload []byte, named bool, err error) {
	flags := d.Flags
	if flags == 0 {
		flags = FlagsGeneralNoBREDR
	}
	fields := []Field{
		{Type: TypeFlags, Data: []byte{flags}},
		{Type: TypeUUID16Complete, Data: le16(d.ServiceUUID)},
		{Type: TypeManufacturer, Data: append(le16(companyID), Manufacturer(d, s)...)},
	}
	if name != "" {
		b, err := Encode(append(fields, Field{Type: TypeCompleteName, Data: []byte(name)}))
		if err == nil {
			return b, true, nil
		}
	}
	payload, err = Encode(fields)
	return payload, false, err
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
