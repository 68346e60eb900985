// Package devid loads or mints the persistent four-byte device id that
// identifies a transmitter in its scan response and System ID.
package devid

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chaz8081/evrs-tx/internal/nvstore"
)

const (
	// NVItem is the store item holding the id.
	NVItem uint8 = 0x80
	// Prefix marks a valid id in its last byte.
	Prefix byte = 0x95
	// Len is the id length in bytes.
	Len = 4
)

// ID is a device id. ID[3] equals Prefix for a minted id; the zero ID
// means the store was unusable.
type ID [Len]byte

// IsZero reports whether id is the all-zero fallback.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Valid reports whether id carries the expected prefix.
func (id ID) Valid() bool {
	return id[Len-1] == Prefix
}

func (id ID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X", id[0], id[1], id[2], id[3])
}

// Uint32 returns the id as a little-endian integer.
func (id ID) Uint32() uint32 {
	return uint32(id[0]) | uint32(id[1])<<8 | uint32(id[2])<<16 | uint32(id[3])<<24
}

// Load returns the stored device id, minting and persisting a new one
// when the item is absent or lacks the prefix. A new id is three bytes
// from rand followed by Prefix. Store failures return the zero ID.
func Load(store nvstore.Store, rand io.Reader) ID {
	var id ID

	b, err := store.Read(NVItem, Len)
	switch {
	case err == nil:
		copy(id[:], b)
		if id.Valid() {
			slog.Info("[DEVID] loaded", "id", id)
			return id
		}
		slog.Info("[DEVID] stored id has no prefix, minting", "stored", id)
	case errors.Is(err, nvstore.ErrNotFound):
		slog.Info("[DEVID] no stored id, minting")
	default:
		slog.Error("[DEVID] store read failed", "error", err)
		return ID{}
	}

	var fresh ID
	if _, err := io.ReadFull(rand, fresh[:Len-1]); err != nil {
		slog.Error("[DEVID] random source failed", "error", err)
		return ID{}
	}
	fresh[Len-1] = Prefix

	if err := store.Write(NVItem, fresh[:]); err != nil {
		slog.Error("[DEVID] store write failed", "error", err)
		return ID{}
	}

	// Read back so the returned id is exactly what persisted.
	b, err = store.Read(NVItem, Len)
	if err != nil {
		slog.Error("[DEVID] store read-back failed", "error", err)
		return ID{}
	}
	copy(id[:], b)
	slog.Info("[DEVID] minted", "id", id)
	return id
}

// systemIDPrefix is the fixed OUI-style head of the System ID.
var systemIDPrefix = [4]byte{0x45, 0x54, 0x58, 0x00}

// SystemID builds the eight-byte Device Information System ID.
func SystemID(id ID) [8]byte {
	var out [8]byte
	copy(out[:4], systemIDPrefix[:])
	copy(out[4:], id[:])
	return out
}
