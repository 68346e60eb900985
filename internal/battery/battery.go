// Package battery measures the supply rail and the primary cell.
package battery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chaz8081/evrs-tx/internal/config"
)

// Channel selects a measured voltage.
type Channel uint8

const (
	// Supply is the regulated rail the radio runs from (VCC).
	Supply Channel = iota
	// Primary is the primary cell.
	Primary
)

func (c Channel) String() string {
	switch c {
	case Supply:
		return "supply"
	case Primary:
		return "primary"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Monitor reads voltages in microvolts. A failed read returns 0.
type Monitor interface {
	ReadMicrovolts(ch Channel) uint32
}

// IsLow reports whether uv is strictly below threshold.
func IsLow(uv, threshold uint32) bool {
	return uv < threshold
}

// New creates the Monitor selected by cfg.Source.
func New(cfg *config.BatteryConfig) (Monitor, error) {
	switch cfg.Source {
	case "fixed":
		return Fixed{
			Supply:  cfg.FixedSupplyMicrovolts,
			Primary: cfg.FixedPrimaryMicrovolts,
		}, nil
	case "iio":
		if _, err := os.Stat(cfg.IIODevice); err != nil {
			return nil, fmt.Errorf("battery: iio device: %w", err)
		}
		return NewIIO(cfg.IIODevice, cfg.SupplyChannel, cfg.PrimaryChannel), nil
	default:
		return nil, fmt.Errorf("battery: unknown source %q", cfg.Source)
	}
}

// Fixed is a Monitor that returns preset values. Missing channels read 0.
type Fixed map[Channel]uint32

func (f Fixed) ReadMicrovolts(ch Channel) uint32 {
	return f[ch]
}

// IIO reads voltages from a Linux Industrial I/O ADC through sysfs.
type IIO struct {
	dir   string
	chans [2]int
}

// NewIIO creates a Monitor for the IIO device directory dir, reading the
// supply and primary cell from the given ADC channel numbers.
func NewIIO(dir string, supply, primary int) *IIO {
	return &IIO{dir: dir, chans: [2]int{supply, primary}}
}

// ReadMicrovolts converts raw*scale (millivolts per LSB) to microvolts.
func (m *IIO) ReadMicrovolts(ch Channel) uint32 {
	if int(ch) >= len(m.chans) {
		slog.Warn("[BAT] unknown channel", "channel", ch)
		return 0
	}
	uv, err := m.read(m.chans[ch])
	if err != nil {
		slog.Warn("[BAT] read failed", "channel", ch, "error", err)
		return 0
	}
	return uv
}

func (m *IIO) read(n int) (uint32, error) {
	raw, err := readFloat(filepath.Join(m.dir, fmt.Sprintf("in_voltage%d_raw", n)))
	if err != nil {
		return 0, err
	}
	// Per-channel scale is optional; fall back to the shared one.
	scale, err := readFloat(filepath.Join(m.dir, fmt.Sprintf("in_voltage%d_scale", n)))
	if err != nil {
		scale, err = readFloat(filepath.Join(m.dir, "in_voltage_scale"))
		if err != nil {
			return 0, err
		}
	}
	uv := raw * scale * 1000
	if uv < 0 {
		return 0, fmt.Errorf("battery: negative reading %.0f uV on channel %d", uv, n)
	}
	return uint32(uv), nil
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("battery: read %s: %w", path, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("battery: parse %s: %w", path, err)
	}
	return v, nil
}
