package battery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/evrs-tx/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIsLowStrict(t *testing.T) {
	tests := []struct {
		uv, threshold uint32
		want          bool
	}{
		{2_499_999, 2_500_000, true},
		{2_500_000, 2_500_000, false},
		{3_000_000, 2_500_000, false},
		{0, 1, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLow(tt.uv, tt.threshold), "IsLow(%d, %d)", tt.uv, tt.threshold)
	}
}

func TestFixed(t *testing.T) {
	m := Fixed{Supply: 3_300_000}
	assert.Equal(t, uint32(3_300_000), m.ReadMicrovolts(Supply))
	assert.Equal(t, uint32(0), m.ReadMicrovolts(Primary))
}

func TestIIOPerChannelScale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in_voltage0_raw", "1650\n")
	writeFile(t, dir, "in_voltage0_scale", "2.0\n")

	m := NewIIO(dir, 0, 1)
	assert.Equal(t, uint32(3_300_000), m.ReadMicrovolts(Supply))
}

func TestIIOSharedScale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in_voltage1_raw", "4096")
	writeFile(t, dir, "in_voltage_scale", "0.732421875")

	m := NewIIO(dir, 0, 1)
	assert.Equal(t, uint32(3_000_000), m.ReadMicrovolts(Primary))
}

func TestIIOMissingReadsZero(t *testing.T) {
	m := NewIIO(t.TempDir(), 0, 1)
	assert.Equal(t, uint32(0), m.ReadMicrovolts(Supply))
	assert.Equal(t, uint32(0), m.ReadMicrovolts(Channel(7)))
}

func TestIIOGarbageReadsZero(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in_voltage0_raw", "not a number")
	writeFile(t, dir, "in_voltage_scale", "1")

	m := NewIIO(dir, 0, 1)
	assert.Equal(t, uint32(0), m.ReadMicrovolts(Supply))
}

func TestNew(t *testing.T) {
	cfg := config.Default().Battery
	m, err := New(&cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.FixedSupplyMicrovolts, m.ReadMicrovolts(Supply))
	assert.Equal(t, cfg.FixedPrimaryMicrovolts, m.ReadMicrovolts(Primary))

	cfg.Source = "iio"
	cfg.IIODevice = t.TempDir()
	m, err = New(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &IIO{}, m)

	cfg.IIODevice = "/nonexistent/iio:device9"
	_, err = New(&cfg)
	assert.Error(t, err)

	cfg.Source = "solar"
	_, err = New(&cfg)
	assert.Error(t, err)
}
