package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Board    BoardConfig    `yaml:"board"`
	Host     HostConfig     `yaml:"host"`
	BLE      BLEConfig      `yaml:"ble"`
	Battery  BatteryConfig  `yaml:"battery"`
	Identity IdentityConfig `yaml:"identity"`
	LogLevel string         `yaml:"log_level"`
}

// BoardConfig selects the board backend and its pin assignment.
type BoardConfig struct {
	Kind          string  `yaml:"kind"` // "host" or "gpio"
	DebounceMS    int     `yaml:"debounce_ms"`
	BootPauseMS   int     `yaml:"boot_pause_ms"`
	Keys          KeyPins `yaml:"keys"`
	PrimaryLED    string  `yaml:"primary_led"`
	SecondaryLED  string  `yaml:"secondary_led"`
	SoftPower     string  `yaml:"soft_power"`
	ActiveLowLEDs bool    `yaml:"active_low_leds"`
}

// KeyPins maps keypad keys to GPIO pin names (periph.io names, e.g. "GPIO12").
type KeyPins struct {
	Digits []string `yaml:"digits"` // index 0 is key 1
	OK     string   `yaml:"ok"`
	Power  string   `yaml:"power"`
}

// HostConfig holds the desktop key bindings used by the host board.
type HostConfig struct {
	Digits []string `yaml:"digits"` // index 0 is key 1
	OK     string   `yaml:"ok"`
	Power  string   `yaml:"power"`
}

// BLEConfig holds GAP/GATT parameters for the peripheral role.
type BLEConfig struct {
	DeviceName          string `yaml:"device_name"`
	ServiceUUID         uint16 `yaml:"service_uuid"`
	CmdUUID             uint16 `yaml:"cmd_uuid"`
	DataUUID            uint16 `yaml:"data_uuid"`
	BaseUUID            string `yaml:"base_uuid"` // 128-bit base the 16-bit ids expand into
	CompanyID           uint16 `yaml:"company_id"`
	AdvertisingInterval uint16 `yaml:"advertising_interval"` // units of 625us
	MinConnInterval     uint16 `yaml:"min_conn_interval"`    // units of 1.25ms
	MaxConnInterval     uint16 `yaml:"max_conn_interval"`    // units of 1.25ms
	SlaveLatency        uint16 `yaml:"slave_latency"`
	ConnTimeout         uint16 `yaml:"conn_timeout"`          // units of 10ms
	ConnPausePeripheral uint16 `yaml:"conn_pause_peripheral"` // seconds
	TxPower             int8   `yaml:"tx_power"`              // dBm
}

// BatteryConfig holds the battery monitor backend and its thresholds.
type BatteryConfig struct {
	Source                 string `yaml:"source"` // "fixed" or "iio"
	IIODevice              string `yaml:"iio_device"`
	SupplyChannel          int    `yaml:"supply_channel"`
	PrimaryChannel         int    `yaml:"primary_channel"`
	FloorMicrovolts        uint32 `yaml:"floor_microvolts"`
	LowMicrovolts          uint32 `yaml:"low_microvolts"`
	FixedSupplyMicrovolts  uint32 `yaml:"fixed_supply_microvolts"`
	FixedPrimaryMicrovolts uint32 `yaml:"fixed_primary_microvolts"`
}

// IdentityConfig holds the location of the non-volatile store.
type IdentityConfig struct {
	StoreDir string `yaml:"store_dir"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "evrs-tx")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
// Pin names follow the Raspberry Pi header numbering.
func Default() *Config {
	home, _ := os.UserHomeDir()
	storeDir := filepath.Join(home, ".local", "share", "evrs-tx", "nv")

	return &Config{
		Board: BoardConfig{
			Kind:        "host",
			DebounceMS:  500,
			BootPauseMS: 500,
			Keys: KeyPins{
				Digits: []string{"GPIO5", "GPIO6", "GPIO12", "GPIO13", "GPIO16", "GPIO19", "GPIO20", "GPIO21", "GPIO26"},
				OK:     "GPIO17",
				Power:  "GPIO27",
			},
			PrimaryLED:   "GPIO23",
			SecondaryLED: "GPIO24",
			SoftPower:    "GPIO25",
		},
		Host: HostConfig{
			Digits: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"},
			OK:     "enter",
			Power:  "esc",
		},
		BLE: BLEConfig{
			DeviceName:          "EVRS Transmitter",
			ServiceUUID:         0xFFF0,
			CmdUUID:             0xFFF1,
			DataUUID:            0xFFF2,
			BaseUUID:            "00000000-0000-1000-8000-00805f9b34fb",
			CompanyID:           0xFFFF,
			AdvertisingInterval: 160,
			MinConnInterval:     32,
			MaxConnInterval:     80,
			SlaveLatency:        0,
			ConnTimeout:         500,
			ConnPausePeripheral: 6,
			TxPower:             0,
		},
		Battery: BatteryConfig{
			Source:                 "fixed",
			IIODevice:              "/sys/bus/iio/devices/iio:device0",
			SupplyChannel:          0,
			PrimaryChannel:         1,
			FloorMicrovolts:        3000 * 1000,
			LowMicrovolts:          2500 * 1000,
			FixedSupplyMicrovolts:  3300 * 1000,
			FixedPrimaryMicrovolts: 3000 * 1000,
		},
		Identity: IdentityConfig{
			StoreDir: storeDir,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Identity.StoreDir = expandTilde(cfg.Identity.StoreDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Board.Kind {
	case "host":
		if len(c.Host.Digits) != 9 {
			return fmt.Errorf("host.digits must list 9 keys, got %d", len(c.Host.Digits))
		}
		if c.Host.OK == "" || c.Host.Power == "" {
			return fmt.Errorf("host.ok and host.power must not be empty")
		}
	case "gpio":
		if len(c.Board.Keys.Digits) != 9 {
			return fmt.Errorf("board.keys.digits must list 9 pins, got %d", len(c.Board.Keys.Digits))
		}
		if c.Board.Keys.OK == "" || c.Board.Keys.Power == "" {
			return fmt.Errorf("board.keys.ok and board.keys.power must not be empty")
		}
		if c.Board.PrimaryLED == "" || c.Board.SecondaryLED == "" {
			return fmt.Errorf("board.primary_led and board.secondary_led must not be empty")
		}
		if c.Board.SoftPower == "" {
			return fmt.Errorf("board.soft_power must not be empty")
		}
	default:
		return fmt.Errorf("board.kind must be \"host\" or \"gpio\", got %q", c.Board.Kind)
	}

	if c.Board.DebounceMS <= 0 {
		return fmt.Errorf("board.debounce_ms must be > 0")
	}
	if c.Board.BootPauseMS < 0 {
		return fmt.Errorf("board.boot_pause_ms must be >= 0")
	}

	if c.BLE.DeviceName == "" {
		return fmt.Errorf("ble.device_name must not be empty")
	}
	if _, err := uuid.Parse(c.BLE.BaseUUID); err != nil {
		return fmt.Errorf("ble.base_uuid: %w", err)
	}
	if c.BLE.ServiceUUID == 0 || c.BLE.CmdUUID == 0 || c.BLE.DataUUID == 0 {
		return fmt.Errorf("ble.service_uuid, ble.cmd_uuid and ble.data_uuid must be non-zero")
	}
	if c.BLE.CmdUUID == c.BLE.DataUUID {
		return fmt.Errorf("ble.cmd_uuid and ble.data_uuid must differ")
	}
	if c.BLE.AdvertisingInterval < 0x0020 || c.BLE.AdvertisingInterval > 0x4000 {
		return fmt.Errorf("ble.advertising_interval must be between 32 and 16384, got %d", c.BLE.AdvertisingInterval)
	}
	if c.BLE.MinConnInterval < 6 || c.BLE.MaxConnInterval > 3200 {
		return fmt.Errorf("ble connection interval must be within 6..3200, got %d..%d", c.BLE.MinConnInterval, c.BLE.MaxConnInterval)
	}
	if c.BLE.MinConnInterval > c.BLE.MaxConnInterval {
		return fmt.Errorf("ble.min_conn_interval (%d) must not exceed ble.max_conn_interval (%d)", c.BLE.MinConnInterval, c.BLE.MaxConnInterval)
	}
	if c.BLE.ConnTimeout < 10 || c.BLE.ConnTimeout > 3200 {
		return fmt.Errorf("ble.conn_timeout must be within 10..3200, got %d", c.BLE.ConnTimeout)
	}

	switch c.Battery.Source {
	case "fixed":
	case "iio":
		if c.Battery.IIODevice == "" {
			return fmt.Errorf("battery.iio_device must not be empty for the iio source")
		}
		if c.Battery.SupplyChannel < 0 || c.Battery.PrimaryChannel < 0 {
			return fmt.Errorf("battery channels must be >= 0")
		}
	default:
		return fmt.Errorf("battery.source must be \"fixed\" or \"iio\", got %q", c.Battery.Source)
	}
	if c.Battery.LowMicrovolts == 0 {
		return fmt.Errorf("battery.low_microvolts must be > 0")
	}
	if c.Battery.FloorMicrovolts == 0 {
		return fmt.Errorf("battery.floor_microvolts must be > 0")
	}

	if c.Identity.StoreDir == "" {
		return fmt.Errorf("identity.store_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// defaultHeader is written at the top of a generated config file.
const defaultHeader = `# evrs-tx configuration
# board.kind: "host" uses the desktop keyboard and logs LED changes,
# "gpio" drives the keypad, LEDs and soft power pin through periph.io.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config file
// already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	content := append([]byte(defaultHeader), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
