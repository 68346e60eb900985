package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/chaz8081/evrs-tx/internal/app"
	"github.com/chaz8081/evrs-tx/internal/battery"
	"github.com/chaz8081/evrs-tx/internal/ble"
	"github.com/chaz8081/evrs-tx/internal/board"
	"github.com/chaz8081/evrs-tx/internal/config"
	"github.com/chaz8081/evrs-tx/internal/led"
	"github.com/chaz8081/evrs-tx/internal/nvstore"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/evrs-tx/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogger(cfg.LogLevel)
	printBanner(cfg)

	// Signal handling cancels the run context; so does the power key.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brd, err := board.Open(cfg, cancel)
	if err != nil {
		log.Fatalf("Failed to open board: %v", err)
	}
	leds := led.New(brd.Primary, brd.Secondary)

	// log.Fatalf and os.Exit skip deferred calls, so every exit path
	// after this point goes through release.
	release := func() {
		leds.Close()
		brd.Close()
	}
	fatalf := func(format string, args ...any) {
		release()
		log.Fatalf(format, args...)
	}

	mon, err := battery.New(&cfg.Battery)
	if err != nil {
		fatalf("Failed to open battery monitor: %v", err)
	}

	store, err := nvstore.NewFileStore(cfg.Identity.StoreDir)
	if err != nil {
		fatalf("Failed to open identity store: %v\n\nCheck that %s is writable.", err, cfg.Identity.StoreDir)
	}

	machine, err := app.New(app.Deps{
		Keys:      brd.Keys,
		LEDs:      leds,
		Battery:   mon,
		Store:     store,
		Transport: ble.NewPeripheral(),
		Halter:    brd,
	}, app.NewOptions(cfg))
	if err != nil {
		fatalf("app: %v", err)
	}

	if err := machine.Boot(ctx); err != nil {
		if errors.Is(err, app.ErrBatteryFloor) {
			log.Printf("Supply too low, powering off")
			release()
			os.Exit(1)
		}
		fatalf("Boot failed: %v\n\nOn Linux the peripheral role needs BlueZ running and permission to use it.", err)
	}

	log.Printf("Ready! Device %s. Ctrl+C to quit.", machine.DeviceID())

	err = machine.Run(ctx)
	switch {
	case errors.Is(err, app.ErrHalted):
		log.Println("Powered off")
	case errors.Is(err, context.Canceled):
		log.Println("Goodbye!")
	default:
		fatalf("run: %v", err)
	}
	release()
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// setupLogger installs the default slog logger at the configured level
// and tags every record with a per-boot session id.
func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h).With("session", uuid.NewString()))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== evrs-tx ===")
	fmt.Printf("  Board:    %s\n", cfg.Board.Kind)
	fmt.Printf("  Name:     %s\n", cfg.BLE.DeviceName)
	fmt.Printf("  Service:  0x%04X (CMD 0x%04X, DATA 0x%04X)\n", cfg.BLE.ServiceUUID, cfg.BLE.CmdUUID, cfg.BLE.DataUUID)
	fmt.Printf("  Battery:  %s\n", cfg.Battery.Source)
	fmt.Printf("  Store:    %s\n", cfg.Identity.StoreDir)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
