// Command test-leds is a manual test for the indicator LEDs.
// It steps both channels through every pattern the transmitter uses.
//
// Usage:
//
//	go run ./cmd/test-leds [--config path] [--board host|gpio] [--step 3s]
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/chaz8081/evrs-tx/internal/board"
	"github.com/chaz8081/evrs-tx/internal/config"
	"github.com/chaz8081/evrs-tx/internal/led"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	kind := flag.String("board", "", "override board kind: host or gpio")
	step := flag.Duration("step", 3*time.Second, "time spent on each pattern")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *kind != "" {
		cfg.Board.Kind = *kind
	}

	// Host LEDs only log at debug level.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	brd, err := board.Open(cfg, func() {})
	if err != nil {
		log.Fatalf("board: %v", err)
	}
	defer brd.Close()

	in := led.New(brd.Primary, brd.Secondary)
	defer in.Close()

	patterns := []struct {
		name   string
		mode   led.Mode
		period time.Duration
	}{
		{"on", led.On, 0},
		{"off", led.Off, 0},
		{"flash 100ms (ACTIVE)", led.Flash, 100 * time.Millisecond},
		{"flash 500ms (INIT, battery low)", led.Flash, 500 * time.Millisecond},
		{"lowflash 1s (IDLE)", led.LowFlash, time.Second},
		{"lowflash 2s (INIT)", led.LowFlash, 2 * time.Second},
	}

	for _, ch := range []led.Channel{led.Primary, led.Secondary} {
		for _, p := range patterns {
			fmt.Printf("%-9s %s\n", ch, p.name)
			in.Set(ch, p.mode, p.period)
			time.Sleep(*step)
		}
		in.Set(ch, led.Off, 0)
	}

	fmt.Println("\nDone!")
}
