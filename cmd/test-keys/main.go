// Command test-keys is a manual test for the keypad.
// Run it, then press keys to see the debounced codes.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-keys [--config path] [--board host|gpio]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/evrs-tx/internal/board"
	"github.com/chaz8081/evrs-tx/internal/config"
	"github.com/chaz8081/evrs-tx/internal/keys"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	kind := flag.String("board", "", "override board kind: host or gpio")
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brd, err := board.Open(cfg, cancel)
	if err != nil {
		log.Fatalf("board: %v", err)
	}

	fmt.Printf("Listening for keys on the %q board...\n", cfg.Board.Kind)
	fmt.Println("Press Ctrl+C to exit.")

	err = brd.Keys.Start(func(c keys.Code) {
		switch {
		case c == keys.Power:
			fmt.Println(">>> PWR")
		case c == keys.OK:
			fmt.Println(">>> OK")
		default:
			fmt.Printf(">>> %s (digit %d)\n", c, c.Digit())
		}
	})
	if err != nil {
		log.Fatalf("keys: %v", err)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	brd.Close()
	fmt.Println("Done.")
	os.Exit(0)
}
