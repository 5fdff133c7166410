// Package main runs the arbitration engine server: the REST API, the
// consensus state machine and the reward ledger behind it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deedchain/arbitration_layer/internal/app/runtime"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default config.yaml)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}

	application, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("Failed to initialise application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
