package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/invoke-ai/launcher/internal/infrastructure/config"
	"github.com/invoke-ai/launcher/internal/infrastructure/server"
)

func main() {
	host := flag.String("host", "", "Bind address (overrides LAUNCHER_HOST)")
	port := flag.String("port", "", "Bind port (overrides LAUNCHER_PORT)")
	flag.Parse()

	// Malformed environment values fall back to defaults; the daemon is the
	// UI shell's only backend and must come up regardless.
	cfg := config.LoadOrDefault()
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
