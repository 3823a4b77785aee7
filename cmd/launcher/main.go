package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/server"
)

func main() {
	// Parse flags
	port := flag.String("port", "", "API port (overrides PORT)")
	manifest := flag.String("manifest", "", "App manifest path (overrides APP_MANIFEST)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	if *manifest != "" {
		os.Setenv("APP_MANIFEST", *manifest)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg, server.Options{Reloader: reexec})
	if err != nil {
		log.Fatalf("Failed to create launcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}

// reexec replaces the process with a fresh copy of the launcher. The new
// process serves the bundle promoted in the update state, so dir is only
// logged by the caller. It only returns on failure.
func reexec(_ string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("failed to re-exec launcher: %w", err)
	}
	return nil
}
