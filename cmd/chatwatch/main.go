package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vietddude/chatwatch/internal/control"
	"github.com/vietddude/chatwatch/internal/core/config"
	"github.com/vietddude/chatwatch/internal/logging"
)

var version = "dev"

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	config.LoadEnv()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup(logging.Config{}, *isDebug)
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging, *isDebug)
	slog.Info("Logger initialized", "level", logging.Level.Level().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewWatcher(ctx, control.FromAppConfig(cfg, version))
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := app.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Failed to start Watcher", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Watcher stopped gracefully")
}
