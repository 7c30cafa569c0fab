package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatwatch/internal/control"
	"github.com/vietddude/chatwatch/internal/core/config"
	"github.com/vietddude/chatwatch/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "chatwatch",
	Short: "Realtime chat watcher",
	Long:  `Chatwatch keeps live chat, pinned messages, live status and emotes of many Kick rooms in sync over two shared realtime connections.`,
	Run:   runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig reads the config file and installs the logger.
func loadConfig() *config.AppConfig {
	config.LoadEnv()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup(logging.Config{}, isDebug)
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging, isDebug)
	return cfg
}

func runWatcher(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewWatcher(ctx, control.FromAppConfig(cfg, Version))
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	startErr := make(chan error, 1)
	go func() { startErr <- app.Start(ctx) }()

	select {
	case err := <-startErr:
		if err != nil {
			slog.Error("Failed to start Watcher", "error", err)
			_ = app.Stop(context.Background())
			os.Exit(1)
		}
		slog.Info("Watcher started", "config", cfgPath, "port", cfg.Server.Port)
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
	case sig := <-sigChan:
		slog.Info("Received signal during bootstrap, shutting down...", "signal", sig)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
