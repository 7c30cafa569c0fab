package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/chatwatch/internal/infra/redis"
)

var emotesCmd = &cobra.Command{
	Use:   "emotes",
	Short: "Manage the shared emote cache",
}

var flushEmotesCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached emote list from Redis",
	Args:  cobra.NoArgs,
	Run:   runFlushEmotes,
}

func init() {
	emotesCmd.AddCommand(flushEmotesCmd)
	rootCmd.AddCommand(emotesCmd)
}

func runFlushEmotes(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("No Redis configured, set redis.url")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	n, err := client.Invalidate(ctx)
	if err != nil {
		slog.Error("Failed to flush emote cache", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d cached emote lists\n", n)
}
