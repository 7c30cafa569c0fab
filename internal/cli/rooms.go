package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chatwatch/internal/core/config"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/seventv"
	"github.com/vietddude/chatwatch/internal/infra/storage/postgres"
)

var (
	roomDisplayName string
	skipEmoteLookup bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Manage the persisted room registry",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered rooms",
	Args:  cobra.NoArgs,
	Run:   runRoomsList,
}

var roomsAddCmd = &cobra.Command{
	Use:   "add [room_id] [owner_id] [owner_slug]",
	Short: "Register a room, resolving its 7TV emote set",
	Args:  cobra.ExactArgs(3),
	Run:   runRoomsAdd,
}

var roomsRemoveCmd = &cobra.Command{
	Use:   "remove [room_id]",
	Short: "Remove a room from the registry",
	Args:  cobra.ExactArgs(1),
	Run:   runRoomsRemove,
}

func init() {
	roomsAddCmd.Flags().StringVar(&roomDisplayName, "display-name", "", "display name of the channel")
	roomsAddCmd.Flags().BoolVar(&skipEmoteLookup, "no-emotes", false, "skip the 7TV emote set lookup")
	roomsCmd.AddCommand(roomsListCmd, roomsAddCmd, roomsRemoveCmd)
	rootCmd.AddCommand(roomsCmd)
}

// openRooms connects to the configured database and applies migrations.
func openRooms(ctx context.Context, cfg *config.AppConfig) (*postgres.DB, *postgres.RoomRepo) {
	if cfg.Database.URL == "" {
		slog.Error("No database configured, set database.url")
		os.Exit(1)
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	return db, postgres.NewRoomRepo(db)
}

func runRoomsList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db, repo := openRooms(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	rooms, err := repo.List(ctx)
	if err != nil {
		slog.Error("Failed to list rooms", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ROOM\tOWNER\tSLUG\tEMOTE SET\tLIVE")
	for _, r := range rooms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", r.ID, r.OwnerID, r.OwnerSlug, r.EmoteSet.SetID, r.IsLive)
	}
	_ = w.Flush()
}

func runRoomsAdd(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	room := domain.Room{
		ID:          args[0],
		OwnerID:     args[1],
		OwnerSlug:   args[2],
		DisplayName: roomDisplayName,
		EmoteSet:    domain.NoEmoteSetRef(),
	}
	if err := config.ValidateRoom(room); err != nil {
		slog.Error("Invalid room", "error", err)
		os.Exit(1)
	}

	if !skipEmoteLookup {
		stv, err := seventv.NewClient(seventv.Config{BaseURL: cfg.SevenTV.APIURL, Timeout: cfg.SevenTV.Timeout})
		if err != nil {
			slog.Error("Failed to create 7TV client", "error", err)
			os.Exit(1)
		}
		set, err := stv.UserEmoteSet(ctx, room.OwnerID)
		if err != nil {
			slog.Warn("Failed to resolve 7TV emote set, registering without one", "error", err)
		} else {
			room.EmoteSet = set
		}
	}

	db, repo := openRooms(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()
	if err := repo.Save(ctx, room); err != nil {
		slog.Error("Failed to save room", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Registered room %s (%s), emote set %s\n", room.ID, room.OwnerSlug, room.EmoteSet.SetID)
}

func runRoomsRemove(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	db, repo := openRooms(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if err := repo.Delete(ctx, args[0]); err != nil {
		slog.Error("Failed to remove room", "room", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Removed room %s\n", args[0])
}
