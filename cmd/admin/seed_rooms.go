package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

const upsertRoom = `
INSERT INTO rooms (id, owner_id, owner_slug, display_name, emote_owner_id, emote_set_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	owner_slug = EXCLUDED.owner_slug,
	display_name = EXCLUDED.display_name,
	emote_owner_id = EXCLUDED.emote_owner_id,
	emote_set_id = EXCLUDED.emote_set_id,
	updated_at = now()`

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	file := flag.String("file", "scripts/rooms.yaml", "YAML list of rooms to seed")
	flag.Parse()

	content, err := os.ReadFile(*file)
	if err != nil {
		panic(err)
	}
	var rooms []domain.Room
	if err := yaml.Unmarshal(content, &rooms); err != nil {
		panic(err)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		panic(err)
	}
	for _, r := range rooms {
		set := r.EmoteSet.OrNone()
		if _, err := tx.ExecContext(ctx, upsertRoom, r.ID, r.OwnerID, r.OwnerSlug, r.DisplayName, set.OwnerID, set.SetID); err != nil {
			_ = tx.Rollback()
			panic(err)
		}
	}
	if err := tx.Commit(); err != nil {
		panic(err)
	}

	fmt.Printf("Successfully seeded %d rooms from %s\n", len(rooms), *file)
}
