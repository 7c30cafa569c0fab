package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/storage"
)

const roomColumns = `id, owner_id, owner_slug, display_name, emote_owner_id, emote_set_id, is_live`

// roomRow is the rooms table row; the emote set columns are flattened.
type roomRow struct {
	ID           string `db:"id"`
	OwnerID      string `db:"owner_id"`
	OwnerSlug    string `db:"owner_slug"`
	DisplayName  string `db:"display_name"`
	EmoteOwnerID string `db:"emote_owner_id"`
	EmoteSetID   string `db:"emote_set_id"`
	IsLive       bool   `db:"is_live"`
}

func (r roomRow) toDomain() domain.Room {
	return domain.Room{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		OwnerSlug:   r.OwnerSlug,
		DisplayName: r.DisplayName,
		EmoteSet:    domain.EmoteSetRef{OwnerID: r.EmoteOwnerID, SetID: r.EmoteSetID},
		IsLive:      r.IsLive,
	}
}

func fromDomain(room domain.Room) roomRow {
	return roomRow{
		ID:           room.ID,
		OwnerID:      room.OwnerID,
		OwnerSlug:    room.OwnerSlug,
		DisplayName:  room.DisplayName,
		EmoteOwnerID: room.EmoteSet.OwnerID,
		EmoteSetID:   room.EmoteSet.SetID,
		IsLive:       room.IsLive,
	}
}

// RoomRepo implements storage.RoomRepository using PostgreSQL.
type RoomRepo struct {
	db *DB
}

// NewRoomRepo creates a new PostgreSQL room repository.
func NewRoomRepo(db *DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// Save inserts or updates a room.
func (r *RoomRepo) Save(ctx context.Context, room domain.Room) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES (:id, :owner_id, :owner_slug, :display_name, :emote_owner_id, :emote_set_id, :is_live)
		ON CONFLICT (id) DO UPDATE SET
			owner_id       = EXCLUDED.owner_id,
			owner_slug     = EXCLUDED.owner_slug,
			display_name   = EXCLUDED.display_name,
			emote_owner_id = EXCLUDED.emote_owner_id,
			emote_set_id   = EXCLUDED.emote_set_id,
			is_live        = EXCLUDED.is_live,
			updated_at     = NOW()`,
		fromDomain(room),
	)
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// Get retrieves a room by id.
func (r *RoomRepo) Get(ctx context.Context, id string) (domain.Room, error) {
	var row roomRow
	err := r.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, storage.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	return row.toDomain(), nil
}

// List returns all rooms in insertion order.
func (r *RoomRepo) List(ctx context.Context) ([]domain.Room, error) {
	var rows []roomRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	rooms := make([]domain.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toDomain())
	}
	return rooms, nil
}

// SetLive updates the liveness flag.
func (r *RoomRepo) SetLive(ctx context.Context, id string, isLive bool) error {
	return r.execOne(ctx, "set live", `UPDATE rooms SET is_live = $2, updated_at = NOW() WHERE id = $1`, id, isLive)
}

// Delete removes a room.
func (r *RoomRepo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete room", `DELETE FROM rooms WHERE id = $1`, id)
}

func (r *RoomRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrRoomNotFound
	}
	return nil
}
