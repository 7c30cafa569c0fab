package storage

import (
	"context"
	"errors"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

var (
	// ErrRoomNotFound is returned when a room doesn't exist
	ErrRoomNotFound = errors.New("room not found")
)

// RoomRepository handles the watched-room registry
type RoomRepository interface {
	// Save inserts or updates a room
	Save(ctx context.Context, room domain.Room) error

	// Get retrieves a room by id
	Get(ctx context.Context, id string) (domain.Room, error)

	// List returns all watched rooms in insertion order
	List(ctx context.Context) ([]domain.Room, error)

	// SetLive updates the liveness flag used for prioritization
	SetLive(ctx context.Context, id string, isLive bool) error

	// Delete removes a room
	Delete(ctx context.Context, id string) error
}
