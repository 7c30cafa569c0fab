package connection

import "github.com/vietddude/chatwatch/internal/core/domain"

// Chunk splits items into consecutive batches of at most size elements.
// An empty input yields an empty (non-nil) result; size < 1 is treated as 1.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// ChunkRooms splits rooms into bootstrap batches.
func ChunkRooms(rooms []domain.Room, size int) [][]domain.Room {
	return Chunk(rooms, size)
}

// PrioritizeRooms returns a copy of rooms with live rooms first. Relative
// order inside each group is preserved.
func PrioritizeRooms(rooms []domain.Room) []domain.Room {
	out := make([]domain.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.IsLive {
			out = append(out, r)
		}
	}
	for _, r := range rooms {
		if !r.IsLive {
			out = append(out, r)
		}
	}
	return out
}
