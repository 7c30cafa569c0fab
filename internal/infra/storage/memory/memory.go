package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/storage"
)

// DefaultMessageLimit bounds the messages kept per room.
const DefaultMessageLimit = 200

// RoomSnapshot is the hydrated state of one room.
type RoomSnapshot struct {
	RoomID    string                `json:"room_id"`
	Pinned    *domain.PinnedMessage `json:"pinned_message,omitempty"`
	Messages  []domain.ChatMessage  `json:"messages"`
	IsLive    bool                  `json:"is_live"`
	LiveRaw   json.RawMessage       `json:"live_raw,omitempty"`
	Emotes    []domain.Emote        `json:"emotes,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// MemoryStorage keeps hydrated room state and the room registry in memory.
// Every write is an upsert.
type MemoryStorage struct {
	mu           sync.RWMutex
	state        map[string]*RoomSnapshot
	global       []domain.Emote
	rooms        map[string]domain.Room
	order        []string
	messageLimit int
	now          func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		state:        make(map[string]*RoomSnapshot),
		rooms:        make(map[string]domain.Room),
		messageLimit: DefaultMessageLimit,
		now:          time.Now,
	}
}

// SetMessageLimit changes the per-room message bound.
func (s *MemoryStorage) SetMessageLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.messageLimit = n
	}
}

func (s *MemoryStorage) snapshot(roomID string) *RoomSnapshot {
	snap, ok := s.state[roomID]
	if !ok {
		snap = &RoomSnapshot{RoomID: roomID}
		s.state[roomID] = snap
	}
	snap.UpdatedAt = s.now()
	return snap
}

// -----------------------------------------------------------------------------
// Hydration sink
// -----------------------------------------------------------------------------

func (s *MemoryStorage) OnPinnedMessageCreated(roomID string, msg domain.PinnedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot(roomID).Pinned = &msg
}

func (s *MemoryStorage) OnPinnedMessageDeleted(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot(roomID).Pinned = nil
}

// OnInitialMessages replaces the message history. msgs are oldest first.
func (s *MemoryStorage) OnInitialMessages(roomID string, msgs []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot(roomID).Messages = s.trim(slices.Clone(msgs))
}

func (s *MemoryStorage) OnLiveStatusChanged(roomID string, raw json.RawMessage, isLive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot(roomID)
	snap.IsLive = isLive
	snap.LiveRaw = slices.Clone(raw)
	if room, ok := s.rooms[roomID]; ok {
		room.IsLive = isLive
		s.rooms[roomID] = room
	}
}

func (s *MemoryStorage) OnRoomEmotes(roomID string, emotes []domain.Emote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot(roomID).Emotes = emotes
}

func (s *MemoryStorage) OnGlobalEmotes(emotes []domain.Emote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = emotes
}

// AppendMessage adds a live message, skipping ids already present.
func (s *MemoryStorage) AppendMessage(roomID string, msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot(roomID)
	if msg.ID != "" && slices.ContainsFunc(snap.Messages, func(m domain.ChatMessage) bool { return m.ID == msg.ID }) {
		return
	}
	snap.Messages = s.trim(append(snap.Messages, msg))
}

func (s *MemoryStorage) trim(msgs []domain.ChatMessage) []domain.ChatMessage {
	if over := len(msgs) - s.messageLimit; over > 0 {
		return msgs[over:]
	}
	return msgs
}

// Snapshot returns a copy of a room's hydrated state.
func (s *MemoryStorage) Snapshot(roomID string) (RoomSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.state[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	out := *snap
	out.Messages = slices.Clone(snap.Messages)
	return out, true
}

// GlobalEmotes returns the stored global emote set.
func (s *MemoryStorage) GlobalEmotes() []domain.Emote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// Forget drops the hydrated state of a room.
func (s *MemoryStorage) Forget(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, roomID)
}

// -----------------------------------------------------------------------------
// Room Repository
// -----------------------------------------------------------------------------

type RoomRepo struct {
	store *MemoryStorage
}

func NewRoomRepo(store *MemoryStorage) *RoomRepo {
	return &RoomRepo{store: store}
}

func (r *RoomRepo) Save(ctx context.Context, room domain.Room) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.rooms[room.ID]; !ok {
		r.store.order = append(r.store.order, room.ID)
	}
	r.store.rooms[room.ID] = room
	return nil
}

func (r *RoomRepo) Get(ctx context.Context, id string) (domain.Room, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	room, ok := r.store.rooms[id]
	if !ok {
		return domain.Room{}, storage.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRepo) List(ctx context.Context) ([]domain.Room, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rooms := make([]domain.Room, 0, len(r.store.order))
	for _, id := range r.store.order {
		rooms = append(rooms, r.store.rooms[id])
	}
	return rooms, nil
}

func (r *RoomRepo) SetLive(ctx context.Context, id string, isLive bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	room, ok := r.store.rooms[id]
	if !ok {
		return storage.ErrRoomNotFound
	}
	room.IsLive = isLive
	r.store.rooms[id] = room
	return nil
}

func (r *RoomRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.rooms[id]; !ok {
		return storage.ErrRoomNotFound
	}
	delete(r.store.rooms, id)
	r.store.order = slices.DeleteFunc(r.store.order, func(v string) bool { return v == id })
	return nil
}
