package connection

import (
	"sort"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

// ChannelStatus describes one shared channel.
type ChannelStatus struct {
	State             domain.ConnectionState `json:"state"`
	RoomCount         int                    `json:"room_count"`
	SubscriptionCount int                    `json:"subscription_count"`
}

// CacheStatus describes the emote caches.
type CacheStatus struct {
	Size         int  `json:"size"`
	GlobalCached bool `json:"global_cached"`
}

// RoomStatus describes one watched room.
type RoomStatus struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	State     RoomState `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is a read-only snapshot of the manager.
type Status struct {
	Chat         ChannelStatus `json:"chat"`
	Aux          ChannelStatus `json:"aux"`
	Cache        CacheStatus   `json:"cache"`
	Initializing bool          `json:"initializing"`
	Rooms        []RoomStatus  `json:"rooms"`
}

// Status returns a snapshot of both channels, the caches and room states.
func (m *Manager) Status() Status {
	s := Status{
		Chat: ChannelStatus{
			State:             m.chat.State(),
			RoomCount:         m.chat.RoomCount(),
			SubscriptionCount: m.chat.SubscriptionCount(),
		},
		Aux: ChannelStatus{
			State:             m.aux.State(),
			RoomCount:         m.aux.RoomCount(),
			SubscriptionCount: m.aux.SubscriptionCount(),
		},
		Initializing: m.initializing.Load(),
	}

	m.emoteMu.RLock()
	s.Cache = CacheStatus{Size: len(m.roomEmotes), GlobalCached: m.globalCached}
	m.emoteMu.RUnlock()

	m.mu.RLock()
	s.Rooms = make([]RoomStatus, 0, len(m.rooms))
	for _, e := range m.rooms {
		s.Rooms = append(s.Rooms, RoomStatus{
			ID:        e.room.ID,
			Owner:     e.room.OwnerSlug,
			State:     e.state,
			UpdatedAt: e.updatedAt,
		})
	}
	m.mu.RUnlock()
	sort.Slice(s.Rooms, func(i, j int) bool { return s.Rooms[i].ID < s.Rooms[j].ID })
	return s
}

// RoomState returns the state of a watched room.
func (m *Manager) RoomState(roomID string) (RoomState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[roomID]
	if !ok {
		return "", false
	}
	return e.state, true
}

// RoomTransitions returns the recent state changes of a room.
func (m *Manager) RoomTransitions(roomID string) []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Transition, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// ReadyRooms returns every room that finished hydration.
func (m *Manager) ReadyRooms() []domain.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Room, 0, len(m.rooms))
	for _, e := range m.rooms {
		if e.state == domain.RoomStateReady {
			out = append(out, e.room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
