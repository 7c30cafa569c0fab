package domain

import (
	"encoding/json"
	"time"
)

// ChatMessage is a single chat message in a room.
type ChatMessage struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"chatroom_id"`
	Content   string          `json:"content"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Sender    Sender          `json:"sender"`
	Raw       json.RawMessage `json:"-"`
}

// Sender is the author of a chat message.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Slug     string `json:"slug"`
}

// PinnedMessage is the message currently pinned in a room.
type PinnedMessage struct {
	Message    ChatMessage `json:"message"`
	Duration   string      `json:"duration"`
	FinishesAt time.Time   `json:"finishs_at"`
}

// InitialMessages is the hydration payload for a room. Messages are
// newest-first as returned by the upstream API.
type InitialMessages struct {
	PinnedMessage *PinnedMessage
	Messages      []ChatMessage
}

// LiveStatus is the live/offline state of a room owner.
type LiveStatus struct {
	IsLive bool
	Raw    json.RawMessage
}

// Emote is a single emote available in a room.
type Emote struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Animated bool   `json:"animated,omitempty"`
}
