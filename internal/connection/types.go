package connection

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

// ErrConnectTimeout is returned by Initialize when the channels do not
// connect in time.
var ErrConnectTimeout = errors.New("timed out waiting for realtime channels to connect")

// ErrUnknownRoom is returned for operations on a room that is not watched.
var ErrUnknownRoom = errors.New("unknown room")

// EventListener receives channel events.
type EventListener func(domain.ChannelEvent)

// ChatChannel is the shared chat-event connection.
type ChatChannel interface {
	Connect(ctx context.Context) error
	AddRoom(roomID, ownerID string, meta domain.RoomMeta)
	RemoveRoom(roomID string)
	Close() error
	State() domain.ConnectionState
	RoomCount() int
	SubscriptionCount() int
	// Listen registers fn for every event and returns a function that
	// removes it.
	Listen(fn EventListener) func()
}

// AuxChannel is the shared auxiliary (emote/event) connection.
type AuxChannel interface {
	Connect(ctx context.Context) error
	AddRoom(roomID, ownerID string, set domain.EmoteSetRef)
	RemoveRoom(roomID string)
	Close() error
	State() domain.ConnectionState
	RoomCount() int
	SubscriptionCount() int
	Listen(fn EventListener) func()
}

// DataFetcher loads room state over HTTP.
type DataFetcher interface {
	GetInitialMessages(ctx context.Context, room domain.Room) (domain.InitialMessages, error)
	GetLiveStatus(ctx context.Context, room domain.Room) (domain.LiveStatus, error)
	GetRoomEmotes(ctx context.Context, ownerSlug string) ([]domain.Emote, error)
	GetGlobalEmotes(ctx context.Context) ([]domain.Emote, error)
}

// Store receives hydration results. Calls must be idempotent upserts; they
// may arrive for a room that has since been removed.
type Store interface {
	OnPinnedMessageCreated(roomID string, msg domain.PinnedMessage)
	OnPinnedMessageDeleted(roomID string)
	// OnInitialMessages receives messages oldest first.
	OnInitialMessages(roomID string, msgs []domain.ChatMessage)
	OnLiveStatusChanged(roomID string, raw json.RawMessage, isLive bool)
}

// EmoteStore is optionally implemented by a Store that wants emote lists.
type EmoteStore interface {
	OnRoomEmotes(roomID string, emotes []domain.Emote)
	OnGlobalEmotes(emotes []domain.Emote)
}

// EventHandler receives channel events unrelated to hydration.
type EventHandler interface {
	HandleChatEvent(ev domain.ChannelEvent)
	HandleAuxEvent(ev domain.ChannelEvent)
}

// EventHandlerFuncs adapts plain functions to EventHandler. Nil fields are
// skipped.
type EventHandlerFuncs struct {
	Chat func(domain.ChannelEvent)
	Aux  func(domain.ChannelEvent)
}

func (h EventHandlerFuncs) HandleChatEvent(ev domain.ChannelEvent) {
	if h.Chat != nil {
		h.Chat(ev)
	}
}

func (h EventHandlerFuncs) HandleAuxEvent(ev domain.ChannelEvent) {
	if h.Aux != nil {
		h.Aux(ev)
	}
}

// Config holds bootstrap tuning.
type Config struct {
	BatchSize                 int           `yaml:"batch_size"`
	BatchDelay                time.Duration `yaml:"batch_delay"`
	MaxConcurrentEmoteFetches int           `yaml:"max_concurrent_emote_fetches"`
	ConnectTimeout            time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns the stock bootstrap settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:                 3,
		BatchDelay:                200 * time.Millisecond,
		MaxConcurrentEmoteFetches: 5,
		ConnectTimeout:            10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxConcurrentEmoteFetches <= 0 {
		c.MaxConcurrentEmoteFetches = d.MaxConcurrentEmoteFetches
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}
