package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

// Pusher protocol events.
const (
	pusherConnectionEstablished = "pusher:connection_established"
	pusherSubscribe             = "pusher:subscribe"
	pusherUnsubscribe           = "pusher:unsubscribe"
	pusherPing                  = "pusher:ping"
	pusherPong                  = "pusher:pong"
	pusherError                 = "pusher:error"
	pusherSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	// ChatMessageEvent is the chat message event name on a room channel.
	ChatMessageEvent = `App\Events\ChatMessageEvent`

	// DefaultPusherURL is Kick's public Pusher endpoint.
	DefaultPusherURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0-rc2&flash=false"
)

type pusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type pusherSubscription struct {
	Auth    string `json:"auth"`
	Channel string `json:"channel"`
}

// RoomChannels returns the Pusher channels a room is subscribed to.
func RoomChannels(roomID, ownerID string) []string {
	chans := []string{
		"chatrooms." + roomID + ".v2",
		"chatrooms." + roomID,
	}
	if ownerID != "" {
		chans = append(chans, "channel."+ownerID)
	}
	return chans
}

type chatRoom struct {
	ownerID  string
	meta     domain.RoomMeta
	channels []string
}

// PusherChannel is the shared chat channel speaking the Pusher protocol.
type PusherChannel struct {
	socket    *socket
	logger    *slog.Logger
	listeners listeners

	mu        sync.RWMutex
	state     domain.ConnectionState
	socketID  string
	rooms     map[string]*chatRoom
	byChannel map[string]string // pusher channel -> room id
	acked     map[string]bool
}

var _ connection.ChatChannel = (*PusherChannel)(nil)

// NewPusherChannel creates a chat channel for cfg.URL.
func NewPusherChannel(cfg SocketConfig, monitor *resilience.Monitor, logger *slog.Logger) *PusherChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PusherChannel{
		logger:    logger.With("component", "pusher"),
		state:     domain.ConnectionDisconnected,
		rooms:     make(map[string]*chatRoom),
		byChannel: make(map[string]string),
		acked:     make(map[string]bool),
	}
	c.socket = newSocket("chat", cfg, monitor, c.logger, c)
	return c
}

// Connect starts the connection. The channel reports connected once the
// server's connection_established frame arrives.
func (c *PusherChannel) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() == domain.ConnectionConnected {
		return nil
	}
	c.setState(domain.ConnectionConnecting)
	return c.socket.start()
}

// Close stops the connection. Registered rooms are kept.
func (c *PusherChannel) Close() error {
	err := c.socket.close()
	c.setState(domain.ConnectionDisconnected)
	return err
}

// AddRoom registers a room and subscribes it when connected. Adding an
// existing room replaces its registration.
func (c *PusherChannel) AddRoom(roomID, ownerID string, meta domain.RoomMeta) {
	room := &chatRoom{ownerID: ownerID, meta: meta, channels: RoomChannels(roomID, ownerID)}

	c.mu.Lock()
	if old, ok := c.rooms[roomID]; ok {
		for _, ch := range old.channels {
			delete(c.byChannel, ch)
			delete(c.acked, ch)
		}
	}
	c.rooms[roomID] = room
	for _, ch := range room.channels {
		c.byChannel[ch] = roomID
	}
	connected := c.state == domain.ConnectionConnected
	c.mu.Unlock()

	if connected {
		c.subscribe(room.channels)
	}
}

// RemoveRoom unregisters a room and unsubscribes its channels.
func (c *PusherChannel) RemoveRoom(roomID string) {
	c.mu.Lock()
	room, ok := c.rooms[roomID]
	if ok {
		delete(c.rooms, roomID)
		for _, ch := range room.channels {
			delete(c.byChannel, ch)
			delete(c.acked, ch)
		}
	}
	connected := c.state == domain.ConnectionConnected
	c.mu.Unlock()

	if !ok || !connected {
		return
	}
	for _, ch := range room.channels {
		if err := c.socket.writeJSON(pusherFrame{Event: pusherUnsubscribe, Data: mustJSON(pusherSubscription{Channel: ch})}); err != nil {
			c.logger.Debug("Failed to unsubscribe", "channel", ch, "error", err)
		}
	}
}

func (c *PusherChannel) subscribe(channels []string) {
	for _, ch := range channels {
		if err := c.socket.writeJSON(pusherFrame{Event: pusherSubscribe, Data: mustJSON(pusherSubscription{Channel: ch})}); err != nil {
			c.logger.Warn("Failed to subscribe", "channel", ch, "error", err)
		}
	}
}

// State returns the connection state.
func (c *PusherChannel) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RoomCount returns the number of registered rooms.
func (c *PusherChannel) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// SubscriptionCount returns the number of server-acknowledged channels.
func (c *PusherChannel) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.acked)
}

// SocketID returns the id assigned by the server on connect.
func (c *PusherChannel) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.socketID
}

// Listen registers fn for channel events.
func (c *PusherChannel) Listen(fn connection.EventListener) func() {
	return c.listeners.add(fn)
}

func (c *PusherChannel) setState(s domain.ConnectionState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.listeners.emit(domain.ChannelEvent{Type: domain.EventConnection, State: s, ReceivedAt: time.Now()})
	}
}

func (c *PusherChannel) handleFrame(data []byte, receivedAt time.Time) {
	var f pusherFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("Dropping malformed frame", "error", err)
		return
	}
	payload := unwrapData(f.Data)

	switch f.Event {
	case pusherConnectionEstablished:
		var est struct {
			SocketID string `json:"socket_id"`
		}
		_ = json.Unmarshal(payload, &est)
		// Flip state and snapshot channels together so a concurrent AddRoom
		// either sees connected or is part of the replay.
		c.mu.Lock()
		c.socketID = est.SocketID
		c.acked = make(map[string]bool)
		c.state = domain.ConnectionConnected
		channels := make([]string, 0, len(c.byChannel))
		for ch := range c.byChannel {
			channels = append(channels, ch)
		}
		c.mu.Unlock()

		c.listeners.emit(domain.ChannelEvent{Type: domain.EventConnection, State: domain.ConnectionConnected, ReceivedAt: receivedAt})
		c.subscribe(channels)

	case pusherPing:
		if err := c.socket.writeJSON(pusherFrame{Event: pusherPong, Data: json.RawMessage(`{}`)}); err != nil {
			c.logger.Debug("Failed to answer ping", "error", err)
		}

	case pusherPong:

	case pusherError:
		c.logger.Warn("Pusher error", "data", string(payload))

	case pusherSubscriptionSucceeded:
		c.mu.Lock()
		roomID, ok := c.byChannel[f.Channel]
		if ok {
			c.acked[f.Channel] = true
		}
		c.mu.Unlock()
		c.listeners.emit(domain.ChannelEvent{
			Type:       domain.EventSubscriptionSuccess,
			RoomID:     roomID,
			Name:       f.Event,
			Channel:    f.Channel,
			ReceivedAt: receivedAt,
		})

	default:
		c.mu.RLock()
		roomID := c.byChannel[f.Channel]
		c.mu.RUnlock()

		typ := domain.EventChannel
		if f.Event == ChatMessageEvent {
			typ = domain.EventMessage
		}
		c.listeners.emit(domain.ChannelEvent{
			Type:       typ,
			RoomID:     roomID,
			Name:       f.Event,
			Channel:    f.Channel,
			Data:       payload,
			ReceivedAt: receivedAt,
		})
	}
}

func (c *PusherChannel) connectionLost(err error, reconnecting bool) {
	c.mu.Lock()
	c.acked = make(map[string]bool)
	c.mu.Unlock()
	if reconnecting {
		c.setState(domain.ConnectionConnecting)
		return
	}
	c.setState(domain.ConnectionDisconnected)
}

// unwrapData decodes Pusher's string-encoded data payloads.
func unwrapData(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, `"`) {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("realtime: marshal %T: %v", v, err))
	}
	return b
}
