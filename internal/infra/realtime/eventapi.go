package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

// EventAPI opcodes.
const (
	opDispatch    = 0
	opHello       = 1
	opHeartbeat   = 2
	opReconnect   = 4
	opAck         = 5
	opError       = 6
	opEndOfStream = 7
	opSubscribe   = 35
	opUnsubscribe = 36
)

// DefaultEventAPIURL is the 7TV EventAPI endpoint.
const DefaultEventAPIURL = "wss://events.7tv.io/v3"

// EventAPI subscription types.
const (
	EmoteSetUpdate = "emote_set.update"
	UserUpdate     = "user.update"
)

type eventFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type subscribePayload struct {
	Type      string            `json:"type"`
	Condition map[string]string `json:"condition"`
}

type dispatchPayload struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type auxRoom struct {
	ownerID string
	set     domain.EmoteSetRef
}

func (r auxRoom) subscriptions() []subscribePayload {
	if r.set.IsNone() {
		return nil
	}
	return []subscribePayload{
		{Type: EmoteSetUpdate, Condition: map[string]string{"object_id": r.set.SetID}},
		{Type: UserUpdate, Condition: map[string]string{"object_id": r.set.OwnerID}},
	}
}

// EventAPIChannel is the shared auxiliary channel speaking the 7TV
// EventAPI protocol.
type EventAPIChannel struct {
	socket    *socket
	logger    *slog.Logger
	listeners listeners

	mu        sync.RWMutex
	state     domain.ConnectionState
	sessionID string
	rooms     map[string]auxRoom
}

var _ connection.AuxChannel = (*EventAPIChannel)(nil)

// NewEventAPIChannel creates an auxiliary channel for cfg.URL.
func NewEventAPIChannel(cfg SocketConfig, monitor *resilience.Monitor, logger *slog.Logger) *EventAPIChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &EventAPIChannel{
		logger: logger.With("component", "eventapi"),
		state:  domain.ConnectionDisconnected,
		rooms:  make(map[string]auxRoom),
	}
	c.socket = newSocket("aux", cfg, monitor, c.logger, c)
	return c
}

// Connect starts the connection. The channel reports connected once the
// server hello arrives.
func (c *EventAPIChannel) Connect(ctx context.Context) error {
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
func (c *EventAPIChannel) Close() error {
	err := c.socket.close()
	c.setState(domain.ConnectionDisconnected)
	return err
}

// AddRoom registers a room with its emote set. The sentinel set registers
// the room without any upstream subscription.
func (c *EventAPIChannel) AddRoom(roomID, ownerID string, set domain.EmoteSetRef) {
	room := auxRoom{ownerID: ownerID, set: set}

	c.mu.Lock()
	old, existed := c.rooms[roomID]
	c.rooms[roomID] = room
	connected := c.state == domain.ConnectionConnected
	c.mu.Unlock()

	if !connected {
		return
	}
	if existed && old.set != set {
		c.send(opUnsubscribe, old.subscriptions())
	}
	if !existed || old.set != set {
		c.send(opSubscribe, room.subscriptions())
	}
}

// RemoveRoom unregisters a room and drops its subscriptions.
func (c *EventAPIChannel) RemoveRoom(roomID string) {
	c.mu.Lock()
	room, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	connected := c.state == domain.ConnectionConnected
	c.mu.Unlock()

	if ok && connected {
		c.send(opUnsubscribe, room.subscriptions())
	}
}

func (c *EventAPIChannel) send(op int, subs []subscribePayload) {
	for _, sub := range subs {
		if err := c.socket.writeJSON(eventFrame{Op: op, D: mustJSON(sub)}); err != nil {
			c.logger.Warn("Failed to send subscription", "op", op, "type", sub.Type, "error", err)
		}
	}
}

// State returns the connection state.
func (c *EventAPIChannel) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RoomCount returns the number of registered rooms.
func (c *EventAPIChannel) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// SubscriptionCount returns the number of distinct upstream subscriptions
// the registered rooms need while connected. Rooms sharing an emote set
// share its subscriptions.
func (c *EventAPIChannel) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != domain.ConnectionConnected {
		return 0
	}
	seen := make(map[string]struct{})
	for _, r := range c.rooms {
		for _, sub := range r.subscriptions() {
			seen[sub.Type+":"+sub.Condition["object_id"]] = struct{}{}
		}
	}
	return len(seen)
}

// SessionID returns the session id from the last hello.
func (c *EventAPIChannel) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Listen registers fn for channel events.
func (c *EventAPIChannel) Listen(fn connection.EventListener) func() {
	return c.listeners.add(fn)
}

func (c *EventAPIChannel) setState(s domain.ConnectionState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.listeners.emit(domain.ChannelEvent{Type: domain.EventConnection, State: s, ReceivedAt: time.Now()})
	}
}

func (c *EventAPIChannel) handleFrame(data []byte, receivedAt time.Time) {
	var f eventFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	switch f.Op {
	case opHello:
		var hello struct {
			SessionID string `json:"session_id"`
		}
		_ = json.Unmarshal(f.D, &hello)

		// Flip state and snapshot rooms together so a concurrent AddRoom
		// either sees connected or is part of the replay.
		c.mu.Lock()
		c.sessionID = hello.SessionID
		c.state = domain.ConnectionConnected
		rooms := make([]auxRoom, 0, len(c.rooms))
		for _, r := range c.rooms {
			rooms = append(rooms, r)
		}
		c.mu.Unlock()

		c.listeners.emit(domain.ChannelEvent{Type: domain.EventConnection, State: domain.ConnectionConnected, ReceivedAt: receivedAt})
		c.listeners.emit(domain.ChannelEvent{Type: domain.EventOpen, Data: f.D, ReceivedAt: receivedAt})
		for _, r := range rooms {
			c.send(opSubscribe, r.subscriptions())
		}

	case opDispatch:
		var d dispatchPayload
		if err := json.Unmarshal(f.D, &d); err != nil {
			c.logger.Warn("Dropping malformed dispatch", "error", err)
			return
		}
		c.listeners.emit(domain.ChannelEvent{
			Type:       domain.EventMessage,
			RoomID:     c.roomFor(d),
			Name:       d.Type,
			Data:       d.Body,
			ReceivedAt: receivedAt,
		})

	case opReconnect:
		c.logger.Info("Server requested reconnect")
		c.socket.drop()

	case opEndOfStream:
		c.logger.Warn("Server ended stream", "data", string(f.D))
		c.socket.drop()

	case opError:
		c.logger.Warn("EventAPI error", "data", string(f.D))

	case opHeartbeat, opAck:
	}
}

// roomFor finds the room a dispatch belongs to by emote set or owner id.
func (c *EventAPIChannel) roomFor(d dispatchPayload) string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(d.Body, &body); err != nil || body.ID == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, r := range c.rooms {
		switch d.Type {
		case EmoteSetUpdate:
			if r.set.SetID == body.ID {
				return id
			}
		case UserUpdate:
			if r.set.OwnerID == body.ID {
				return id
			}
		}
	}
	return ""
}

func (c *EventAPIChannel) connectionLost(err error, reconnecting bool) {
	if reconnecting {
		c.setState(domain.ConnectionConnecting)
		return
	}
	c.setState(domain.ConnectionDisconnected)
}
