package domain

import (
	"encoding/json"
	"time"
)

// ConnectionState is the lifecycle state of a shared realtime channel.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// ChannelEventType enumerates the events a realtime channel emits.
type ChannelEventType string

const (
	// EventConnection reports a connection state change. State is set.
	EventConnection ChannelEventType = "connection"
	// EventMessage carries a chat (or emote) message for a room.
	EventMessage ChannelEventType = "message"
	// EventChannel carries a channel-level event (live, pinned, bans...).
	EventChannel ChannelEventType = "channel"
	// EventSubscriptionSuccess is the server ack of a room subscription.
	EventSubscriptionSuccess ChannelEventType = "subscription_success"
	// EventOpen is emitted by the auxiliary channel once its session is ready.
	EventOpen ChannelEventType = "open"
)

// ChannelEvent is a single event emitted by a realtime channel.
type ChannelEvent struct {
	Type       ChannelEventType
	State      ConnectionState // EventConnection only
	RoomID     string          // empty when not bound to a room
	Name       string          // upstream event name
	Channel    string          // upstream channel/topic
	Data       json.RawMessage
	ReceivedAt time.Time
}
