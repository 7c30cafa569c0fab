package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer runs serve for every accepted connection.
type wsServer struct {
	*httptest.Server
	mu    sync.Mutex
	conns int
}

func newWSServer(t *testing.T, serve func(n int, conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.conns++
		n := s.conns
		s.mu.Unlock()
		serve(n, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testMonitor() *resilience.Monitor {
	m := resilience.NewMonitor(resilience.DefaultBreakerConfig(), nil)
	m.SetSleepFunc(func(context.Context, time.Duration) error { return nil })
	return m
}

type eventSink struct {
	ch chan domain.ChannelEvent
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan domain.ChannelEvent, 64)}
}

func (s *eventSink) listen(ev domain.ChannelEvent) { s.ch <- ev }

// next returns the first event matching match, skipping others.
func (s *eventSink) next(t *testing.T, match func(domain.ChannelEvent) bool) domain.ChannelEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return domain.ChannelEvent{}
		}
	}
}

func isType(typ domain.ChannelEventType) func(domain.ChannelEvent) bool {
	return func(ev domain.ChannelEvent) bool { return ev.Type == typ }
}

func isState(s domain.ConnectionState) func(domain.ChannelEvent) bool {
	return func(ev domain.ChannelEvent) bool { return ev.Type == domain.EventConnection && ev.State == s }
}

func TestPusherChannel(t *testing.T) {
	subscribed := make(chan string, 8)
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]string{
			"event": pusherConnectionEstablished,
			"data":  `{"socket_id":"123.456","activity_timeout":120}`,
		})
		for {
			var f pusherFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Event {
			case pusherSubscribe:
				var sub pusherSubscription
				_ = json.Unmarshal(f.Data, &sub)
				subscribed <- sub.Channel
				_ = conn.WriteJSON(map[string]string{
					"event":   pusherSubscriptionSucceeded,
					"channel": sub.Channel,
					"data":    "{}",
				})
				if sub.Channel == "chatrooms.42.v2" {
					_ = conn.WriteJSON(map[string]string{
						"event":   ChatMessageEvent,
						"channel": sub.Channel,
						"data":    `{"id":"m1","content":"hello"}`,
					})
				}
			case pusherPing:
				_ = conn.WriteJSON(map[string]any{"event": pusherPong, "data": map[string]any{}})
			}
		}
	})

	ch := NewPusherChannel(SocketConfig{URL: srv.wsURL()}, testMonitor(), nil)
	sink := newEventSink()
	unlisten := ch.Listen(sink.listen)
	defer unlisten()

	ch.AddRoom("42", "7", domain.RoomMeta{Slug: "streamer"})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink.next(t, isState(domain.ConnectionConnected))
	if ch.SocketID() != "123.456" {
		t.Errorf("SocketID = %q", ch.SocketID())
	}

	var msg domain.ChannelEvent
	acks := 0
	for acks < 3 || msg.Type == "" {
		ev := sink.next(t, func(ev domain.ChannelEvent) bool {
			return ev.Type == domain.EventMessage || ev.Type == domain.EventSubscriptionSuccess
		})
		if ev.Type == domain.EventMessage {
			msg = ev
			continue
		}
		if ev.RoomID != "42" {
			t.Errorf("ack for unknown room: %+v", ev)
		}
		acks++
	}
	if msg.RoomID != "42" || !strings.Contains(string(msg.Data), `"hello"`) {
		t.Errorf("message event = %+v data=%s", msg, msg.Data)
	}

	if got := ch.SubscriptionCount(); got != 3 {
		t.Errorf("SubscriptionCount = %d, want 3", got)
	}
	if got := ch.RoomCount(); got != 1 {
		t.Errorf("RoomCount = %d, want 1", got)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[<-subscribed] = true
	}
	for _, want := range RoomChannels("42", "7") {
		if !seen[want] {
			t.Errorf("missing subscription %s", want)
		}
	}

	ch.RemoveRoom("42")
	if ch.RoomCount() != 0 || ch.SubscriptionCount() != 0 {
		t.Error("RemoveRoom should clear registrations")
	}

	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if ch.State() != domain.ConnectionDisconnected {
		t.Errorf("state = %s, want disconnected", ch.State())
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestPusherChannel_AnswersPing(t *testing.T) {
	pong := make(chan struct{}, 1)
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]string{"event": pusherConnectionEstablished, "data": `{"socket_id":"1"}`})
		_ = conn.WriteJSON(map[string]any{"event": pusherPing, "data": map[string]any{}})
		for {
			var f pusherFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Event == pusherPong {
				pong <- struct{}{}
			}
		}
	})

	ch := NewPusherChannel(SocketConfig{URL: srv.wsURL()}, testMonitor(), nil)
	defer ch.Close()
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-pong:
	case <-time.After(3 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestEventAPIChannel(t *testing.T) {
	var mu sync.Mutex
	subs := map[int][]subscribePayload{}

	srv := newWSServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"op": opHello, "d": map[string]any{"session_id": "s" + string(rune('0'+n)), "heartbeat_interval": 25000}})
		for {
			var f eventFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Op != opSubscribe {
				continue
			}
			var p subscribePayload
			_ = json.Unmarshal(f.D, &p)
			mu.Lock()
			subs[n] = append(subs[n], p)
			count := len(subs[n])
			mu.Unlock()

			if n == 1 && count == 2 {
				_ = conn.WriteJSON(map[string]any{
					"op": opDispatch,
					"d":  map[string]any{"type": EmoteSetUpdate, "body": map[string]any{"id": "set-1"}},
				})
				_ = conn.WriteJSON(map[string]any{"op": opReconnect, "d": map[string]any{}})
			}
		}
	})

	ch := NewEventAPIChannel(SocketConfig{URL: srv.wsURL()}, testMonitor(), nil)
	sink := newEventSink()
	ch.Listen(sink.listen)
	defer ch.Close()

	ch.AddRoom("r1", "o1", domain.EmoteSetRef{OwnerID: "7tv-user", SetID: "set-1"})
	ch.AddRoom("r2", "o2", domain.NoEmoteSetRef())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	sink.next(t, isType(domain.EventOpen))
	msg := sink.next(t, isType(domain.EventMessage))
	if msg.RoomID != "r1" || msg.Name != EmoteSetUpdate {
		t.Errorf("dispatch event = %+v", msg)
	}

	// The reconnect request makes the channel redial and replay.
	sink.next(t, isState(domain.ConnectionConnecting))
	sink.next(t, isState(domain.ConnectionConnected))
	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		replayed := len(subs[2])
		mu.Unlock()
		if replayed == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replayed subscriptions = %d, want 2", replayed)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if ch.SessionID() != "s2" {
		t.Errorf("SessionID = %q, want s2", ch.SessionID())
	}
	if ch.RoomCount() != 2 {
		t.Errorf("RoomCount = %d, want 2", ch.RoomCount())
	}
	if got := ch.SubscriptionCount(); got != 2 {
		t.Errorf("SubscriptionCount after replay = %d, want 2", got)
	}
	mu.Lock()
	for _, p := range subs[1] {
		if p.Condition["object_id"] == "0" {
			t.Error("sentinel emote set must not be subscribed")
		}
	}
	mu.Unlock()
}

func TestEventAPIChannel_SubscriptionCountFollowsRooms(t *testing.T) {
	ch := NewEventAPIChannel(SocketConfig{URL: "ws://unused"}, testMonitor(), nil)
	set := domain.EmoteSetRef{OwnerID: "7tv-user", SetID: "set-1"}

	ch.AddRoom("r1", "o1", set)
	if got := ch.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount while disconnected = %d, want 0", got)
	}

	ch.mu.Lock()
	ch.state = domain.ConnectionConnected
	ch.mu.Unlock()

	steps := []struct {
		name string
		do   func()
		want int
	}{
		{"registered room", func() {}, 2},
		{"same room re-added", func() { ch.AddRoom("r1", "o1", set) }, 2},
		{"second room sharing the set", func() { ch.AddRoom("r2", "o2", set) }, 2},
		{"room without a set", func() { ch.AddRoom("r3", "o3", domain.NoEmoteSetRef()) }, 2},
		{"room switches set", func() {
			ch.AddRoom("r2", "o2", domain.EmoteSetRef{OwnerID: "7tv-other", SetID: "set-2"})
		}, 4},
		{"room removed", func() { ch.RemoveRoom("r1") }, 2},
		{"unknown room removed", func() { ch.RemoveRoom("nope") }, 2},
	}
	for _, step := range steps {
		step.do()
		if got := ch.SubscriptionCount(); got != step.want {
			t.Errorf("%s: SubscriptionCount = %d, want %d", step.name, got, step.want)
		}
	}

	ch.connectionLost(nil, true)
	if got := ch.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount after connection loss = %d, want 0", got)
	}
}

func TestSocket_GivesUpWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	monitor := testMonitor()
	ch := NewPusherChannel(SocketConfig{URL: url, HandshakeTimeout: time.Second}, monitor, nil)
	sink := newEventSink()
	ch.Listen(sink.listen)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink.next(t, isState(domain.ConnectionDisconnected))
	if got := monitor.Stats().ByCategory["WEBSOCKET"]; got != resilience.PolicyRealtimeChannel.MaxAttempts {
		t.Errorf("websocket errors = %d, want %d", got, resilience.PolicyRealtimeChannel.MaxAttempts)
	}
	_ = ch.Close()
}
