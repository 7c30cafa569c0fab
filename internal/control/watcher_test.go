package control

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

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/config"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/core/worker"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeUpstream serves the Kick and 7TV REST endpoints plus both sockets.
type fakeUpstream struct {
	rest   *httptest.Server
	pusher *httptest.Server
	events *httptest.Server

	mu         sync.Mutex
	subscribed []string
	chatConn   *websocket.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/channels/7/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"messages":[
			{"id":"m2","chat_id":42,"content":"second","created_at":"2026-01-01T00:00:02Z","sender":{"id":1,"username":"a"}},
			{"id":"m1","chat_id":42,"content":"first","created_at":"2026-01-01T00:00:01Z","sender":{"id":1,"username":"a"}}
		],"pinned_message":null}}`))
	})
	mux.HandleFunc("GET /api/v2/channels/streamer/livestream", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":99,"session_title":"live"}}`))
	})
	mux.HandleFunc("GET /emotes/streamer", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"emotes":[{"id":1,"name":"KEKW"}]}]`))
	})
	mux.HandleFunc("GET /v3/emote-sets/global", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"global","emotes":[{"id":"g1","name":"EZ","data":{"animated":false}}]}`))
	})
	f.rest = httptest.NewServer(mux)
	t.Cleanup(f.rest.Close)

	f.pusher = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.chatConn = conn
		f.mu.Unlock()
		_ = conn.WriteJSON(map[string]string{
			"event": "pusher:connection_established",
			"data":  `{"socket_id":"1.2","activity_timeout":120}`,
		})
		for {
			var frame struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Event != "pusher:subscribe" {
				continue
			}
			var sub struct {
				Channel string `json:"channel"`
			}
			_ = json.Unmarshal(frame.Data, &sub)
			f.mu.Lock()
			f.subscribed = append(f.subscribed, sub.Channel)
			_ = conn.WriteJSON(map[string]string{
				"event":   "pusher_internal:subscription_succeeded",
				"channel": sub.Channel,
				"data":    "{}",
			})
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.pusher.Close)

	f.events = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"op": 1, "d": map[string]any{"session_id": "s1", "heartbeat_interval": 25000}})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.events.Close)
	return f
}

// sendChat pushes a chat message frame on the open chat socket.
func (f *fakeUpstream) sendChat(t *testing.T, channel, data string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatConn == nil {
		t.Fatal("chat socket not connected")
	}
	if err := f.chatConn.WriteJSON(map[string]string{
		"event":   `App\Events\ChatMessageEvent`,
		"channel": channel,
		"data":    data,
	}); err != nil {
		t.Fatal(err)
	}
}

func (f *fakeUpstream) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig(f *fakeUpstream, rooms ...domain.Room) Config {
	return Config{
		Port:    0,
		Version: "test",
		Kick: config.KickConfig{
			APIURL:    f.rest.URL,
			PusherURL: wsURL(f.pusher),
			Timeout:   2 * time.Second,
		},
		SevenTV: config.SevenTVConfig{
			APIURL:      f.rest.URL,
			EventAPIURL: wsURL(f.events),
			Timeout:     2 * time.Second,
		},
		Bootstrap: config.BootstrapConfig{
			Config: connection.Config{
				BatchSize:                 2,
				MaxConcurrentEmoteFetches: 2,
				ConnectTimeout:            3 * time.Second,
			},
			Refresh: worker.RefresherConfig{Interval: 0},
		},
		Breaker: resilience.DefaultBreakerConfig(),
		Rooms:   rooms,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	f := newFakeUpstream(t)
	room := domain.Room{ID: "42", OwnerID: "7", OwnerSlug: "streamer", EmoteSet: domain.NoEmoteSetRef()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, testConfig(f, room))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := w.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	if got := len(w.Manager().ReadyRooms()); got != 1 {
		t.Fatalf("ready rooms = %d, want 1", got)
	}

	snap, ok := w.Store().Snapshot("42")
	if !ok {
		t.Fatal("room 42 was not hydrated")
	}
	if len(snap.Messages) != 2 || snap.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v, want oldest first", snap.Messages)
	}
	if !snap.IsLive {
		t.Error("room should be live")
	}
	if len(snap.Emotes) != 1 || snap.Emotes[0].Name != "KEKW" {
		t.Errorf("emotes = %+v", snap.Emotes)
	}
	if len(w.Store().GlobalEmotes()) != 1 {
		t.Errorf("global emotes = %+v", w.Store().GlobalEmotes())
	}

	// Realtime chat messages land in the room state.
	waitFor(t, "chat subscriptions", func() bool { return len(f.subscriptions()) >= 3 })
	f.sendChat(t, "chatrooms.42.v2", `{"id":"m3","chatroom_id":42,"content":"third"}`)
	waitFor(t, "realtime message", func() bool {
		s, _ := w.Store().Snapshot("42")
		return len(s.Messages) == 3
	})

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWatcher_RoomAdmin(t *testing.T) {
	f := newFakeUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, testConfig(f))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop(context.Background()) }()

	body := `{"id":"42","owner_id":"7","owner_slug":"streamer"}`
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /rooms = %d: %s", rec.Code, rec.Body.String())
	}
	w.Manager().Wait()

	state, ok := w.Manager().RoomState("42")
	if !ok || state != domain.RoomStateReady {
		t.Fatalf("room state = %v (%v), want ready", state, ok)
	}

	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/42", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /rooms/42 = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms/42", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /rooms/42 = %d", rec.Code)
	}
	if state, _ := w.Manager().RoomState("42"); state != domain.RoomStateRemoved {
		t.Errorf("room state = %v, want removed", state)
	}
	if _, ok := w.Store().Snapshot("42"); ok {
		t.Error("room state should be forgotten")
	}

	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"id":"9"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid room = %d, want 400", rec.Code)
	}
}

func TestWatcher_StartFailsWithoutSockets(t *testing.T) {
	f := newFakeUpstream(t)
	cfg := testConfig(f)
	cfg.Kick.PusherURL = "ws://127.0.0.1:1"
	cfg.Bootstrap.ConnectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w, err := NewWatcher(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop(context.Background()) }()

	if err := w.Start(ctx); err == nil {
		t.Fatal("expected Start to fail when the chat socket is unreachable")
	}
}
