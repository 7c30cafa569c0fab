package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

// =============================================================================
// Mock Channels
// =============================================================================

type fakeChannel struct {
	mu           sync.Mutex
	state        domain.ConnectionState
	autoConnect  bool
	rooms        map[string]bool
	added        []string
	removed      []string
	listeners    map[int]EventListener
	nextID       int
	connectCalls int
	closeCalls   int
}

func (f *fakeChannel) init(autoConnect bool) {
	f.state = domain.ConnectionDisconnected
	f.autoConnect = autoConnect
	f.rooms = make(map[string]bool)
	f.listeners = make(map[int]EventListener)
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	auto := f.autoConnect
	f.mu.Unlock()
	if auto {
		f.setState(domain.ConnectionConnected)
	} else {
		f.setState(domain.ConnectionConnecting)
	}
	return nil
}

func (f *fakeChannel) setState(s domain.ConnectionState) {
	f.emit(domain.ChannelEvent{Type: domain.EventConnection, State: s}, func() { f.state = s })
}

func (f *fakeChannel) emit(ev domain.ChannelEvent, mutate func()) {
	f.mu.Lock()
	if mutate != nil {
		mutate()
	}
	ls := make([]EventListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (f *fakeChannel) register(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[roomID] = true
	f.added = append(f.added, roomID)
}

func (f *fakeChannel) RemoveRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	f.removed = append(f.removed, roomID)
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.setState(domain.ConnectionDisconnected)
	return nil
}

func (f *fakeChannel) State() domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) RoomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

func (f *fakeChannel) SubscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func (f *fakeChannel) Listen(fn EventListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeChannel) addedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

type fakeChat struct {
	fakeChannel
	onAdd func(roomID string)
}

func (f *fakeChat) AddRoom(roomID, ownerID string, meta domain.RoomMeta) {
	f.register(roomID)
	if f.onAdd != nil {
		f.onAdd(roomID)
	}
}

type fakeAux struct {
	fakeChannel
	sets map[string]domain.EmoteSetRef
}

func (f *fakeAux) AddRoom(roomID, ownerID string, set domain.EmoteSetRef) {
	f.mu.Lock()
	f.sets[roomID] = set
	f.mu.Unlock()
	f.register(roomID)
}

func (f *fakeAux) setFor(roomID string) domain.EmoteSetRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[roomID]
}

func newFakeChat(auto bool) *fakeChat {
	c := &fakeChat{}
	c.init(auto)
	return c
}

func newFakeAux(auto bool) *fakeAux {
	a := &fakeAux{sets: make(map[string]domain.EmoteSetRef)}
	a.init(auto)
	return a
}

// =============================================================================
// Mock Fetcher
// =============================================================================

type fakeFetcher struct {
	mu          sync.Mutex
	messages    map[string]domain.InitialMessages
	messagesErr error
	liveErr     error
	liveErrs    map[string]error // by owner slug
	emotesErr   error
	calls       map[string]int

	// optional hooks
	liveGate    chan struct{}
	globalGate  chan struct{}
	emoteDelay  time.Duration
	inflight    int
	maxInflight int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		messages: make(map[string]domain.InitialMessages),
		liveErrs: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) inc(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
}

func (f *fakeFetcher) GetInitialMessages(ctx context.Context, room domain.Room) (domain.InitialMessages, error) {
	f.inc("messages")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return domain.InitialMessages{}, f.messagesErr
	}
	return f.messages[room.ID], nil
}

func (f *fakeFetcher) GetLiveStatus(ctx context.Context, room domain.Room) (domain.LiveStatus, error) {
	f.inc("live")
	if f.liveGate != nil {
		select {
		case <-f.liveGate:
		case <-ctx.Done():
			return domain.LiveStatus{}, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.liveErr
	if slugErr, ok := f.liveErrs[room.OwnerSlug]; ok {
		err = slugErr
	}
	f.mu.Unlock()
	if err != nil {
		return domain.LiveStatus{}, err
	}
	raw := json.RawMessage(fmt.Sprintf(`{"slug":%q}`, room.OwnerSlug))
	return domain.LiveStatus{IsLive: room.IsLive, Raw: raw}, nil
}

func (f *fakeFetcher) GetRoomEmotes(ctx context.Context, ownerSlug string) ([]domain.Emote, error) {
	f.inc("room_emotes")
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.emoteDelay
	err := f.emotesErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []domain.Emote{{ID: ownerSlug + "-1", Name: "Kappa", Platform: "kick"}}, nil
}

func (f *fakeFetcher) GetGlobalEmotes(ctx context.Context) ([]domain.Emote, error) {
	f.inc("global_emotes")
	if f.globalGate != nil {
		<-f.globalGate
	}
	return []domain.Emote{{ID: "g1", Name: "OMEGALUL", Platform: "7tv"}}, nil
}

// =============================================================================
// Mock Store
// =============================================================================

type fakeStore struct {
	mu       sync.Mutex
	pinned   map[string]*domain.PinnedMessage
	unpinned map[string]int
	messages map[string][]domain.ChatMessage
	live     map[string]bool
	emotes   map[string][]domain.Emote
	global   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pinned:   make(map[string]*domain.PinnedMessage),
		unpinned: make(map[string]int),
		messages: make(map[string][]domain.ChatMessage),
		live:     make(map[string]bool),
		emotes:   make(map[string][]domain.Emote),
	}
}

func (s *fakeStore) OnPinnedMessageCreated(roomID string, msg domain.PinnedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[roomID] = &msg
}

func (s *fakeStore) OnPinnedMessageDeleted(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, roomID)
	s.unpinned[roomID]++
}

func (s *fakeStore) OnInitialMessages(roomID string, msgs []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[roomID] = msgs
}

func (s *fakeStore) OnLiveStatusChanged(roomID string, raw json.RawMessage, isLive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[roomID] = isLive
}

func (s *fakeStore) OnRoomEmotes(roomID string, emotes []domain.Emote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotes[roomID] = emotes
}

func (s *fakeStore) OnGlobalEmotes(emotes []domain.Emote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global++
}

// =============================================================================
// Helpers
// =============================================================================

type harness struct {
	m       *Manager
	chat    *fakeChat
	aux     *fakeAux
	fetcher *fakeFetcher
	store   *fakeStore
	sleeps  []time.Duration
	sleepMu sync.Mutex
}

func newHarness(t *testing.T, cfg Config, autoConnect bool) *harness {
	t.Helper()
	h := &harness{
		chat:    newFakeChat(autoConnect),
		aux:     newFakeAux(autoConnect),
		fetcher: newFakeFetcher(),
		store:   newFakeStore(),
	}
	monitor := resilience.NewMonitor(resilience.DefaultBreakerConfig(), nil)
	monitor.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	h.m = NewManager(cfg, h.chat, h.aux, h.fetcher, monitor, nil)
	h.m.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		defer h.sleepMu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	})
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

func (h *harness) recordedSleeps() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func rooms(n int) []domain.Room {
	out := make([]domain.Room, n)
	for i := range out {
		out[i] = domain.Room{
			ID:        fmt.Sprintf("room-%d", i+1),
			OwnerID:   fmt.Sprintf("owner-%d", i+1),
			OwnerSlug: fmt.Sprintf("streamer%d", i+1),
			EmoteSet:  domain.EmoteSetRef{OwnerID: fmt.Sprintf("7tv-%d", i+1), SetID: fmt.Sprintf("set-%d", i+1)},
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }
