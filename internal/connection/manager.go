package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/metrics"
)

// Manager owns the shared chat and auxiliary channels and the per-room
// bootstrap.
type Manager struct {
	cfg     Config
	chat    ChatChannel
	aux     AuxChannel
	fetcher DataFetcher
	monitor *resilience.Monitor
	logger  *slog.Logger
	now     func() time.Time
	sleep   resilience.SleepFunc

	initializing atomic.Bool
	stateCh      chan struct{}

	mu            sync.RWMutex
	rooms         map[string]*roomEntry
	generation    uint64
	handler       EventHandler
	store         Store
	onTransition  func(Transition)
	lifetime      context.Context
	cancelLife    context.CancelFunc
	closed        bool
	inflight      sync.WaitGroup
	unsubscribers []func()

	emoteMu      sync.RWMutex
	roomEmotes   map[string][]domain.Emote
	globalEmotes []domain.Emote
	globalCached bool
	emoteEpoch   uint64
	flight       singleflight.Group
	emoteSem     *semaphore.Weighted
}

// NewManager wires a manager. monitor may be nil, in which case a private
// monitor with default breaker settings is used.
func NewManager(
	cfg Config,
	chat ChatChannel,
	aux AuxChannel,
	fetcher DataFetcher,
	monitor *resilience.Monitor,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if monitor == nil {
		monitor = resilience.NewMonitor(resilience.DefaultBreakerConfig(), logger)
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:        cfg,
		chat:       chat,
		aux:        aux,
		fetcher:    fetcher,
		monitor:    monitor,
		logger:     logger.With("component", "connection"),
		now:        time.Now,
		sleep:      sleepCtx,
		stateCh:    make(chan struct{}, 1),
		rooms:      make(map[string]*roomEntry),
		roomEmotes: make(map[string][]domain.Emote),
		emoteSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentEmoteFetches)),
	}
	m.lifetime, m.cancelLife = context.WithCancel(context.Background())
	m.unsubscribers = []func(){
		chat.Listen(m.onChatEvent),
		aux.Listen(m.onAuxEvent),
	}
	return m
}

// SetSleepFunc replaces the inter-batch delay, mainly for tests.
func (m *Manager) SetSleepFunc(fn resilience.SleepFunc) {
	m.sleep = fn
}

// SetTransitionCallback registers fn for every room state change.
func (m *Manager) SetTransitionCallback(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Monitor returns the resilience monitor used for every outbound call.
func (m *Manager) Monitor() *resilience.Monitor { return m.monitor }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize connects both channels and bootstraps rooms in prioritized,
// staggered batches. It returns once every batch is subscribed and every
// hydration it started has settled. A call made while another is running
// is logged and ignored.
func (m *Manager) Initialize(ctx context.Context, rooms []domain.Room, handler EventHandler, store Store) error {
	if !m.initializing.CompareAndSwap(false, true) {
		m.logger.Warn("Initialization already in progress, ignoring call")
		return nil
	}
	defer m.initializing.Store(false)

	m.mu.Lock()
	m.handler = handler
	m.store = store
	if m.closed {
		m.lifetime, m.cancelLife = context.WithCancel(context.Background())
		m.closed = false
	}
	m.mu.Unlock()

	start := m.now()
	m.logger.Info("Initializing connections", "rooms", len(rooms))

	if err := m.connect(ctx); err != nil {
		return err
	}

	queued := make([]*roomEntry, 0, len(rooms))
	for _, room := range PrioritizeRooms(rooms) {
		if entry, ok := m.register(room); ok {
			queued = append(queued, entry)
		}
	}

	batches := Chunk(queued, m.cfg.BatchSize)
	var hydrations sync.WaitGroup
	for i, batch := range batches {
		if i > 0 {
			if err := m.sleep(ctx, m.cfg.BatchDelay); err != nil {
				m.abandon(batches[i:])
				hydrations.Wait()
				return fmt.Errorf("bootstrap interrupted before batch %d: %w", i+1, err)
			}
		}
		m.logger.Debug("Processing room batch", "batch", i+1, "of", len(batches), "size", len(batch))
		for _, entry := range batch {
			if !m.subscribeEntry(entry) {
				continue
			}
			hydrations.Add(1)
			m.inflight.Add(1)
			go func() {
				defer hydrations.Done()
				defer m.inflight.Done()
				m.hydrate(entry)
			}()
		}
	}
	hydrations.Wait()

	m.logger.Info("Initialization complete",
		"rooms", len(rooms),
		"batches", len(batches),
		"duration", m.now().Sub(start),
	)
	return nil
}

// connect starts both channels and waits until both report connected.
func (m *Manager) connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.chat.Connect(gctx); err != nil {
			return fmt.Errorf("chat channel: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.aux.Connect(gctx); err != nil {
			return fmt.Errorf("aux channel: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return m.waitConnected(ctx)
}

func (m *Manager) bothConnected() bool {
	return m.chat.State() == domain.ConnectionConnected &&
		m.aux.State() == domain.ConnectionConnected
}

func (m *Manager) waitConnected(ctx context.Context) error {
	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	for !m.bothConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			m.logger.Error("Realtime channels did not connect",
				"timeout", m.cfg.ConnectTimeout,
				"chat", m.chat.State(),
				"aux", m.aux.State(),
			)
			return ErrConnectTimeout
		case <-m.stateCh:
		}
	}
	return nil
}

// AddRoom subscribes a single room and hydrates it in the background.
// Failures are logged, never returned.
func (m *Manager) AddRoom(room domain.Room) {
	entry, ok := m.subscribe(room)
	if !ok {
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.hydrate(entry)
	}()
}

// RemoveRoom unregisters a room from both channels. In-flight hydration
// for it still completes but the room does not become ready.
func (m *Manager) RemoveRoom(roomID string) {
	m.mu.Lock()
	entry, ok := m.rooms[roomID]
	var t Transition
	var err error
	if ok {
		t, err = entry.transition(domain.RoomStateRemoved, "removed", m.now())
	}
	cb := m.onTransition
	m.mu.Unlock()

	m.chat.RemoveRoom(roomID)
	m.aux.RemoveRoom(roomID)

	if !ok || err != nil {
		m.logger.Debug("Removed room that was not active", "room", roomID)
		return
	}
	m.logger.Info("Room removed", "room", roomID)
	m.afterTransition(cb, t)
	m.releaseBreakers(entry.room)
}

// subscribe registers room and subscribes it right away.
func (m *Manager) subscribe(room domain.Room) (*roomEntry, bool) {
	entry, ok := m.register(room)
	if !ok {
		return nil, false
	}
	return entry, m.subscribeEntry(entry)
}

// register records room as pending, replacing any previous entry.
func (m *Manager) register(room domain.Room) (*roomEntry, bool) {
	if room.ID == "" {
		m.logger.Error("Cannot add room without id", "owner", room.OwnerSlug)
		return nil, false
	}

	m.mu.Lock()
	m.generation++
	entry := &roomEntry{
		room:       room,
		state:      domain.RoomStatePending,
		generation: m.generation,
		updatedAt:  m.now(),
	}
	m.rooms[room.ID] = entry
	m.mu.Unlock()
	m.updateRoomGauges()
	return entry, true
}

// subscribeEntry registers a pending entry with both channels and moves it
// to hydrating. It fails when the entry was removed or replaced meanwhile.
func (m *Manager) subscribeEntry(entry *roomEntry) bool {
	room := entry.room

	m.mu.Lock()
	if m.rooms[room.ID] != entry {
		m.mu.Unlock()
		return false
	}
	sub, err := entry.transition(domain.RoomStateSubscribing, "bootstrap", m.now())
	cb := m.onTransition
	m.mu.Unlock()
	if err != nil {
		return false
	}
	m.afterTransition(cb, sub)

	set := room.EmoteSet.OrNone()
	m.chat.AddRoom(room.ID, room.OwnerID, room.Meta())
	m.aux.AddRoom(room.ID, room.OwnerID, set)

	m.mu.Lock()
	hyd, err := entry.transition(domain.RoomStateHydrating, "subscribed", m.now())
	m.mu.Unlock()
	if err == nil {
		m.afterTransition(cb, hyd)
	}

	m.logger.Debug("Room subscribed",
		"room", room.ID,
		"owner", room.OwnerSlug,
		"emote_set", set.SetID,
	)
	return err == nil
}

// abandon drops entries still pending when bootstrap stops early.
func (m *Manager) abandon(batches [][]*roomEntry) {
	for _, batch := range batches {
		for _, entry := range batch {
			m.mu.Lock()
			var t Transition
			err := ErrInvalidTransition
			if m.rooms[entry.room.ID] == entry {
				t, err = entry.transition(domain.RoomStateRemoved, "bootstrap interrupted", m.now())
			}
			cb := m.onTransition
			m.mu.Unlock()
			if err == nil {
				m.afterTransition(cb, t)
			}
		}
	}
}

func (m *Manager) afterTransition(cb func(Transition), t Transition) {
	m.updateRoomGauges()
	if cb != nil {
		cb(t)
	}
}

func (m *Manager) updateRoomGauges() {
	counts := make(map[RoomState]int, len(ValidTransitions))
	m.mu.RLock()
	for _, e := range m.rooms {
		counts[e.state]++
	}
	m.mu.RUnlock()
	for state := range ValidTransitions {
		metrics.RoomStates.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (m *Manager) onChatEvent(ev domain.ChannelEvent) {
	m.onEvent("chat", ev, func(h EventHandler) { h.HandleChatEvent(ev) })
}

func (m *Manager) onAuxEvent(ev domain.ChannelEvent) {
	m.onEvent("aux", ev, func(h EventHandler) { h.HandleAuxEvent(ev) })
}

func (m *Manager) onEvent(channel string, ev domain.ChannelEvent, dispatch func(EventHandler)) {
	metrics.ChannelEvents.WithLabelValues(channel, string(ev.Type)).Inc()
	if ev.Type == domain.EventConnection {
		metrics.ChannelState.WithLabelValues(channel).Set(connectionGauge(ev.State))
		m.logger.Debug("Channel state changed", "channel", channel, "state", ev.State)
		select {
		case m.stateCh <- struct{}{}:
		default:
		}
	}

	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h != nil {
		dispatch(h)
	}
}

func connectionGauge(s domain.ConnectionState) float64 {
	switch s {
	case domain.ConnectionConnecting:
		return 1
	case domain.ConnectionConnected:
		return 2
	default:
		return 0
	}
}

// Wait blocks until every hydration started so far has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Cleanup closes both channels, clears caches and room state and resets
// the in-progress flag. It is safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	m.cancelLife()
	m.rooms = make(map[string]*roomEntry)
	m.mu.Unlock()

	if !alreadyClosed {
		if err := m.chat.Close(); err != nil {
			m.logger.Warn("Failed to close chat channel", "error", err)
		}
		if err := m.aux.Close(); err != nil {
			m.logger.Warn("Failed to close aux channel", "error", err)
		}
	}

	m.emoteMu.Lock()
	m.roomEmotes = make(map[string][]domain.Emote)
	m.globalEmotes = nil
	m.globalCached = false
	m.emoteEpoch++
	m.emoteMu.Unlock()
	metrics.EmoteCacheSize.Set(0)

	m.initializing.Store(false)
	m.updateRoomGauges()
	m.logger.Info("Connection manager cleaned up")
}

// Close is Cleanup followed by detaching the channel listeners.
func (m *Manager) Close() error {
	m.Cleanup()
	m.mu.Lock()
	unsubs := m.unsubscribers
	m.unsubscribers = nil
	m.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	return nil
}

func (m *Manager) lifetimeContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lifetime
}
