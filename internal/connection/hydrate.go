package connection

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/metrics"
)

// Operation names double as circuit breaker names. Per-room calls scope
// their breaker to the channel owner so one dead channel cannot open it for
// every room.
const (
	OpInitialMessages = "kick.initial_messages"
	OpLiveStatus      = "kick.live_status"
	OpRoomEmotes      = "emotes.room"
	OpGlobalEmotes    = "emotes.global"
)

// hydrate loads messages, live status and emotes for a subscribed room.
// Each part fails independently; the room becomes ready with whatever
// arrived unless it was removed or replaced meanwhile.
func (m *Manager) hydrate(entry *roomEntry) {
	ctx := m.lifetimeContext()
	room := entry.room
	start := m.now()

	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		m.hydrateMessages(ctx, room, store)
	}()
	go func() {
		defer wg.Done()
		m.hydrateLiveStatus(ctx, room, store)
	}()
	go func() {
		defer wg.Done()
		m.hydrateEmotes(ctx, room, store)
	}()
	wg.Wait()

	metrics.HydrationDuration.Observe(m.now().Sub(start).Seconds())

	m.mu.Lock()
	current, ok := m.rooms[room.ID]
	if !ok || current != entry {
		m.mu.Unlock()
		m.logger.Debug("Hydration finished for stale room", "room", room.ID)
		return
	}
	t, err := entry.transition(domain.RoomStateReady, "hydrated", m.now())
	cb := m.onTransition
	m.mu.Unlock()
	if err != nil {
		m.logger.Debug("Room left hydrating before completion", "room", room.ID, "state", entry.state)
		return
	}
	m.afterTransition(cb, t)
	m.logger.Debug("Room ready", "room", room.ID, "duration", m.now().Sub(start))
}

func (m *Manager) hydrateMessages(ctx context.Context, room domain.Room, store Store) {
	initial, err := resilience.Execute(ctx, m.monitor, resilience.Options{
		Operation: OpInitialMessages,
		Key:       room.OwnerID,
		Component: resilience.ComponentAPI,
		User:      room.ID,
		Policy:    resilience.PolicyAPI,
	}, func(ctx context.Context) (domain.InitialMessages, error) {
		return m.fetcher.GetInitialMessages(ctx, room)
	})
	if err != nil {
		m.logger.Warn("Failed to load initial messages", "room", room.ID, "error", err)
		return
	}
	if store == nil {
		return
	}

	if initial.PinnedMessage != nil {
		store.OnPinnedMessageCreated(room.ID, *initial.PinnedMessage)
	} else {
		store.OnPinnedMessageDeleted(room.ID)
	}

	msgs := slices.Clone(initial.Messages)
	slices.Reverse(msgs)
	store.OnInitialMessages(room.ID, msgs)
}

func (m *Manager) hydrateLiveStatus(ctx context.Context, room domain.Room, store Store) {
	if err := m.refreshLiveStatus(ctx, room, store); err != nil {
		m.logger.Warn("Failed to load live status", "room", room.ID, "error", err)
	}
}

func (m *Manager) refreshLiveStatus(ctx context.Context, room domain.Room, store Store) error {
	status, err := resilience.Execute(ctx, m.monitor, resilience.Options{
		Operation: OpLiveStatus,
		Key:       room.OwnerSlug,
		Component: resilience.ComponentAPI,
		User:      room.ID,
		Policy:    resilience.PolicyAPI,
	}, func(ctx context.Context) (domain.LiveStatus, error) {
		return m.fetcher.GetLiveStatus(ctx, room)
	})
	if err != nil {
		return err
	}
	if store != nil {
		store.OnLiveStatusChanged(room.ID, status.Raw, status.IsLive)
	}
	return nil
}

func (m *Manager) hydrateEmotes(ctx context.Context, room domain.Room, store Store) {
	emoteStore, _ := store.(EmoteStore)

	emotes, err := m.FetchRoomEmotes(ctx, room)
	if err != nil {
		m.logger.Warn("Failed to load room emotes", "room", room.ID, "owner", room.OwnerSlug, "error", err)
	} else if emoteStore != nil {
		emoteStore.OnRoomEmotes(room.ID, emotes)
	}

	global, err := m.FetchGlobalEmotes(ctx)
	if err != nil {
		m.logger.Warn("Failed to load global emotes", "error", err)
	} else if emoteStore != nil {
		emoteStore.OnGlobalEmotes(global)
	}
}

// RefreshLiveStatus re-fetches the live status of a watched room and
// forwards it to the store.
func (m *Manager) RefreshLiveStatus(ctx context.Context, roomID string) error {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	store := m.store
	var room domain.Room
	if ok {
		room = entry.room
	}
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownRoom
	}
	return m.refreshLiveStatus(ctx, room, store)
}

// releaseBreakers drops the per-owner breakers of a removed room unless
// another watched room still uses them.
func (m *Manager) releaseBreakers(room domain.Room) {
	m.mu.RLock()
	sharedID, sharedSlug := false, false
	for _, e := range m.rooms {
		if e.state == domain.RoomStateRemoved || e.room.ID == room.ID {
			continue
		}
		sharedID = sharedID || e.room.OwnerID == room.OwnerID
		sharedSlug = sharedSlug || e.room.OwnerSlug == room.OwnerSlug
	}
	m.mu.RUnlock()

	if !sharedID {
		m.monitor.RemoveBreaker(resilience.BreakerName(OpInitialMessages, room.OwnerID))
	}
	if !sharedSlug {
		m.monitor.RemoveBreaker(resilience.BreakerName(OpLiveStatus, room.OwnerSlug))
		m.monitor.RemoveBreaker(resilience.BreakerName(OpRoomEmotes, room.OwnerSlug))
	}
}
