package connection

import (
	"context"
	"strconv"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/metrics"
)

const globalEmotesKey = "global"

// FetchRoomEmotes returns the emotes of room's owner, fetching them at most
// once per owner slug. A cache hit never touches the network.
func (m *Manager) FetchRoomEmotes(ctx context.Context, room domain.Room) ([]domain.Emote, error) {
	slug := room.OwnerSlug
	if emotes, ok := m.cachedRoomEmotes(slug); ok {
		metrics.EmoteFetches.WithLabelValues("room", "hit").Inc()
		return emotes, nil
	}

	epoch := m.currentEmoteEpoch()
	return m.shared(ctx, flightKey("room:"+slug, epoch), func(ctx context.Context) ([]domain.Emote, error) {
		if emotes, ok := m.cachedRoomEmotes(slug); ok {
			return emotes, nil
		}
		emotes, err := m.limitedFetch(ctx, resilience.Options{
			Operation: OpRoomEmotes,
			Key:       slug,
			Component: resilience.ComponentAPI,
			User:      room.ID,
			Policy:    resilience.PolicyThirdPartyService,
		}, func(ctx context.Context) ([]domain.Emote, error) {
			return m.fetcher.GetRoomEmotes(ctx, slug)
		})
		if err != nil {
			metrics.EmoteFetches.WithLabelValues("room", "error").Inc()
			return nil, err
		}
		metrics.EmoteFetches.WithLabelValues("room", "miss").Inc()

		m.emoteMu.Lock()
		if m.emoteEpoch != epoch {
			m.emoteMu.Unlock()
			return emotes, nil
		}
		if cached, ok := m.roomEmotes[slug]; ok {
			emotes = cached
		} else {
			m.roomEmotes[slug] = emotes
		}
		size := len(m.roomEmotes)
		m.emoteMu.Unlock()
		metrics.EmoteCacheSize.Set(float64(size))
		return emotes, nil
	})
}

// FetchGlobalEmotes returns the process-wide emote set. It is fetched once;
// concurrent callers wait for the same in-flight request. A result that
// lands after Cleanup is returned but not cached.
func (m *Manager) FetchGlobalEmotes(ctx context.Context) ([]domain.Emote, error) {
	if emotes, ok := m.cachedGlobalEmotes(); ok {
		metrics.EmoteFetches.WithLabelValues("global", "hit").Inc()
		return emotes, nil
	}

	epoch := m.currentEmoteEpoch()
	return m.shared(ctx, flightKey(globalEmotesKey, epoch), func(ctx context.Context) ([]domain.Emote, error) {
		if emotes, ok := m.cachedGlobalEmotes(); ok {
			return emotes, nil
		}
		emotes, err := m.limitedFetch(ctx, resilience.Options{
			Operation: OpGlobalEmotes,
			Component: resilience.Component7TV,
			Policy:    resilience.PolicyThirdPartyService,
		}, m.fetcher.GetGlobalEmotes)
		if err != nil {
			metrics.EmoteFetches.WithLabelValues("global", "error").Inc()
			return nil, err
		}
		metrics.EmoteFetches.WithLabelValues("global", "miss").Inc()

		m.emoteMu.Lock()
		if m.emoteEpoch != epoch {
			m.emoteMu.Unlock()
			return emotes, nil
		}
		if !m.globalCached {
			m.globalEmotes = emotes
			m.globalCached = true
		}
		emotes = m.globalEmotes
		m.emoteMu.Unlock()
		return emotes, nil
	})
}

// limitedFetch runs a protected emote fetch under the global concurrency cap.
func (m *Manager) limitedFetch(
	ctx context.Context,
	opts resilience.Options,
	op func(context.Context) ([]domain.Emote, error),
) ([]domain.Emote, error) {
	if err := m.emoteSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.emoteSem.Release(1)
	return resilience.Execute(ctx, m.monitor, opts, op)
}

// shared collapses concurrent calls for key into one fetch. The fetch runs
// on the manager lifetime so one caller giving up does not fail the others.
func (m *Manager) shared(
	ctx context.Context,
	key string,
	fn func(context.Context) ([]domain.Emote, error),
) ([]domain.Emote, error) {
	life := m.lifetimeContext()
	ch := m.flight.DoChan(key, func() (any, error) {
		return fn(life)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Emote), nil
	}
}

// flightKey scopes a single-flight key to a cache epoch so fetches started
// before Cleanup are never joined by later callers.
func flightKey(key string, epoch uint64) string {
	return key + "@" + strconv.FormatUint(epoch, 10)
}

func (m *Manager) currentEmoteEpoch() uint64 {
	m.emoteMu.RLock()
	defer m.emoteMu.RUnlock()
	return m.emoteEpoch
}

func (m *Manager) cachedRoomEmotes(slug string) ([]domain.Emote, bool) {
	m.emoteMu.RLock()
	defer m.emoteMu.RUnlock()
	emotes, ok := m.roomEmotes[slug]
	return emotes, ok
}

func (m *Manager) cachedGlobalEmotes() ([]domain.Emote, bool) {
	m.emoteMu.RLock()
	defer m.emoteMu.RUnlock()
	return m.globalEmotes, m.globalCached
}
