// Package fetch combines the Kick and 7TV REST clients into the data-fetch
// collaborator used during room hydration.
package fetch

import (
	"context"
	"log/slog"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

// Kick is the subset of the Kick client used here.
type Kick interface {
	InitialMessages(ctx context.Context, ownerID string) (domain.InitialMessages, error)
	LiveStatus(ctx context.Context, slug string) (domain.LiveStatus, error)
	ChannelEmotes(ctx context.Context, slug string) ([]domain.Emote, error)
}

// SevenTV is the subset of the 7TV client used here.
type SevenTV interface {
	GlobalEmotes(ctx context.Context) ([]domain.Emote, error)
}

// EmoteCache is a shared cache tier in front of the emote endpoints.
type EmoteCache interface {
	RoomEmotes(ctx context.Context, slug string) ([]domain.Emote, bool, error)
	SetRoomEmotes(ctx context.Context, slug string, emotes []domain.Emote) error
	GlobalEmotes(ctx context.Context) ([]domain.Emote, bool, error)
	SetGlobalEmotes(ctx context.Context, emotes []domain.Emote) error
}

// Fetcher loads room data from the upstream APIs.
type Fetcher struct {
	kick    Kick
	seventv SevenTV
	cache   EmoteCache
	logger  *slog.Logger
}

// New creates a Fetcher. cache may be nil.
func New(kick Kick, seventv SevenTV, cache EmoteCache, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		kick:    kick,
		seventv: seventv,
		cache:   cache,
		logger:  logger.With("component", "fetch"),
	}
}

// GetInitialMessages loads recent messages by the room owner's channel id.
func (f *Fetcher) GetInitialMessages(ctx context.Context, room domain.Room) (domain.InitialMessages, error) {
	return f.kick.InitialMessages(ctx, room.OwnerID)
}

// GetLiveStatus loads the live state by the room owner's slug.
func (f *Fetcher) GetLiveStatus(ctx context.Context, room domain.Room) (domain.LiveStatus, error) {
	return f.kick.LiveStatus(ctx, room.OwnerSlug)
}

// GetRoomEmotes loads the channel emotes of ownerSlug.
func (f *Fetcher) GetRoomEmotes(ctx context.Context, ownerSlug string) ([]domain.Emote, error) {
	return cached(ctx, f,
		func(ctx context.Context) ([]domain.Emote, bool, error) { return f.cache.RoomEmotes(ctx, ownerSlug) },
		func(ctx context.Context, e []domain.Emote) error { return f.cache.SetRoomEmotes(ctx, ownerSlug, e) },
		func(ctx context.Context) ([]domain.Emote, error) { return f.kick.ChannelEmotes(ctx, ownerSlug) },
		"room", ownerSlug,
	)
}

// GetGlobalEmotes loads the 7TV global emote set.
func (f *Fetcher) GetGlobalEmotes(ctx context.Context) ([]domain.Emote, error) {
	return cached(ctx, f,
		func(ctx context.Context) ([]domain.Emote, bool, error) { return f.cache.GlobalEmotes(ctx) },
		func(ctx context.Context, e []domain.Emote) error { return f.cache.SetGlobalEmotes(ctx, e) },
		f.seventv.GlobalEmotes,
		"global", "",
	)
}

// cached reads through the cache tier. Cache errors are logged and treated
// as a miss; they never fail the fetch.
func cached(
	ctx context.Context,
	f *Fetcher,
	get func(context.Context) ([]domain.Emote, bool, error),
	set func(context.Context, []domain.Emote) error,
	load func(context.Context) ([]domain.Emote, error),
	scope, key string,
) ([]domain.Emote, error) {
	if f.cache != nil {
		emotes, found, err := get(ctx)
		switch {
		case err != nil:
			f.logger.Warn("Emote cache read failed", "scope", scope, "key", key, "error", err)
		case found:
			return emotes, nil
		}
	}

	emotes, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := set(ctx, emotes); err != nil {
			f.logger.Warn("Emote cache write failed", "scope", scope, "key", key, "error", err)
		}
	}
	return emotes, nil
}
