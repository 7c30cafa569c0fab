package domain

// NoEmoteSet is the sentinel id used on the auxiliary channel when a room
// has no emote set attached.
const NoEmoteSet = "0"

// Room is a watched chat context. It is owned by the caller; the core only
// reads it.
type Room struct {
	ID          string      `yaml:"id"           json:"id"           db:"id"`
	OwnerID     string      `yaml:"owner_id"     json:"owner_id"     db:"owner_id"`
	OwnerSlug   string      `yaml:"owner_slug"   json:"owner_slug"   db:"owner_slug"`
	DisplayName string      `yaml:"display_name" json:"display_name" db:"display_name"`
	EmoteSet    EmoteSetRef `yaml:"emote_set"    json:"emote_set"`
	IsLive      bool        `yaml:"is_live"      json:"is_live"      db:"is_live"`
}

// Meta returns the metadata passed to the chat channel on registration.
func (r Room) Meta() RoomMeta {
	return RoomMeta{Slug: r.OwnerSlug, DisplayName: r.DisplayName}
}

// RoomMeta is the descriptive part of a room forwarded to the chat channel.
type RoomMeta struct {
	Slug        string
	DisplayName string
}

// EmoteSetRef identifies an emote set on the auxiliary channel.
type EmoteSetRef struct {
	OwnerID string `yaml:"owner_id" json:"owner_id" db:"emote_owner_id"`
	SetID   string `yaml:"set_id"   json:"set_id"   db:"emote_set_id"`
}

// NoEmoteSetRef returns the sentinel ("0","0") pair.
func NoEmoteSetRef() EmoteSetRef {
	return EmoteSetRef{OwnerID: NoEmoteSet, SetID: NoEmoteSet}
}

// IsZero reports whether neither id is set.
func (e EmoteSetRef) IsZero() bool {
	return e.OwnerID == "" && e.SetID == ""
}

// IsNone reports whether the ref is absent or the sentinel pair.
func (e EmoteSetRef) IsNone() bool {
	if e.IsZero() {
		return true
	}
	return e.OwnerID == NoEmoteSet && e.SetID == NoEmoteSet
}

// OrNone returns the ref, or the sentinel pair when it is absent.
func (e EmoteSetRef) OrNone() EmoteSetRef {
	if e.OwnerID == "" || e.SetID == "" {
		return NoEmoteSetRef()
	}
	return e
}

// RoomState is the bootstrap lifecycle state of a watched room.
type RoomState string

const (
	RoomStatePending     RoomState = "pending"
	RoomStateSubscribing RoomState = "subscribing"
	RoomStateHydrating   RoomState = "hydrating"
	RoomStateReady       RoomState = "ready"
	RoomStateRemoved     RoomState = "removed"
)
