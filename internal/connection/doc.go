// Package connection orchestrates the two shared realtime channels (chat and
// auxiliary emote events) across every watched room.
//
// Bootstrap runs in prioritized, staggered batches: live rooms first, a fixed
// number of rooms per batch and a delay between batches. Each room is
// registered with both channels and then hydrated in the background
// (initial messages, pinned message, live status, emotes). Hydration calls
// go through the resilience monitor, and failures are logged without
// affecting other rooms.
//
// Room emotes are cached per owner slug and the global emote set is cached
// once per process. Concurrent requests for the same key share a single
// in-flight fetch, and a weighted semaphore caps emote fetches across the
// whole sweep.
package connection
