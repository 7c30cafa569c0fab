package connection

import (
	"errors"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

// RoomState is an alias for domain.RoomState for internal use.
type RoomState = domain.RoomState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid room state transition")

// ValidTransitions defines allowed room state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[RoomState][]RoomState{
	domain.RoomStatePending:     {domain.RoomStateSubscribing, domain.RoomStateRemoved},
	domain.RoomStateSubscribing: {domain.RoomStateHydrating, domain.RoomStateRemoved},
	domain.RoomStateHydrating:   {domain.RoomStateReady, domain.RoomStateRemoved},
	domain.RoomStateReady:       {domain.RoomStateRemoved},
	domain.RoomStateRemoved:     {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to RoomState) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a room state change.
type Transition struct {
	RoomID    string
	From      RoomState
	To        RoomState
	Reason    string
	Timestamp time.Time
}

// StateDescription returns a human-readable description of a room state.
func StateDescription(s RoomState) string {
	switch s {
	case domain.RoomStatePending:
		return "Pending - queued for bootstrap"
	case domain.RoomStateSubscribing:
		return "Subscribing - registering with both channels"
	case domain.RoomStateHydrating:
		return "Hydrating - fetching messages, live status and emotes"
	case domain.RoomStateReady:
		return "Ready - subscribed and hydrated"
	case domain.RoomStateRemoved:
		return "Removed - no longer watched"
	default:
		return "Unknown state"
	}
}

// roomEntry tracks one watched room. A re-added room gets a fresh entry so
// late results from an older generation cannot advance it.
type roomEntry struct {
	room        domain.Room
	state       RoomState
	generation  uint64
	updatedAt   time.Time
	transitions []Transition
}

const maxTransitionHistory = 16

func (e *roomEntry) transition(to RoomState, reason string, now time.Time) (Transition, error) {
	if !CanTransition(e.state, to) {
		return Transition{}, ErrInvalidTransition
	}
	t := Transition{RoomID: e.room.ID, From: e.state, To: to, Reason: reason, Timestamp: now}
	e.state = to
	e.updatedAt = now
	e.transitions = append(e.transitions, t)
	if len(e.transitions) > maxTransitionHistory {
		e.transitions = e.transitions[len(e.transitions)-maxTransitionHistory:]
	}
	return t, nil
}
