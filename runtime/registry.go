package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"sync"

	"github.com/samber/lo"
)

var _ contract.IRegistry = (*Registry)(nil)

// members maps a connection to the sink its events are delivered to.
type members map[chat.ConnectionID]contract.EventSink

type Registry struct {
	mu          sync.RWMutex
	roomMembers map[chat.RoomName]members
}

func NewRegistry() *Registry {
	return &Registry{roomMembers: make(map[chat.RoomName]members)}
}

// Join adds a connection to the room member set.
// Joining twice is a no-op; the sink registered first is kept.
// If the room does not yet exist in the registry, it is initialized on the fly.
func (r *Registry) Join(room chat.RoomName, connID chat.ConnectionID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.roomMembers[room]
	if !ok {
		m = make(members)
		r.roomMembers[room] = m
	}
	if _, exists := m[connID]; exists {
		return
	}
	m[connID] = sink
}

// Leave removes a connection from the room if present.
// It ensures no empty sets are left in the room map
// to prevent memory leaks over time.
func (r *Registry) Leave(room chat.RoomName, connID chat.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.roomMembers[room]
	if !ok {
		return
	}
	delete(m, connID)

	// If no one is left in the room, remove the room entry entirely
	if len(m) == 0 {
		delete(r.roomMembers, room)
	}
}

// MembersOf returns a snapshot of the room members. The slice is owned by the
// caller and is not updated by later joins or leaves.
func (r *Registry) MembersOf(room chat.RoomName) []chat.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	return lo.Keys(m)
}

// SinksOf returns a snapshot of the sinks of every room member.
// Returns nil if the room doesn't exist or has no members.
func (r *Registry) SinksOf(room chat.RoomName) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	return lo.Values(m)
}

// Rooms returns the member count of every non-empty room.
func (r *Registry) Rooms() map[chat.RoomName]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapValues(r.roomMembers, func(m members, _ chat.RoomName) int {
		return len(m)
	})
}
