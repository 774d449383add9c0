package chat

import "strings"

// RoomName identifies a room. A room has no record of its own: it exists as long
// as it has members or stored messages.
type RoomName string

// ConnectionID is the opaque handle of one live client session.
type ConnectionID string

func (r RoomName) String() string { return string(r) }

// Normalize trims surrounding whitespace.
func (r RoomName) Normalize() RoomName {
	return RoomName(strings.TrimSpace(string(r)))
}
