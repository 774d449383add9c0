// Package chat contains core concepts of the relay: rooms, messages and the
// events emitted to room members.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// TimeOfDayLayout is the "HH:MM" format carried by every message on the wire.
const TimeOfDayLayout = "15:04"

// Message represents an immutable chat message.
// ID and Seq are zero until the message store commits it.
type Message struct {
	ID     uuid.UUID
	Seq    uint64
	Sender string
	Room   RoomName
	Text   string
	SentAt string
	At     time.Time
}

// NewMessage builds an uncommitted message sent at the given instant.
// SentAt keeps the sender-side wall clock, At is normalized to UTC.
func NewMessage(sender string, room RoomName, text string, at time.Time) Message {
	return Message{
		Sender: sender,
		Room:   room,
		Text:   text,
		SentAt: at.Format(TimeOfDayLayout),
		At:     at.UTC(),
	}
}

// Committed reports whether the store assigned an identifier.
func (m Message) Committed() bool {
	return m.ID != uuid.Nil
}
