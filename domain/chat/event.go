package chat

import "fmt"

// DomainEvent is anything delivered to the members of a room.
type DomainEvent interface {
	RoomName() RoomName
}

type UserJoined struct {
	Username string
	Room     RoomName
}

func (e UserJoined) RoomName() RoomName { return e.Room }

func (e UserJoined) Status() string {
	return fmt.Sprintf("%s joined room '%s'", e.Username, e.Room)
}

type UserLeft struct {
	Username string
	Room     RoomName
}

func (e UserLeft) RoomName() RoomName { return e.Room }

func (e UserLeft) Status() string {
	return fmt.Sprintf("%s left room '%s'", e.Username, e.Room)
}

// MessagePosted carries a message that has already been committed.
type MessagePosted struct {
	Message Message
}

func (e MessagePosted) RoomName() RoomName { return e.Message.Room }

// HistoryReplayed is sent to a single connection when it joins a room.
// It is never broadcast.
type HistoryReplayed struct {
	Room     RoomName
	Messages []Message
}

func (e HistoryReplayed) RoomName() RoomName { return e.Room }

// Announcement is implemented by the events rendered as a status line.
type Announcement interface {
	DomainEvent
	Status() string
}

var (
	_ Announcement = UserJoined{}
	_ Announcement = UserLeft{}
)
