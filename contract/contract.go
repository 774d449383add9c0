//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain/chat"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one connection.
// Consume must never block the caller for longer than ctx allows.
type EventSink interface {
	Consume(ctx context.Context, e chat.DomainEvent) error
}

type IRegistry interface {
	Join(room chat.RoomName, connID chat.ConnectionID, sink EventSink)
	Leave(room chat.RoomName, connID chat.ConnectionID)
	MembersOf(room chat.RoomName) []chat.ConnectionID
	SinksOf(room chat.RoomName) []EventSink
}

// IMessageStore is the durable append-only log of chat messages.
type IMessageStore interface {
	Append(ctx context.Context, message chat.Message) (chat.Message, error)
	ListByRoom(ctx context.Context, room chat.RoomName) ([]chat.Message, error)
}

type IBroadcaster interface {
	Broadcast(ctx context.Context, room chat.RoomName, e chat.DomainEvent)
}
