package runtime

import (
	"chat-relay/domain/chat"
	"context"
	"sync"

	"github.com/google/uuid"
)

// recordingSink keeps every event it receives, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []chat.DomainEvent
	closed bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

func (s *recordingSink) Consume(_ context.Context, e chat.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Events() []chat.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.DomainEvent(nil), s.events...)
}

func (s *recordingSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// memoryStore is an in-memory message log assigning sequences like the badger store.
type memoryStore struct {
	mu       sync.Mutex
	messages []chat.Message
}

func (m *memoryStore) Append(_ context.Context, message chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message.ID = uuid.New()
	message.Seq = uint64(len(m.messages) + 1)
	m.messages = append(m.messages, message)
	return message, nil
}

func (m *memoryStore) ListByRoom(_ context.Context, room chat.RoomName) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.Room == room {
			out = append(out, msg)
		}
	}
	return out, nil
}
