package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"
)

var _ contract.EventSink = (*ConnectionSink)(nil)

// ConnectionSink is the outbound queue of one websocket connection.
// The broadcaster enqueues, the connection write pump drains Events().
type ConnectionSink struct {
	mu     sync.RWMutex
	events chan chat.DomainEvent
	closed bool
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{events: make(chan chat.DomainEvent, bufferSize)}
}

// Consume is called by the broadcaster.
// It never blocks: a full buffer means the client is too slow and the event is dropped.
func (s *ConnectionSink) Consume(ctx context.Context, e chat.DomainEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.ErrSinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.events <- e:
		return nil
	default:
		return fmt.Errorf("%w: buffer full (%d)", errors.ErrDelivery, cap(s.events))
	}
}

// Events is closed once the sink is closed and drained.
func (s *ConnectionSink) Events() <-chan chat.DomainEvent {
	return s.events
}

// Close can be called several times.
func (s *ConnectionSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
