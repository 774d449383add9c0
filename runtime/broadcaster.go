package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var _ contract.IBroadcaster = (*Broadcaster)(nil)

// Broadcaster fans a domain event out to every member of a room.
//
// Delivery is best-effort: a sink that fails, is full, is closed or exceeds
// sinkTimeout is logged and counted, never reported to the caller, and never
// prevents delivery to the other members.
//
// Broadcasts are serialized so that two events are enqueued to every common
// member in the order Broadcast was called.
type Broadcaster struct {
	mu          sync.Mutex
	log         *slog.Logger
	registry    contract.IRegistry
	sinkTimeout time.Duration
	delivered   atomic.Uint64
	failures    atomic.Uint64
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry, sinkTimeout time.Duration) *Broadcaster {
	return &Broadcaster{log: log, registry: registry, sinkTimeout: sinkTimeout}
}

func (b *Broadcaster) Broadcast(ctx context.Context, room chat.RoomName, e chat.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sinks := b.registry.SinksOf(room)
	for _, sink := range sinks {
		if err := b.deliver(ctx, sink, e); err != nil {
			b.failures.Add(1)
			b.log.Debug("Delivery failed", "room", room, "event", fmt.Sprintf("%T", e), "error", err)
			continue
		}
		b.delivered.Add(1)
	}
}

// deliver bounds a single Consume call and turns a panicking sink into a
// delivery failure.
func (b *Broadcaster) deliver(ctx context.Context, sink contract.EventSink, e chat.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panicked: %v", errors.ErrDelivery, r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
	defer cancel()
	return sink.Consume(ctx, e)
}

// Delivered is the number of successful per-sink deliveries so far.
func (b *Broadcaster) Delivered() uint64 { return b.delivered.Load() }

// Failures is the number of per-sink delivery failures so far.
func (b *Broadcaster) Failures() uint64 { return b.failures.Load() }
