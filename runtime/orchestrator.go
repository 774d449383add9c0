package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"context"
	"log/slog"
	"time"
)

// Orchestrator wires the registry, the broadcaster and the session manager
// around one message store, and runs the background workers under supervision.
type Orchestrator struct {
	log         *slog.Logger
	supervisor  contract.ISupervisor
	registry    *Registry
	broadcaster *Broadcaster
	sessions    *SessionManager
	done        chan struct{}
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, store contract.IMessageStore,
	sinkTimeout time.Duration, policy Policy) *Orchestrator {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry, sinkTimeout)
	return &Orchestrator{
		log:         log,
		supervisor:  supervisor,
		registry:    registry,
		broadcaster: broadcaster,
		sessions:    NewSessionManager(log, registry, store, broadcaster, policy),
		done:        make(chan struct{}),
	}
}

func (o *Orchestrator) Sessions() *SessionManager {
	return o.sessions
}

// Add registers workers to start with the orchestrator.
func (o *Orchestrator) Add(workers ...contract.Worker) {
	o.supervisor.Add(workers...)
}

// Start runs the supervised workers in the background until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		defer close(o.done)
		o.supervisor.Run(ctx)
	}()
	o.log.Info("Orchestrator started")
}

// Stop cancels the workers and waits for them.
func (o *Orchestrator) Stop() {
	o.supervisor.Stop()
	<-o.done
	o.log.Info("Orchestrator stopped", "delivered", o.Delivered(), "failures", o.Failures())
}

func (o *Orchestrator) Rooms() map[chat.RoomName]int {
	return o.registry.Rooms()
}

func (o *Orchestrator) ConnectionCount() int {
	return o.sessions.ConnectionCount()
}

func (o *Orchestrator) Delivered() uint64 {
	return o.broadcaster.Delivered()
}

func (o *Orchestrator) Failures() uint64 {
	return o.broadcaster.Failures()
}
