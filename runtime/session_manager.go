// Package runtime holds the in-memory state of the relay: room membership,
// fan-out and the per-connection session lifecycle.
// It coordinates the message store but contains no transport logic.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Policy groups the knobs of the session state machine.
type Policy struct {
	// StrictMembership rejects a join from a connection already in a room.
	// When false, joining the current room again is a no-op and joining
	// another room leaves the previous one first.
	StrictMembership bool
	// PersistTimeout bounds one message write, retries included.
	PersistTimeout time.Duration
	// PersistRetries is the number of additional attempts after a failed write.
	PersistRetries uint64
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		StrictMembership: true,
		PersistTimeout:   3 * time.Second,
		PersistRetries:   2,
		RetryInterval:    50 * time.Millisecond,
	}
}

// connection is the server side of one client session.
// mu serializes the events of the connection, so they are applied in the
// order the client produced them.
type connection struct {
	mu       sync.Mutex
	id       chat.ConnectionID
	username string
	room     *chat.RoomName
	sink     contract.EventSink
	closed   bool
	cleanup  sync.Once
}

// SessionManager owns the Disconnected -> Joined(room) -> Disconnected
// lifecycle of every connection. It writes messages to the store before
// asking the broadcaster to fan them out.
type SessionManager struct {
	mu          sync.RWMutex
	log         *slog.Logger
	connections map[chat.ConnectionID]*connection
	registry    contract.IRegistry
	store       contract.IMessageStore
	broadcaster contract.IBroadcaster
	policy      Policy
	now         func() time.Time
}

func NewSessionManager(log *slog.Logger, registry contract.IRegistry, store contract.IMessageStore,
	broadcaster contract.IBroadcaster, policy Policy) *SessionManager {
	return &SessionManager{
		log:         log,
		connections: make(map[chat.ConnectionID]*connection),
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		policy:      policy,
		now:         time.Now,
	}
}

// Connect registers a new Disconnected connection delivering to sink.
// If sink implements io.Closer it is closed when the connection goes away.
func (s *SessionManager) Connect(username string, sink contract.EventSink) chat.ConnectionID {
	c := &connection{
		id:       chat.ConnectionID(uuid.NewString()),
		username: username,
		sink:     sink,
	}
	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()

	s.log.Debug("Connection opened", "conn_id", c.id, "username", username)
	return c.id
}

// OnJoin moves a Disconnected connection into room and announces it to the room,
// the joining connection included.
func (s *SessionManager) OnJoin(ctx context.Context, connID chat.ConnectionID, room chat.RoomName) error {
	c, ok := s.lookup(connID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownConnection, connID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changes, err := s.joinAllowed(c, room)
	if err != nil || !changes {
		return err
	}
	if c.room != nil {
		s.leave(ctx, c)
	}

	s.registry.Join(room, c.id, c.sink)
	c.room = &room
	s.log.Info("User joined room", "conn_id", c.id, "username", c.username, "room", room)

	s.broadcaster.Broadcast(ctx, room, chat.UserJoined{Username: c.username, Room: room})
	return nil
}

// CheckJoin tells whether OnJoin(connID, room) would be accepted right now and
// whether it would change the room of the connection. Only the connection
// itself changes its room, so the answer holds until its next event.
func (s *SessionManager) CheckJoin(connID chat.ConnectionID, room chat.RoomName) (bool, error) {
	c, ok := s.lookup(connID)
	if !ok {
		return false, fmt.Errorf("%w: %s", errors.ErrUnknownConnection, connID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.joinAllowed(c, room)
}

// joinAllowed must be called with c.mu held.
func (s *SessionManager) joinAllowed(c *connection, room chat.RoomName) (bool, error) {
	if c.closed {
		return false, fmt.Errorf("%w: %s", errors.ErrUnknownConnection, c.id)
	}
	if c.room == nil {
		return true, nil
	}
	if s.policy.StrictMembership {
		return false, fmt.Errorf("%w: %s is in room '%s'", errors.ErrAlreadyInRoom, c.username, *c.room)
	}
	return *c.room != room, nil
}

// OnMessage persists text as a message of the current room, then broadcasts it.
// When the write fails nothing is broadcast and an ErrPersistence is returned.
func (s *SessionManager) OnMessage(ctx context.Context, connID chat.ConnectionID, text string) (chat.Message, error) {
	c, ok := s.lookup(connID)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrUnknownConnection, connID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrUnknownConnection, connID)
	}
	if c.room == nil {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrNotInRoom, c.username)
	}
	room := *c.room

	stored, err := s.persist(ctx, chat.NewMessage(c.username, room, text, s.now()))
	if err != nil {
		s.log.Warn("Message dropped", "conn_id", c.id, "room", room, "error", err)
		return chat.Message{}, err
	}

	s.broadcaster.Broadcast(ctx, room, chat.MessagePosted{Message: stored})
	return stored, nil
}

// OnLeave takes the connection out of its room. It is a no-op for a
// connection that is not in a room.
func (s *SessionManager) OnLeave(ctx context.Context, connID chat.ConnectionID) error {
	c, ok := s.lookup(connID)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil {
		return nil
	}
	s.leave(ctx, c)
	return nil
}

// OnDisconnect releases everything held by the connection exactly once.
// It waits for an in-flight event of the same connection to finish, so the
// connection can never stay registered in a room after it returns.
func (s *SessionManager) OnDisconnect(ctx context.Context, connID chat.ConnectionID) {
	c, ok := s.lookup(connID)
	if !ok {
		return
	}

	c.cleanup.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.room != nil {
			s.leave(ctx, c)
		}
		c.mu.Unlock()

		s.mu.Lock()
		delete(s.connections, connID)
		s.mu.Unlock()

		if closer, ok := c.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				s.log.Debug("Closing sink failed", "conn_id", connID, "error", err)
			}
		}
		s.log.Debug("Connection closed", "conn_id", connID, "username", c.username)
	})
}

// OnRoomHistoryRequest is a read-through to the store, oldest message first.
func (s *SessionManager) OnRoomHistoryRequest(ctx context.Context, room chat.RoomName) ([]chat.Message, error) {
	return s.store.ListByRoom(ctx, room)
}

// RoomOf returns the room the connection is in, if any.
func (s *SessionManager) RoomOf(connID chat.ConnectionID) (chat.RoomName, bool) {
	c, ok := s.lookup(connID)
	if !ok {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return "", false
	}
	return *c.room, true
}

func (s *SessionManager) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *SessionManager) lookup(connID chat.ConnectionID) (*connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[connID]
	return c, ok
}

// leave must be called with c.mu held and c.room set.
func (s *SessionManager) leave(ctx context.Context, c *connection) {
	room := *c.room
	s.registry.Leave(room, c.id)
	c.room = nil
	s.log.Info("User left room", "conn_id", c.id, "username", c.username, "room", room)

	s.broadcaster.Broadcast(ctx, room, chat.UserLeft{Username: c.username, Room: room})
}

// persist appends with a bounded exponential backoff.
func (s *SessionManager) persist(ctx context.Context, message chat.Message) (chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.PersistTimeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.policy.RetryInterval
	expo.MaxElapsedTime = s.policy.PersistTimeout
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, s.policy.PersistRetries), ctx)

	var stored chat.Message
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		stored, err = s.appendWithin(ctx, message)
		if err != nil {
			s.log.Debug("Append attempt failed", "attempt", attempt, "room", message.Room, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		if !stdErrors.Is(err, errors.ErrPersistence) {
			err = fmt.Errorf("%w: %w", errors.ErrPersistence, err)
		}
		return chat.Message{}, err
	}
	return stored, nil
}

type appendResult struct {
	message chat.Message
	err     error
}

// appendWithin returns when the store answers or ctx is done, whichever comes first.
// A write abandoned at the deadline may still commit later; it is then in the
// history but was never broadcast.
func (s *SessionManager) appendWithin(ctx context.Context, message chat.Message) (chat.Message, error) {
	result := make(chan appendResult, 1)
	go func() {
		stored, err := s.store.Append(ctx, message)
		result <- appendResult{message: stored, err: err}
	}()

	select {
	case r := <-result:
		return r.message, r.err
	case <-ctx.Done():
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, ctx.Err())
	}
}
