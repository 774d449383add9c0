package runtime

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testPolicy() Policy {
	return Policy{
		StrictMembership: true,
		PersistTimeout:   time.Second,
		PersistRetries:   2,
		RetryInterval:    time.Millisecond,
	}
}

func newTestSessionManager(store *memoryStore, policy Policy) (*SessionManager, *Registry) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.Default(), registry, time.Second)
	sm := NewSessionManager(slog.Default(), registry, store, broadcaster, policy)
	sm.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }
	return sm, registry
}

func TestSessionManager_Alice_And_Bob_In_Lobby(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := &memoryStore{}
	sm, registry := newTestSessionManager(store, testPolicy())
	aliceSink, bobSink := newRecordingSink(), newRecordingSink()

	// Given alice joined the lobby
	alice := sm.Connect("alice", aliceSink)
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))
	req.Equal([]chat.DomainEvent{chat.UserJoined{Username: "alice", Room: "lobby"}}, aliceSink.Events())

	// When bob joins
	bob := sm.Connect("bob", bobSink)
	req.NoError(sm.OnJoin(ctx, bob, "lobby"))

	// Then both are told
	req.Len(aliceSink.Events(), 2)
	req.Equal("bob joined room 'lobby'", aliceSink.Events()[1].(chat.Announcement).Status())
	req.Equal([]chat.DomainEvent{chat.UserJoined{Username: "bob", Room: "lobby"}}, bobSink.Events())
	req.ElementsMatch([]chat.ConnectionID{alice, bob}, registry.MembersOf("lobby"))

	// When alice says hi
	msg, err := sm.OnMessage(ctx, alice, "hi")
	req.NoError(err)

	// Then the message is stored and delivered to both, with its time of day
	req.True(msg.Committed())
	req.Equal("10:30", msg.SentAt)
	history, err := sm.OnRoomHistoryRequest(ctx, "lobby")
	req.NoError(err)
	req.Equal([]chat.Message{msg}, history)
	req.Equal(chat.MessagePosted{Message: msg}, aliceSink.Events()[2])
	req.Equal(chat.MessagePosted{Message: msg}, bobSink.Events()[1])

	// When bob leaves
	req.NoError(sm.OnLeave(ctx, bob))

	// Then alice is told and bob is no longer a member
	req.Equal("bob left room 'lobby'", aliceSink.Events()[3].(chat.Announcement).Status())
	req.Len(bobSink.Events(), 2)
	req.Equal([]chat.ConnectionID{alice}, registry.MembersOf("lobby"))
}

func TestSessionManager_Message_Before_Join_Is_Rejected(t *testing.T) {
	req := require.New(t)
	store := &memoryStore{}
	sm, _ := newTestSessionManager(store, testPolicy())
	alice := sm.Connect("alice", newRecordingSink())

	_, err := sm.OnMessage(context.Background(), alice, "hi")

	req.ErrorIs(err, errors.ErrNotInRoom)
	req.Empty(store.messages)
}

func TestSessionManager_Strict_Membership_Rejects_Second_Join(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	sm, registry := newTestSessionManager(&memoryStore{}, testPolicy())
	alice := sm.Connect("alice", newRecordingSink())
	req.NoError(sm.OnJoin(ctx, alice, "A"))

	err := sm.OnJoin(ctx, alice, "B")

	req.ErrorIs(err, errors.ErrAlreadyInRoom)
	req.Equal([]chat.ConnectionID{alice}, registry.MembersOf("A"))
	req.Empty(registry.MembersOf("B"))
}

func TestSessionManager_CheckJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("strict", func(t *testing.T) {
		req := require.New(t)
		sm, _ := newTestSessionManager(&memoryStore{}, testPolicy())
		alice := sm.Connect("alice", newRecordingSink())

		changes, err := sm.CheckJoin(alice, "A")
		req.NoError(err)
		req.True(changes)

		// Given alice is in A
		req.NoError(sm.OnJoin(ctx, alice, "A"))

		// Then any other join is refused without touching her membership
		_, err = sm.CheckJoin(alice, "B")
		req.ErrorIs(err, errors.ErrAlreadyInRoom)
		_, err = sm.CheckJoin(alice, "A")
		req.ErrorIs(err, errors.ErrAlreadyInRoom)
		room, ok := sm.RoomOf(alice)
		req.True(ok)
		req.Equal(chat.RoomName("A"), room)
	})

	t.Run("loose", func(t *testing.T) {
		req := require.New(t)
		policy := testPolicy()
		policy.StrictMembership = false
		sm, _ := newTestSessionManager(&memoryStore{}, policy)
		alice := sm.Connect("alice", newRecordingSink())
		req.NoError(sm.OnJoin(ctx, alice, "A"))

		changes, err := sm.CheckJoin(alice, "A")
		req.NoError(err)
		req.False(changes)

		changes, err = sm.CheckJoin(alice, "B")
		req.NoError(err)
		req.True(changes)
	})

	t.Run("unknown connection", func(t *testing.T) {
		req := require.New(t)
		sm, _ := newTestSessionManager(&memoryStore{}, testPolicy())
		alice := sm.Connect("alice", newRecordingSink())
		sm.OnDisconnect(ctx, alice)

		_, err := sm.CheckJoin(alice, "A")
		req.ErrorIs(err, errors.ErrUnknownConnection)
	})
}

func TestSessionManager_Loose_Membership_Switches_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	policy := testPolicy()
	policy.StrictMembership = false
	sm, registry := newTestSessionManager(&memoryStore{}, policy)
	sink := newRecordingSink()
	alice := sm.Connect("alice", sink)
	req.NoError(sm.OnJoin(ctx, alice, "A"))

	// Joining the same room again changes nothing
	req.NoError(sm.OnJoin(ctx, alice, "A"))
	req.Len(sink.Events(), 1)

	// Joining another room leaves the first one
	req.NoError(sm.OnJoin(ctx, alice, "B"))
	req.Empty(registry.MembersOf("A"))
	req.Equal([]chat.ConnectionID{alice}, registry.MembersOf("B"))
	room, ok := sm.RoomOf(alice)
	req.True(ok)
	req.Equal(chat.RoomName("B"), room)
	req.Equal(chat.UserJoined{Username: "alice", Room: "B"}, sink.Events()[1])
}

func TestSessionManager_Leave_Without_Room_Is_NoOp(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	sm := NewSessionManager(slog.Default(), NewRegistry(), &memoryStore{}, broadcaster, testPolicy())
	alice := sm.Connect("alice", newRecordingSink())

	req.NoError(sm.OnLeave(context.Background(), alice))
	req.NoError(sm.OnLeave(context.Background(), chat.ConnectionID("unknown")))
}

func TestSessionManager_Failed_Write_Is_Never_Broadcast(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	store := mocks.NewMockIMessageStore(ctrl)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	sm := NewSessionManager(slog.Default(), NewRegistry(), store, broadcaster, testPolicy())

	// Only the join announcement may be broadcast
	broadcaster.EXPECT().
		Broadcast(gomock.Any(), chat.RoomName("lobby"), chat.UserJoined{Username: "alice", Room: "lobby"}).
		Times(1)
	// Every attempt fails: one try plus two retries
	store.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		Return(chat.Message{}, fmt.Errorf("%w: disk full", errors.ErrPersistence)).
		Times(3)

	alice := sm.Connect("alice", newRecordingSink())
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))

	_, err := sm.OnMessage(ctx, alice, "hi")

	req.ErrorIs(err, errors.ErrPersistence)
}

func TestSessionManager_Write_Is_Retried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	store := mocks.NewMockIMessageStore(ctrl)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.Default(), registry, time.Second)
	sm := NewSessionManager(slog.Default(), registry, store, broadcaster, testPolicy())
	committed := chat.Message{ID: uuid.New(), Seq: 1, Sender: "alice", Room: "lobby", Text: "hi"}

	// Given the first write fails and the second succeeds
	gomock.InOrder(
		store.EXPECT().Append(gomock.Any(), gomock.Any()).
			Return(chat.Message{}, errors.ErrPersistence),
		store.EXPECT().Append(gomock.Any(), gomock.Any()).
			Return(committed, nil),
	)

	sink := newRecordingSink()
	alice := sm.Connect("alice", sink)
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))

	msg, err := sm.OnMessage(ctx, alice, "hi")

	// Then the committed message is broadcast exactly once
	req.NoError(err)
	req.Equal(committed, msg)
	req.Equal([]chat.DomainEvent{
		chat.UserJoined{Username: "alice", Room: "lobby"},
		chat.MessagePosted{Message: committed},
	}, sink.Events())
}

func TestSessionManager_Disconnect_Releases_Everything_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	sm, registry := newTestSessionManager(&memoryStore{}, testPolicy())
	aliceSink, bobSink := newRecordingSink(), newRecordingSink()
	alice := sm.Connect("alice", aliceSink)
	bob := sm.Connect("bob", bobSink)
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))
	req.NoError(sm.OnJoin(ctx, bob, "lobby"))

	// When bob disconnects several times concurrently
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.OnDisconnect(ctx, bob)
		}()
	}
	wg.Wait()

	// Then alice is told exactly once and bob's sink is closed
	left := 0
	for _, e := range aliceSink.Events() {
		if _, ok := e.(chat.UserLeft); ok {
			left++
		}
	}
	req.Equal(1, left)
	req.True(bobSink.IsClosed())
	req.Equal([]chat.ConnectionID{alice}, registry.MembersOf("lobby"))
	req.Equal(1, sm.ConnectionCount())

	// And bob can't act anymore
	_, err := sm.OnMessage(ctx, bob, "still here?")
	req.ErrorIs(err, errors.ErrUnknownConnection)
	req.ErrorIs(sm.OnJoin(ctx, bob, "lobby"), errors.ErrUnknownConnection)
}

func TestSessionManager_Disconnect_During_Message_Leaves_No_Ghost(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	store := mocks.NewMockIMessageStore(ctrl)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.Default(), registry, time.Second)
	sm := NewSessionManager(slog.Default(), registry, store, broadcaster, testPolicy())

	started := make(chan struct{})
	release := make(chan struct{})
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m chat.Message) (chat.Message, error) {
			close(started)
			<-release
			m.ID = uuid.New()
			m.Seq = 1
			return m, nil
		})

	alice := sm.Connect("alice", newRecordingSink())
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))

	// Given a message write in flight
	done := make(chan error, 1)
	go func() {
		_, err := sm.OnMessage(ctx, alice, "hi")
		done <- err
	}()
	<-started

	// When the connection drops meanwhile
	disconnected := make(chan struct{})
	go func() {
		sm.OnDisconnect(ctx, alice)
		close(disconnected)
	}()
	close(release)

	// Then the message completes and the connection ends up in no room
	req.NoError(<-done)
	<-disconnected
	req.Empty(registry.MembersOf("lobby"))
	req.Zero(sm.ConnectionCount())
}

func TestSessionManager_Stuck_Write_Is_Bounded_By_Persist_Timeout(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	store := mocks.NewMockIMessageStore(ctrl)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.Default(), registry, time.Second)
	policy := testPolicy()
	policy.PersistTimeout = 100 * time.Millisecond
	sm := NewSessionManager(slog.Default(), registry, store, broadcaster, policy)

	// Given a store whose write hangs and ignores its context
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m chat.Message) (chat.Message, error) {
			close(started)
			<-release
			return m, nil
		}).Times(1)

	sink := newRecordingSink()
	alice := sm.Connect("alice", sink)
	req.NoError(sm.OnJoin(ctx, alice, "lobby"))

	// When alice sends a message and drops meanwhile
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := sm.OnMessage(ctx, alice, "hi")
		done <- err
	}()
	<-started
	disconnected := make(chan time.Duration, 1)
	go func() {
		sm.OnDisconnect(ctx, alice)
		disconnected <- time.Since(start)
	}()

	// Then the message fails at the deadline instead of waiting for the store
	err := <-done
	req.ErrorIs(err, errors.ErrPersistence)
	req.Less(time.Since(start), time.Second)

	// And the cleanup is not held up by the stuck write
	req.Less(<-disconnected, time.Second)
	req.Empty(registry.MembersOf("lobby"))
	req.Zero(sm.ConnectionCount())
	for _, e := range sink.Events() {
		_, posted := e.(chat.MessagePosted)
		req.False(posted)
	}
}

func TestSessionManager_Concurrent_Senders_Keep_Their_Own_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := &memoryStore{}
	sm, _ := newTestSessionManager(store, testPolicy())
	observer := newRecordingSink()
	watcher := sm.Connect("watcher", observer)
	req.NoError(sm.OnJoin(ctx, watcher, "lobby"))

	const senders, perSender = 5, 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		id := sm.Connect(fmt.Sprintf("user-%d", i), newRecordingSink())
		req.NoError(sm.OnJoin(ctx, id, "lobby"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := sm.OnMessage(ctx, id, fmt.Sprintf("%d", j))
				req.NoError(err)
			}
		}()
	}
	wg.Wait()

	// Then every message was stored and the watcher saw each sender's messages in order
	history, err := sm.OnRoomHistoryRequest(ctx, "lobby")
	req.NoError(err)
	req.Len(history, senders*perSender)

	next := make(map[string]int)
	for _, e := range observer.Events() {
		posted, ok := e.(chat.MessagePosted)
		if !ok {
			continue
		}
		req.Equal(fmt.Sprintf("%d", next[posted.Message.Sender]), posted.Message.Text)
		next[posted.Message.Sender]++
	}
	req.Len(next, senders)
}
