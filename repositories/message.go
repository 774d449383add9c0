//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"bytes"
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

const (
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 100
	// Highest 20-digit sequence, used to seek the newest message of a room.
	lastSeqPadding = "99999999999999999999"
	MessagePrefix  = "msg:"
)

type IMessageRepository interface {
	contract.IMessageStore
	GetMessages(room chat.RoomName, cursor *string) ([]chat.Message, *string, error)
	Search(ctx context.Context, room chat.RoomName, query string, limit int) ([]chat.Message, error)
	StoredRooms(ctx context.Context) (map[chat.RoomName]int, error)
	Ping(ctx context.Context) error
}

var _ IMessageRepository = (*MessageRepository)(nil)

// MessageRepository is the append-only message log backed by BadgerDB.
// The DB is expected to be opened with SyncWrites so that a successful Append
// survives a process restart.
type MessageRepository struct {
	// writer admits one Append at a time and is acquired under the caller's context
	writer        *semaphore.Weighted
	db            *badger.DB
	seq           *badger.Sequence
	index         *MessageIndex
	log           *slog.Logger
	limitMessages *int
}

// NewMessageRepository leases a sequence from the DB. index may be nil, in which
// case Search always returns nothing.
func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int, index *MessageIndex) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepository{
		writer:        semaphore.NewWeighted(1),
		db:            db,
		seq:           seq,
		index:         index,
		log:           log,
		limitMessages: limitMessages,
	}, nil
}

// Close returns the unused part of the leased sequence.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

// Append persists a message in BadgerDB and assigns its ID and Seq.
// The key is formatted as "msg:{len(room)}:{room}:{seq_padded}" to:
//  1. Keep one contiguous, prefix-scannable range per room. The length
//     prefix prevents a room name containing ':' from overlapping another room.
//  2. Preserve commit order using 20-digit zero padding (lexicographical order).
//
// Sequence allocation and write happen under one lock, so key order is commit order.
func (m *MessageRepository) Append(ctx context.Context, message chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}

	if err := m.writer.Acquire(ctx, 1); err != nil {
		return chat.Message{}, fmt.Errorf("%w: waiting for writer: %w", errors.ErrPersistence, err)
	}
	defer m.writer.Release(1)

	next, err := m.seq.Next()
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	message.ID = uuid.New()
	message.Seq = next + 1

	value, err := encodeMessage(message)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.Room, message.Seq), value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}

	if m.index != nil {
		if err = m.index.Index(message); err != nil {
			m.log.Warn("Message stored but not indexed", "room", message.Room, "seq", message.Seq, "error", err)
		}
	}
	return message, nil
}

// ListByRoom returns every message of the room, oldest first.
// An unknown room yields an empty result.
func (m *MessageRepository) ListByRoom(ctx context.Context, room chat.RoomName) ([]chat.Message, error) {
	var messages []chat.Message
	prefix := roomPrefix(room)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	return messages, nil
}

// GetMessages retrieves a page of messages for a room, newest first.
// The returned cursor is the sequence part of the last key read; pass it back
// to fetch the next (older) page. It stops collecting messages once the
// configured limitMessages is reached.
func (m *MessageRepository) GetMessages(room chat.RoomName, cursor *string) ([]chat.Message, *string, error) {
	var messages []chat.Message
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		prefixLen := len(prefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Newest position msg:5:lobby:99999999999999999999
			// Then, we go back and collect a page
			seekKey = append(append([]byte{}, prefix...), lastSeqPadding...)
		default:
			seekKey = append(append([]byte{}, prefix...), *cursor...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			// Memorize cursor part of the actual key
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	if len(messages) == 0 {
		return nil, nil, nil
	}
	return messages, lo.ToPtr(lastKey), nil
}

// Search runs a full-text query restricted to one room and returns the
// matching messages in commit order.
func (m *MessageRepository) Search(ctx context.Context, room chat.RoomName, query string, limit int) ([]chat.Message, error) {
	if m.index == nil {
		return nil, nil
	}
	seqs, err := m.index.Search(ctx, room, query, limit)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	var messages []chat.Message
	err = m.db.View(func(txn *badger.Txn) error {
		for _, seq := range seqs {
			item, err := txn.Get(messageKey(room, seq))
			if err == badger.ErrKeyNotFound {
				m.log.Debug("Indexed message missing from log", "room", room, "seq", seq)
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	return messages, nil
}

// StoredRooms counts the stored messages of every room, reading keys only.
func (m *MessageRepository) StoredRooms(ctx context.Context) (map[chat.RoomName]int, error) {
	rooms := make(map[chat.RoomName]int)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = []byte(MessagePrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			room, _, err := ParseMessageKey(it.Item().Key())
			if err != nil {
				return err
			}
			rooms[room]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	return rooms, nil
}

// Ping fails when the DB is closed or can't serve a read transaction.
func (m *MessageRepository) Ping(ctx context.Context) error {
	if m.db.IsClosed() {
		return fmt.Errorf("%w: database is closed", errors.ErrPersistence)
	}
	err := m.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(sequenceKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	return ctx.Err()
}

// ParseMessageKey splits a "msg:{len(room)}:{room}:{seq_padded}" key.
func ParseMessageKey(key []byte) (chat.RoomName, uint64, error) {
	rest, ok := bytes.CutPrefix(key, []byte(MessagePrefix))
	if !ok {
		return "", 0, fmt.Errorf("not a message key: %q", key)
	}
	lengthPart, rest, ok := bytes.Cut(rest, []byte(":"))
	if !ok {
		return "", 0, fmt.Errorf("malformed message key: %q", key)
	}
	length, err := strconv.Atoi(string(lengthPart))
	if err != nil || length < 0 || len(rest) < length+1 || rest[length] != ':' {
		return "", 0, fmt.Errorf("malformed message key: %q", key)
	}
	seq, err := strconv.ParseUint(string(rest[length+1:]), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed message key: %q", key)
	}
	return chat.RoomName(rest[:length]), seq, nil
}

func roomPrefix(room chat.RoomName) []byte {
	return []byte(MessagePrefix + strconv.Itoa(len(room)) + ":" + string(room) + ":")
}

func messageKey(room chat.RoomName, seq uint64) []byte {
	return append(roomPrefix(room), fmt.Sprintf("%020d", seq)...)
}
