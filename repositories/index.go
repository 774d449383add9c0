package repositories

import (
	"chat-relay/domain/chat"
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	indexFieldRoom   = "room"
	indexFieldText   = "text"
	indexFieldSender = "sender"
	indexFieldSeq    = "seq"

	defaultSearchLimit = 20
)

// MessageIndex keeps a Bluge full-text index of committed messages.
// The Badger log stays the source of truth: the index only maps a query to
// sequence numbers.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

func (i *MessageIndex) Index(message chat.Message) error {
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField(indexFieldRoom, string(message.Room))).
		AddField(bluge.NewTextField(indexFieldText, message.Text)).
		AddField(bluge.NewTextField(indexFieldSender, message.Sender)).
		AddField(bluge.NewNumericField(indexFieldSeq, float64(message.Seq)).StoreValue())
	return i.writer.Update(doc.ID(), doc)
}

// Search returns the sequence numbers of the best matches in the room, sorted
// in commit order. A blank query matches nothing.
func (i *MessageIndex) Search(ctx context.Context, room chat.RoomName, query string, limit int) ([]uint64, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Debug("Closing index reader failed", "error", err)
		}
	}()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(string(room)).SetField(indexFieldRoom)).
		AddMust(bluge.NewMatchQuery(query).SetField(indexFieldText))
	dmi, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var seqs []uint64
	match, err := dmi.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field != indexFieldSeq {
				return true
			}
			seq, decodeErr := bluge.DecodeNumericFloat64(value)
			if decodeErr != nil {
				i.log.Debug("Undecodable seq in index", "error", decodeErr)
				return true
			}
			seqs = append(seqs, uint64(seq))
			return true
		})
		if err != nil {
			break
		}
		match, err = dmi.Next()
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(seqs, func(a, b int) bool { return seqs[a] < seqs[b] })
	return seqs, nil
}
