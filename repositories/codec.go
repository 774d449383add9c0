package repositories

import (
	"chat-relay/domain/chat"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Field numbers of the stored message record:
//
//	message StoredMessage {
//	  string id = 1;
//	  string room = 2;
//	  string sender = 3;
//	  string text = 4;
//	  string sent_at = 5;
//	  google.protobuf.Timestamp at = 6;
//	  uint64 seq = 7;
//	}
const (
	fieldID     protowire.Number = 1
	fieldRoom   protowire.Number = 2
	fieldSender protowire.Number = 3
	fieldText   protowire.Number = 4
	fieldSentAt protowire.Number = 5
	fieldAt     protowire.Number = 6
	fieldSeq    protowire.Number = 7
)

func encodeMessage(message chat.Message) ([]byte, error) {
	at, err := proto.Marshal(timestamppb.New(message.At))
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendString(b, fieldID, message.ID.String())
	b = appendString(b, fieldRoom, string(message.Room))
	b = appendString(b, fieldSender, message.Sender)
	b = appendString(b, fieldText, message.Text)
	b = appendString(b, fieldSentAt, message.SentAt)
	b = protowire.AppendTag(b, fieldAt, protowire.BytesType)
	b = protowire.AppendBytes(b, at)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, message.Seq)
	return b, nil
}

func appendString(b []byte, num protowire.Number, value string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

// DecodeMessage copies everything it reads, so b may be reused by the caller.
// Unknown fields are skipped.
func DecodeMessage(b []byte) (chat.Message, error) {
	var message chat.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return chat.Message{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return chat.Message{}, protowire.ParseError(n)
			}
			message.Seq = v
			b = b[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return chat.Message{}, protowire.ParseError(n)
			}
			if err := decodeBytesField(&message, num, v); err != nil {
				return chat.Message{}, err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return chat.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return message, nil
}

func decodeBytesField(message *chat.Message, num protowire.Number, v []byte) error {
	switch num {
	case fieldID:
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		message.ID = id
	case fieldRoom:
		message.Room = chat.RoomName(v)
	case fieldSender:
		message.Sender = string(v)
	case fieldText:
		message.Text = string(v)
	case fieldSentAt:
		message.SentAt = string(v)
	case fieldAt:
		var ts timestamppb.Timestamp
		if err := proto.Unmarshal(v, &ts); err != nil {
			return fmt.Errorf("message timestamp: %w", err)
		}
		message.At = ts.AsTime()
	}
	return nil
}
