package ws

import (
	"chat-relay/domain/chat"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Frame types exchanged over the websocket.
const (
	FrameJoin       = "join"
	FrameMessage    = "message"
	FrameLeave      = "leave"
	FrameStatus     = "status"
	FrameNewMessage = "new_message"
	FrameHistory    = "history"
	FrameError      = "error"
)

// Frame is the envelope of every websocket message, in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinPayload struct {
	Username string `json:"username" validate:"omitempty,max=32"`
	Room     string `json:"room" validate:"required,max=64"`
}

type MessagePayload struct {
	Sender string `json:"sender" validate:"omitempty,max=32"`
	Room   string `json:"room" validate:"omitempty,max=64"`
	Text   string `json:"text" validate:"required"`
}

type LeavePayload struct {
	Username string `json:"username" validate:"omitempty,max=32"`
	Room     string `json:"room" validate:"omitempty,max=64"`
}

type StatusPayload struct {
	Msg string `json:"msg"`
}

type NewMessagePayload struct {
	Sender string `json:"sender"`
	Room   string `json:"room"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

type HistoryPayload struct {
	Room     string              `json:"room"`
	Messages []NewMessagePayload `json:"messages"`
}

type ErrorPayload struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// rejection is queued to a single connection when one of its frames is refused.
type rejection struct {
	ErrorPayload
}

func (rejection) RoomName() chat.RoomName { return "" }

// NewFrame encodes payload inside a frame of the given type.
func NewFrame(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}

// encodeEvent renders an outbound event as a websocket frame.
func encodeEvent(e chat.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case chat.Announcement:
		return NewFrame(FrameStatus, StatusPayload{Msg: evt.Status()})
	case chat.MessagePosted:
		return NewFrame(FrameNewMessage, toNewMessage(evt.Message))
	case chat.HistoryReplayed:
		return NewFrame(FrameHistory, HistoryPayload{
			Room:     evt.Room.String(),
			Messages: lo.Map(evt.Messages, func(m chat.Message, _ int) NewMessagePayload { return toNewMessage(m) }),
		})
	case rejection:
		return NewFrame(FrameError, evt.ErrorPayload)
	default:
		return nil, fmt.Errorf("no frame for event %T", e)
	}
}

func toNewMessage(m chat.Message) NewMessagePayload {
	return NewMessagePayload{
		Sender: m.Sender,
		Room:   m.Room.String(),
		Text:   m.Text,
		Time:   m.SentAt,
	}
}
