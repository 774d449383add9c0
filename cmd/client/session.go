package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

const helpText = `/join <room>  leave the current room and join another one
/leave        leave the current room
/quit         close the connection
anything else is sent to the current room`

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type newMessage struct {
	Sender string `json:"sender"`
	Room   string `json:"room"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

type history struct {
	Room     string       `json:"room"`
	Messages []newMessage `json:"messages"`
}

// session tracks the room the client believes it is in.
type session struct {
	username string
	room     string
}

// handle turns one input line into the frames to send, in order.
// No frame and no error means the line only asked for help.
func (s *session) handle(line string) ([]frame, bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, false, fmt.Errorf("empty line, type /help for commands")
	case line == "/quit":
		return nil, true, nil
	case line == "/help":
		return nil, false, nil
	case line == "/leave":
		if s.room == "" {
			return nil, false, fmt.Errorf("not in a room")
		}
		return []frame{s.leave()}, false, nil
	case strings.HasPrefix(line, "/join"):
		room := strings.TrimSpace(strings.TrimPrefix(line, "/join"))
		if room == "" {
			return nil, false, fmt.Errorf("usage: /join <room>")
		}
		var frames []frame
		if s.room != "" {
			// The relay rejects a second join, the current room is left first
			frames = append(frames, s.leave())
		}
		return append(frames, s.join(room)), false, nil
	case strings.HasPrefix(line, "/"):
		return nil, false, fmt.Errorf("unknown command %q", line)
	}
	if s.room == "" {
		return nil, false, fmt.Errorf("join a room first")
	}
	return []frame{{Type: "message", Data: mustMarshal(map[string]string{
		"sender": s.username,
		"room":   s.room,
		"text":   line,
	})}}, false, nil
}

func (s *session) join(room string) frame {
	s.room = room
	return frame{Type: "join", Data: mustMarshal(map[string]string{"username": s.username, "room": room})}
}

func (s *session) leave() frame {
	f := frame{Type: "leave", Data: mustMarshal(map[string]string{"username": s.username, "room": s.room})}
	s.room = ""
	return f
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
