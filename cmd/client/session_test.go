package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_Handle(t *testing.T) {
	t.Run("message needs a room", func(t *testing.T) {
		req := require.New(t)
		s := &session{username: "alice"}

		_, _, err := s.handle("hello")

		req.Error(err)
	})

	t.Run("message goes to the current room", func(t *testing.T) {
		req := require.New(t)
		s := &session{username: "alice"}
		s.join("lobby")

		frames, quit, err := s.handle("  hello  ")

		req.NoError(err)
		req.False(quit)
		req.Len(frames, 1)
		req.Equal("message", frames[0].Type)
		var data map[string]string
		req.NoError(json.Unmarshal(frames[0].Data, &data))
		req.Equal(map[string]string{"sender": "alice", "room": "lobby", "text": "hello"}, data)
	})

	t.Run("join from a room leaves it first", func(t *testing.T) {
		req := require.New(t)
		s := &session{username: "alice"}
		s.join("lobby")

		frames, _, err := s.handle("/join random")

		req.NoError(err)
		req.Equal([]string{"leave", "join"}, []string{frames[0].Type, frames[1].Type})
		req.Equal("random", s.room)
	})

	t.Run("leave outside a room", func(t *testing.T) {
		req := require.New(t)
		s := &session{username: "alice"}

		_, _, err := s.handle("/leave")

		req.Error(err)
	})

	t.Run("commands", func(t *testing.T) {
		req := require.New(t)
		s := &session{username: "alice"}

		frames, quit, err := s.handle("/help")
		req.NoError(err)
		req.False(quit)
		req.Empty(frames)

		_, quit, err = s.handle("/quit")
		req.NoError(err)
		req.True(quit)

		_, _, err = s.handle("/dance")
		req.Error(err)
		_, _, err = s.handle("/join   ")
		req.Error(err)
	})
}

func TestRender(t *testing.T) {
	req := require.New(t)

	line, _ := render(frame{Type: "new_message", Data: json.RawMessage(`{"sender":"bob","room":"lobby","text":"hi","time":"10:30"}`)})
	req.Equal("[10:30] bob: hi", line)

	line, _ = render(frame{Type: "status", Data: json.RawMessage(`{"msg":"alice joined room 'lobby'"}`)})
	req.Equal("* alice joined room 'lobby'", line)

	line, _ = render(frame{Type: "error", Data: json.RawMessage(`{"code":"not_in_room","msg":"join a room first"}`)})
	req.Equal("! join a room first (not_in_room)", line)

	line, _ = render(frame{Type: "history", Data: json.RawMessage(`{"room":"lobby","messages":[{"sender":"bob","text":"hi","time":"10:30"}]}`)})
	req.Equal("--- 1 message(s) in 'lobby' ---\n[10:30] bob: hi", line)
}

func TestDialURL(t *testing.T) {
	req := require.New(t)

	target, err := dialURL("ws://localhost:5000/ws", "al ice")

	req.NoError(err)
	req.Equal("ws://localhost:5000/ws?username=al+ice", target)
}
