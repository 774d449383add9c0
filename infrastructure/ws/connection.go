package ws

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// connection is the transport side of one client session.
type connection struct {
	log           *slog.Logger
	conn          *websocket.Conn
	addr          string
	id            chat.ConnectionID
	username      string
	sink          *sink.ConnectionSink
	sessions      Sessions
	limiter       *rate.Limiter
	maxTextLength int
}

// readPump applies inbound frames in order. When it returns the session is
// released, which closes the sink and stops the write pump.
func (c *connection) readPump(ctx context.Context) {
	defer func() {
		c.sessions.OnDisconnect(context.Background(), c.id)
		c.log.Info("Client disconnected", "conn_id", c.id, "username", c.username)
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("Error setting initial read deadline", "conn_id", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn("Rate limit exceeded, discarding frame", "conn_id", c.id, "remote_addr", c.addr)
			c.reject(errors.ErrRateLimited)
			continue
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *connection) handleFrame(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reject(fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err))
		return
	}

	var err error
	switch frame.Type {
	case FrameJoin:
		var payload JoinPayload
		if err = decodePayload(frame.Data, &payload); err == nil {
			err = c.join(ctx, payload)
		}
	case FrameMessage:
		var payload MessagePayload
		if err = decodePayload(frame.Data, &payload); err == nil {
			err = c.message(ctx, payload)
		}
	case FrameLeave:
		var payload LeavePayload
		if err = decodePayload(frame.Data, &payload); err == nil {
			err = c.leave(ctx, payload)
		}
	default:
		err = fmt.Errorf("%w: unknown frame type %q", errors.ErrInvalidPayload, frame.Type)
	}
	if err != nil {
		c.reject(err)
	}
}

// join replays the room history to this connection, then joins the room.
// A refused join replays nothing. The history is pushed before the join, so it
// precedes the join status.
func (c *connection) join(ctx context.Context, payload JoinPayload) error {
	if err := validateJoin(&payload); err != nil {
		return err
	}
	if payload.Username != "" && payload.Username != c.username {
		return fmt.Errorf("%w: joining as %q on a connection opened by %q", errors.ErrInvalidPayload, payload.Username, c.username)
	}
	room := chat.RoomName(payload.Room)

	changes, err := c.sessions.CheckJoin(c.id, room)
	if err != nil {
		return err
	}
	if changes {
		history, err := c.sessions.OnRoomHistoryRequest(ctx, room)
		if err != nil {
			return err
		}
		c.push(chat.HistoryReplayed{Room: room, Messages: history})
	}
	return c.sessions.OnJoin(ctx, c.id, room)
}

func (c *connection) message(ctx context.Context, payload MessagePayload) error {
	if err := validateMessage(&payload, c.maxTextLength); err != nil {
		return err
	}
	if payload.Sender != "" && payload.Sender != c.username {
		return fmt.Errorf("%w: sending as %q on a connection opened by %q", errors.ErrInvalidPayload, payload.Sender, c.username)
	}
	if current, joined := c.sessions.RoomOf(c.id); joined && payload.Room != "" && chat.RoomName(payload.Room) != current {
		return fmt.Errorf("%w: room %q is not the joined room", errors.ErrInvalidPayload, payload.Room)
	}
	_, err := c.sessions.OnMessage(ctx, c.id, payload.Text)
	return err
}

func (c *connection) leave(ctx context.Context, payload LeavePayload) error {
	if err := validateLeave(&payload); err != nil {
		return err
	}
	return c.sessions.OnLeave(ctx, c.id)
}

// reject tells this connection only why its frame was refused.
func (c *connection) reject(err error) {
	code := errors.MapToCode(err)
	msg := err.Error()
	if code == errors.CodeInternal {
		msg = "internal error"
		c.log.Error("Frame failed", "conn_id", c.id, "error", err)
	}
	c.push(rejection{ErrorPayload{Code: string(code), Msg: msg}})
}

func (c *connection) push(e chat.DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.sink.Consume(ctx, e); err != nil {
		c.log.Debug("Dropping event for connection", "conn_id", c.id, "event", fmt.Sprintf("%T", e), "error", err)
	}
}

// writePump is the only writer of the websocket.
func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case e, ok := <-c.sink.Events():
			if !ok {
				c.writeClose()
				return
			}
			if !c.writeEvent(e) {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Error writing ping", "conn_id", c.id, "error", err)
				return
			}
		case <-ctx.Done():
			c.writeClose()
			return
		}
	}
}

func (c *connection) writeEvent(e chat.DomainEvent) bool {
	frame, err := encodeEvent(e)
	if err != nil {
		c.log.Error("Cannot encode event", "conn_id", c.id, "error", err)
		return true
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Debug("Error writing frame", "conn_id", c.id, "error", err)
		return false
	}
	return true
}

func (c *connection) writeClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error writing close message", "conn_id", c.id, "error", err)
	}
}

func (c *connection) close() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing connection", "conn_id", c.id, "error", err)
	}
}

func (c *connection) logReadError(err error) {
	switch {
	case stdErrors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded maximum size", "conn_id", c.id, "remote_addr", c.addr)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("Client closed the connection", "conn_id", c.id)
	case stdErrors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("Connection closed", "conn_id", c.id, "error", err)
	default:
		c.log.Warn("Websocket read error", "conn_id", c.id, "remote_addr", c.addr, "error", err)
	}
}

func decodePayload(data json.RawMessage, payload any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}

func isExpectedCloseError(err error) bool {
	return stdErrors.Is(err, net.ErrClosed) || stdErrors.Is(err, websocket.ErrCloseSent)
}
