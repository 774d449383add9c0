// Package ws carries the relay over websockets: one read pump and one write
// pump per connection, translating frames to session manager calls.
package ws

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Sessions is the part of the session manager driven by the transport.
type Sessions interface {
	Connect(username string, sink contract.EventSink) chat.ConnectionID
	CheckJoin(connID chat.ConnectionID, room chat.RoomName) (bool, error)
	OnJoin(ctx context.Context, connID chat.ConnectionID, room chat.RoomName) error
	OnMessage(ctx context.Context, connID chat.ConnectionID, text string) (chat.Message, error)
	OnLeave(ctx context.Context, connID chat.ConnectionID) error
	OnDisconnect(ctx context.Context, connID chat.ConnectionID)
	OnRoomHistoryRequest(ctx context.Context, room chat.RoomName) ([]chat.Message, error)
	RoomOf(connID chat.ConnectionID) (chat.RoomName, bool)
}

type Options struct {
	ConnectionBufferSize int
	MaxMessageSize       int64
	MaxTextLength        int
	RateLimitPerSecond   float64
	RateLimitBurst       int
	AllowedOrigins       []string
}

// Handler upgrades GET /ws?username=.. requests.
// Connections live until the client goes away or ctx is cancelled.
type Handler struct {
	ctx      context.Context
	log      *slog.Logger
	sessions Sessions
	options  Options
	upgrader websocket.Upgrader
}

func NewHandler(ctx context.Context, log *slog.Logger, sessions Sessions, options Options) *Handler {
	origins := newOriginPolicy(log, options.AllowedOrigins)
	return &Handler{
		ctx:      ctx,
		log:      log,
		sessions: sessions,
		options:  options,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Websocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	username, err := ValidateUsername(r.URL.Query().Get("username"))
	if err != nil {
		http.Error(w, err.Error(), errors.MapToHTTPStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error
		h.log.Debug("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	outbound := sink.NewConnectionSink(h.options.ConnectionBufferSize)
	c := &connection{
		log:           h.log,
		conn:          conn,
		addr:          r.RemoteAddr,
		username:      username,
		sink:          outbound,
		sessions:      h.sessions,
		limiter:       rate.NewLimiter(rate.Limit(h.options.RateLimitPerSecond), h.options.RateLimitBurst),
		maxTextLength: h.options.MaxTextLength,
	}
	c.id = h.sessions.Connect(username, outbound)
	h.log.Info("Client connected", "conn_id", c.id, "username", username, "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(h.options.MaxMessageSize)
	ctx, cancel := context.WithCancel(h.ctx)
	go func() {
		defer cancel()
		c.writePump(ctx)
	}()
	c.readPump(ctx)
	cancel()
}
