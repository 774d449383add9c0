// Package httpapi exposes the read side of the relay over plain HTTP:
// paginated room history, room search and runtime stats.
package httpapi

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

const defaultSearchLimit = 20

// Heartbeat gives the last process measure, nil until the first one.
type Heartbeat interface {
	Latest() *workers.Snapshot
}

type MessageView struct {
	ID     string    `json:"id"`
	Seq    uint64    `json:"seq"`
	Sender string    `json:"sender"`
	Room   string    `json:"room"`
	Text   string    `json:"text"`
	Time   string    `json:"time"`
	At     time.Time `json:"at"`
}

type HistoryPage struct {
	Room       string        `json:"room"`
	Messages   []MessageView `json:"messages"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

type SearchResult struct {
	Room     string        `json:"room"`
	Query    string        `json:"query"`
	Messages []MessageView `json:"messages"`
}

type Stats struct {
	Rooms       map[chat.RoomName]int `json:"rooms"`
	StoredRooms map[chat.RoomName]int `json:"stored_rooms"`
	Connections int                   `json:"connections"`
	Delivered   uint64                `json:"delivered"`
	Failures    uint64                `json:"failures"`
	Heartbeat   *workers.Snapshot     `json:"heartbeat,omitempty"`
}

type Router struct {
	log        *slog.Logger
	repository repositories.IMessageRepository
	counters   workers.RelayCounters
	heartbeat  Heartbeat
}

// NewRouter mounts the HTTP endpoints and the websocket handler on one mux.
func NewRouter(log *slog.Logger, repository repositories.IMessageRepository, counters workers.RelayCounters,
	heartbeat Heartbeat, websocket http.Handler) http.Handler {
	r := &Router{log: log, repository: repository, counters: counters, heartbeat: heartbeat}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", r.health)
	mux.HandleFunc("GET /rooms/{room}/messages", r.history)
	mux.HandleFunc("GET /rooms/{room}/search", r.search)
	mux.HandleFunc("GET /stats", r.stats)
	mux.Handle("/ws", websocket)
	return r.logRequests(mux)
}

func (r *Router) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat relay is running!")
}

func (r *Router) history(w http.ResponseWriter, req *http.Request) {
	room, ok := r.room(w, req)
	if !ok {
		return
	}
	var cursor *string
	if c := req.URL.Query().Get("cursor"); c != "" {
		seq, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			r.fail(w, fmt.Errorf("%w: cursor %q", errors.ErrInvalidPayload, c))
			return
		}
		// Keys carry zero-padded sequences
		cursor = lo.ToPtr(fmt.Sprintf("%020d", seq))
	}

	messages, next, err := r.repository.GetMessages(room, cursor)
	if err != nil {
		r.fail(w, err)
		return
	}
	r.reply(w, HistoryPage{Room: room.String(), Messages: toViews(messages), NextCursor: next})
}

func (r *Router) search(w http.ResponseWriter, req *http.Request) {
	room, ok := r.room(w, req)
	if !ok {
		return
	}
	query := strings.TrimSpace(req.URL.Query().Get("q"))
	if query == "" {
		r.fail(w, fmt.Errorf("%w: empty query", errors.ErrInvalidPayload))
		return
	}
	limit := defaultSearchLimit
	if l := req.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			r.fail(w, fmt.Errorf("%w: limit %q", errors.ErrInvalidPayload, l))
			return
		}
		limit = n
	}

	messages, err := r.repository.Search(req.Context(), room, query, limit)
	if err != nil {
		r.fail(w, err)
		return
	}
	r.reply(w, SearchResult{Room: room.String(), Query: query, Messages: toViews(messages)})
}

func (r *Router) stats(w http.ResponseWriter, req *http.Request) {
	stored, err := r.repository.StoredRooms(req.Context())
	if err != nil {
		r.fail(w, err)
		return
	}
	r.reply(w, Stats{
		Rooms:       r.counters.Rooms(),
		StoredRooms: stored,
		Connections: r.counters.ConnectionCount(),
		Delivered:   r.counters.Delivered(),
		Failures:    r.counters.Failures(),
		Heartbeat:   r.heartbeat.Latest(),
	})
}

func (r *Router) room(w http.ResponseWriter, req *http.Request) (chat.RoomName, bool) {
	room := chat.RoomName(req.PathValue("room")).Normalize()
	if room == "" {
		r.fail(w, fmt.Errorf("%w: empty room", errors.ErrInvalidPayload))
		return "", false
	}
	return room, true
}

func (r *Router) reply(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.log.Debug("Error writing response", "error", err)
	}
}

func (r *Router) fail(w http.ResponseWriter, err error) {
	statusCode := errors.MapToHTTPStatus(err)
	if statusCode >= http.StatusInternalServerError {
		r.log.Error("Request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code": string(errors.MapToCode(err)),
		"msg":  err.Error(),
	})
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		r.log.Debug("HTTP request", "method", req.Method, "path", req.URL.Path, "duration", time.Since(start))
	})
}

func toViews(messages []chat.Message) []MessageView {
	return lo.Map(messages, func(m chat.Message, _ int) MessageView {
		return MessageView{
			ID:     m.ID.String(),
			Seq:    m.Seq,
			Sender: m.Sender,
			Room:   m.Room.String(),
			Text:   m.Text,
			Time:   m.SentAt,
			At:     m.At,
		}
	})
}
