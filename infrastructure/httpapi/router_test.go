package httpapi

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/runtime/workers"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"log/slog"
)

type fakeCounters struct{}

func (fakeCounters) Rooms() map[chat.RoomName]int { return map[chat.RoomName]int{"lobby": 2} }
func (fakeCounters) ConnectionCount() int         { return 3 }
func (fakeCounters) Delivered() uint64            { return 7 }
func (fakeCounters) Failures() uint64             { return 1 }

type fakeHeartbeat struct {
	snapshot *workers.Snapshot
}

func (h fakeHeartbeat) Latest() *workers.Snapshot { return h.snapshot }

func newRouter(t *testing.T) (http.Handler, *mocks.MockIMessageRepository) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	repository := mocks.NewMockIMessageRepository(ctrl)
	websocket := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	heartbeat := fakeHeartbeat{snapshot: &workers.Snapshot{Pid: 42, StoreHealthy: true}}
	return NewRouter(slog.Default(), repository, fakeCounters{}, heartbeat, websocket), repository
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	req := require.New(t)
	router, _ := newRouter(t)

	rec := get(router, "/")

	req.Equal(http.StatusOK, rec.Code)
	req.Equal("Chat relay is running!", rec.Body.String())
	req.Equal(http.StatusNotFound, get(router, "/nothing-here").Code)
}

func TestRouter_History_Pages(t *testing.T) {
	req := require.New(t)
	router, repository := newRouter(t)
	message := chat.Message{ID: uuid.New(), Seq: 12, Sender: "alice", Room: "lobby", Text: "hi",
		SentAt: "10:30", At: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)}

	// Given a first page pointing to an older one
	repository.EXPECT().GetMessages(chat.RoomName("lobby"), nil).
		Return([]chat.Message{message}, lo.ToPtr("00000000000000000012"), nil)
	repository.EXPECT().GetMessages(chat.RoomName("lobby"), lo.ToPtr("00000000000000000012")).
		Return(nil, nil, nil)

	rec := get(router, "/rooms/lobby/messages")
	req.Equal(http.StatusOK, rec.Code)
	var page HistoryPage
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Equal("lobby", page.Room)
	req.Len(page.Messages, 1)
	req.Equal(message.ID.String(), page.Messages[0].ID)
	req.Equal("10:30", page.Messages[0].Time)
	req.Equal("00000000000000000012", *page.NextCursor)

	// When following the cursor
	rec = get(router, "/rooms/lobby/messages?cursor="+*page.NextCursor)
	req.Equal(http.StatusOK, rec.Code)
	page = HistoryPage{}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Empty(page.Messages)
	req.Nil(page.NextCursor)
}

func TestRouter_History_Errors(t *testing.T) {
	req := require.New(t)
	router, repository := newRouter(t)

	req.Equal(http.StatusBadRequest, get(router, "/rooms/lobby/messages?cursor=abc").Code)

	repository.EXPECT().GetMessages(chat.RoomName("lobby"), nil).Return(nil, nil, errors.ErrPersistence)
	rec := get(router, "/rooms/lobby/messages")
	req.Equal(http.StatusServiceUnavailable, rec.Code)
	req.Contains(rec.Body.String(), `"code":"persistence"`)
}

func TestRouter_Search(t *testing.T) {
	req := require.New(t)
	router, repository := newRouter(t)
	found := chat.Message{ID: uuid.New(), Seq: 3, Sender: "bob", Room: "lobby", Text: "hello world"}

	repository.EXPECT().Search(gomock.Any(), chat.RoomName("lobby"), "hello", defaultSearchLimit).
		Return([]chat.Message{found}, nil)
	repository.EXPECT().Search(gomock.Any(), chat.RoomName("lobby"), "hello", 5).
		Return(nil, nil)

	rec := get(router, "/rooms/lobby/search?q=hello")
	req.Equal(http.StatusOK, rec.Code)
	var result SearchResult
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	req.Equal("hello", result.Query)
	req.Len(result.Messages, 1)
	req.Equal("hello world", result.Messages[0].Text)

	req.Equal(http.StatusOK, get(router, "/rooms/lobby/search?q=hello&limit=5").Code)
	req.Equal(http.StatusBadRequest, get(router, "/rooms/lobby/search?q=%20").Code)
	req.Equal(http.StatusBadRequest, get(router, "/rooms/lobby/search?q=hello&limit=-1").Code)
}

func TestRouter_Stats(t *testing.T) {
	req := require.New(t)
	router, repository := newRouter(t)
	repository.EXPECT().StoredRooms(gomock.Any()).Return(map[chat.RoomName]int{"lobby": 10, "old": 4}, nil)

	rec := get(router, "/stats")

	req.Equal(http.StatusOK, rec.Code)
	var stats Stats
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	req.Equal(map[chat.RoomName]int{"lobby": 2}, stats.Rooms)
	req.Equal(map[chat.RoomName]int{"lobby": 10, "old": 4}, stats.StoredRooms)
	req.Equal(3, stats.Connections)
	req.Equal(uint64(7), stats.Delivered)
	req.Equal(uint64(1), stats.Failures)
	req.NotNil(stats.Heartbeat)
	req.Equal(42, stats.Heartbeat.Pid)
}

func TestRouter_Mounts_Websocket(t *testing.T) {
	req := require.New(t)
	router, _ := newRouter(t)

	req.Equal(http.StatusTeapot, get(router, "/ws?username=alice").Code)
}

func TestRouter_History_Pads_Cursor(t *testing.T) {
	req := require.New(t)
	router, repository := newRouter(t)
	repository.EXPECT().GetMessages(chat.RoomName("lobby"), lo.ToPtr("00000000000000000007")).Return(nil, nil, nil)

	req.Equal(http.StatusOK, get(router, "/rooms/lobby/messages?cursor=7").Code)
}
