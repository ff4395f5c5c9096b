package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/validation"
	"forum-comms/internal/models"
)

// ==========================
// Fakes
// ==========================

type fakeAuth map[string]int64

func (f fakeAuth) ValidateCredential(token string) (int64, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if id, ok := f[token]; ok {
		return id, nil
	}
	return 0, errors.NewAuthRejectedError("unknown token")
}

type fakeRooms map[string]*models.ChatRoom

func (f fakeRooms) Summary(_ context.Context, roomID string) (*models.ChatRoom, error) {
	return f[roomID], nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) Handle(_ context.Context, actorID int64, roomID, plaintext string) (*models.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(plaintext) == "" {
		return nil, errors.NewValidationError("message content is empty")
	}
	f.calls = append(f.calls, plaintext)
	return &models.MessageView{
		ID:         "m-1",
		RoomID:     roomID,
		Content:    plaintext,
		SenderID:   actorID,
		ReceiverID: 2,
		CreatedAt:  time.Now().UTC(),
		SenderName: "Ada Lovelace",
	}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testServer struct {
	hub    *Hub
	sender *fakeSender
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	frames, err := validation.NewChatFrameValidator()
	require.NoError(t, err)

	h := NewHub(nil, "", logger.NewNoOpLogger())
	sender := &fakeSender{}
	handler := NewHandler(h,
		fakeAuth{"tok-1": 1, "tok-2": 2, "tok-3": 3, "tok-90": 90},
		fakeRooms{"room-1": {ID: "room-1", SenderID: 1, ReceiverID: 2}},
		sender, frames, DefaultConnConfig(), nil, logger.NewNoOpLogger())

	r := chi.NewRouter()
	r.Get("/ws/chat/{roomID}", handler.ServeChat)
	r.Get("/ws/notifications", handler.ServeNotifications)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{hub: h, sender: sender, srv: srv}
}

func (s *testServer) url(path string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
}

func (s *testServer) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url(path), header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readView(t *testing.T, conn *websocket.Conn) models.MessageView {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var view models.MessageView
	require.NoError(t, json.Unmarshal(data, &view))
	return view
}

// ==========================
// Handshake
// ==========================

func TestServeChat_RejectsBeforeUpgrade(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "missing token", path: "/ws/chat/room-1"},
		{name: "invalid token", path: "/ws/chat/room-1?token=forged"},
		{name: "not a participant", path: "/ws/chat/room-1?token=tok-3"},
		{name: "unknown room", path: "/ws/chat/room-404?token=tok-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := s.dial(t, tt.path, nil)
			require.Error(t, err)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Zero(t, s.hub.Members("room-1"))
	assert.Zero(t, s.hub.Members("room-404"))
}

func TestServeChat_BearerHeader(t *testing.T) {
	s := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer tok-2")
	_, _, err := s.dial(t, "/ws/chat/room-1", header)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.hub.Members("room-1") == 1 }, time.Second, 10*time.Millisecond)
}

// ==========================
// Messaging
// ==========================

func TestServeChat_BroadcastsToBothParticipants(t *testing.T) {
	s := newTestServer(t)

	sender, _, err := s.dial(t, "/ws/chat/room-1?token=tok-1", nil)
	require.NoError(t, err)
	receiver, _, err := s.dial(t, "/ws/chat/room-1?token=tok-2", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.hub.Members("room-1") == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sender.WriteJSON(map[string]interface{}{"message": "Hello!", "sender_id": 99, "receiver_id": 98}))

	for _, conn := range []*websocket.Conn{sender, receiver} {
		view := readView(t, conn)
		assert.Equal(t, "Hello!", view.Content)
		assert.Equal(t, int64(1), view.SenderID, "claimed sender id ignored")
		assert.Equal(t, int64(2), view.ReceiverID)
		assert.Equal(t, "Ada Lovelace", view.SenderName)
		assert.Equal(t, "m-1", view.ID)
	}
}

func TestServeChat_InvalidFramesDropped(t *testing.T) {
	s := newTestServer(t)

	sender, _, err := s.dial(t, "/ws/chat/room-1?token=tok-1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.hub.Members("room-1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"sender_id":1}`)))
	require.NoError(t, sender.WriteJSON(map[string]string{"content": "   "}))
	require.NoError(t, sender.WriteJSON(map[string]string{"content": "after"}))

	view := readView(t, sender)
	assert.Equal(t, "after", view.Content, "only the valid frame is broadcast")
	assert.Equal(t, 1, s.sender.count())
}

func TestServeChat_DisconnectLeavesGroup(t *testing.T) {
	s := newTestServer(t)

	conn, _, err := s.dial(t, "/ws/chat/room-1?token=tok-1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.hub.Members("room-1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return s.hub.Members("room-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

// ==========================
// Notifications channel
// ==========================

func TestServeNotifications(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := s.dial(t, "/ws/notifications", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := s.dial(t, "/ws/notifications?token=tok-90", nil)
	require.NoError(t, err)
	group := NotificationGroup(90)
	require.Eventually(t, func() bool { return s.hub.Members(group) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.hub.Broadcast(context.Background(), group, []byte(`{"notification":{"id":5}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"notification":{"id":5}}`, string(data))
}
