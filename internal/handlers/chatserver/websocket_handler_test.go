package chatserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/dispatch"
	"im-chat/internal/handlers/chatserver"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/presence"
	"im-chat/internal/services"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

type frame struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type server struct {
	*httptest.Server
	db       *gorm.DB
	cfg      config.Config
	registry *presence.Registry
	alice    *models.User
	bob      *models.User
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := storagetest.NewDB(t)
	users := storage.NewGormUserRepository(db)
	requests := services.NewFriendRequestService(db, users,
		storage.NewGormFriendRequestRepository(db), storage.NewGormFriendshipRepository(db))
	conversations := services.NewConversationService(users,
		storage.NewGormConversationRepository(db), storage.NewGormMessageRepository(db))
	registry := presence.NewRegistry()
	d := dispatch.New(registry, requests, conversations)

	cfg := config.Config{}
	cfg.Auth.JWTSecretKey = "test-secret"
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.AllowUserIDParam = true

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := mux.NewRouter()
	router.HandleFunc("/ws/chat", chatserver.NewWebSocketHandler(ctx, d, users, nil, cfg).ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})

	return &server{
		Server:   srv,
		db:       db,
		cfg:      cfg,
		registry: registry,
		alice:    storagetest.CreateUser(t, db, "alice"),
		bob:      storagetest.CreateUser(t, db, "bob"),
	}
}

func (s *server) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *server) dial(t *testing.T, userID uint) *websocket.Conn {
	t.Helper()
	query := ""
	if userID != 0 {
		query = fmt.Sprintf("user_id=%d", userID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.url(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	if userID != 0 {
		require.Eventually(t, func() bool {
			_, ok := s.registry.Lookup(userID)
			return ok
		}, 2*time.Second, 10*time.Millisecond)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}, ack string) {
	t.Helper()
	msg := map[string]interface{}{"event": event, "data": data}
	if ack != "" {
		msg["ack"] = ack
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// next 读取帧直到遇到指定事件。
func next(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func TestFriendRequestAcceptAndMessageFlow(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, s.alice.ID)
	bob := s.dial(t, s.bob.ID)

	send(t, alice, imtypes.EventFriendRequest, map[string]interface{}{"to": s.bob.ID}, "r1")
	next(t, alice, imtypes.EventRequestSent)
	ack := next(t, alice, imtypes.EventAck)
	assert.JSONEq(t, `"r1"`, string(ack.Ack))
	assert.Nil(t, ack.Error)

	notice := next(t, bob, imtypes.EventNewFriendRequest)
	var received imtypes.FriendRequestNotice
	require.NoError(t, json.Unmarshal(notice.Data, &received))
	require.NotNil(t, received.Request)
	assert.Equal(t, s.alice.ID, received.Request.SenderID)

	send(t, bob, imtypes.EventAcceptRequest, map[string]interface{}{"request_id": fmt.Sprint(received.Request.ID)}, "a1")
	next(t, bob, imtypes.EventRequestAccepted)
	assert.Nil(t, next(t, bob, imtypes.EventAck).Error)
	next(t, alice, imtypes.EventRequestAccepted)

	send(t, alice, imtypes.EventTextMessage, map[string]interface{}{
		"to": s.bob.ID, "from": s.alice.ID, "message": "hello", "type": "Text",
	}, "")
	var delivered imtypes.NewMessageData
	require.NoError(t, json.Unmarshal(next(t, bob, imtypes.EventNewMessage).Data, &delivered))
	require.NotNil(t, delivered.Message)
	assert.Equal(t, "hello", delivered.Message.Text)
	next(t, alice, imtypes.EventNewMessage)

	send(t, bob, imtypes.EventGetMessages, map[string]interface{}{"conversation_id": delivered.ConversationID}, "m1")
	reply := next(t, bob, imtypes.EventAck)
	require.Nil(t, reply.Error)
	var history []models.Message
	require.NoError(t, json.Unmarshal(reply.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, delivered.Message.ID, history[0].ID)
}

func TestReadWithoutAckUsesEventName(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, s.alice.ID)

	send(t, alice, imtypes.EventStartConversation, map[string]interface{}{"to": s.bob.ID}, "")
	next(t, alice, imtypes.EventStartChat)

	send(t, alice, imtypes.EventGetDirectConversation, nil, "")
	f := next(t, alice, imtypes.EventGetDirectConversation)
	var views []models.ConversationView
	require.NoError(t, json.Unmarshal(f.Data, &views))
	require.Len(t, views, 1)
	assert.Len(t, views[0].Participants, 2)
}

func TestAnonymousConnectionCannotWrite(t *testing.T) {
	s := newServer(t)
	anon := s.dial(t, 0)

	send(t, anon, imtypes.EventFriendRequest, map[string]interface{}{"to": s.bob.ID, "from": s.alice.ID}, "x")
	ack := next(t, anon, imtypes.EventAck)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "UNAUTHENTICATED", ack.Error.Code)
	assert.Equal(t, 0, s.registry.Count())
}

func TestAnonymousConnectionCannotReadConversations(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, s.alice.ID)
	send(t, alice, imtypes.EventTextMessage, map[string]interface{}{"to": s.bob.ID, "message": "secret", "type": "Text"}, "")
	var sent imtypes.NewMessageData
	require.NoError(t, json.Unmarshal(next(t, alice, imtypes.EventNewMessage).Data, &sent))

	anon := s.dial(t, 0)
	send(t, anon, imtypes.EventGetMessages, map[string]interface{}{"conversation_id": sent.ConversationID}, "r1")
	ack := next(t, anon, imtypes.EventAck)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "UNAUTHENTICATED", ack.Error.Code)
	assert.NotContains(t, string(ack.Data), "secret")

	send(t, anon, imtypes.EventGetDirectConversation, map[string]interface{}{"user_id": s.alice.ID}, "")
	var data imtypes.ErrorEventData
	require.NoError(t, json.Unmarshal(next(t, anon, imtypes.EventError).Data, &data))
	assert.Equal(t, imtypes.EventGetDirectConversation, data.Event)
	assert.Equal(t, "UNAUTHENTICATED", data.Code)
}

func TestErrorsWithoutAckBecomeErrorEvents(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, s.alice.ID)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	var data imtypes.ErrorEventData
	require.NoError(t, json.Unmarshal(next(t, alice, imtypes.EventError).Data, &data))
	assert.Equal(t, "INVALID_REQUEST", data.Code)

	send(t, alice, imtypes.EventFriendRequest, map[string]interface{}{"to": s.bob.ID, "from": s.bob.ID}, "")
	require.NoError(t, json.Unmarshal(next(t, alice, imtypes.EventError).Data, &data))
	assert.Equal(t, imtypes.EventFriendRequest, data.Event)
	assert.Equal(t, "FORBIDDEN", data.Code)

	send(t, alice, "no_such_event", nil, "")
	require.NoError(t, json.Unmarshal(next(t, alice, imtypes.EventError).Data, &data))
	assert.Equal(t, "INVALID_REQUEST", data.Code)
}

func TestReconnectReplacesSession(t *testing.T) {
	s := newServer(t)
	first := s.dial(t, s.alice.ID)
	old, _ := s.registry.Lookup(s.alice.ID)

	second := s.dial(t, s.alice.ID)
	require.Eventually(t, func() bool {
		h, ok := s.registry.Lookup(s.alice.ID)
		return ok && h.ID() != old.ID()
	}, 2*time.Second, 10*time.Millisecond)

	next(t, first, imtypes.EventSessionReplaced)
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "旧连接应被关闭: %v", err)

	// 旧连接的断开不能注销新连接
	h, ok := s.registry.Lookup(s.alice.ID)
	require.True(t, ok)
	assert.NotEqual(t, old.ID(), h.ID())

	send(t, second, imtypes.EventStartConversation, map[string]interface{}{"to": s.bob.ID}, "")
	next(t, second, imtypes.EventStartChat)
}

func TestEndUnregistersAndCloses(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, s.alice.ID)

	send(t, alice, imtypes.EventEnd, map[string]interface{}{"user_id": s.alice.ID}, "e1")
	ack := next(t, alice, imtypes.EventAck)
	assert.Nil(t, ack.Error)

	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, models.UserStatusOffline, s.registry.Status(s.alice.ID))
}

func TestHandshakeIdentity(t *testing.T) {
	s := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url("token=garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.url("user_id=999999"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.GenerateToken(s.bob.ID, s.bob.Email, s.cfg.Auth)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(s.url("token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup(s.bob.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsTokenIssuedBeforePasswordChange(t *testing.T) {
	s := newServer(t)
	token, err := auth.GenerateToken(s.alice.ID, s.alice.Email, s.cfg.Auth)
	require.NoError(t, err)

	changedAt := time.Now().Add(2 * time.Second)
	require.NoError(t, s.db.Model(&models.User{}).Where("id = ?", s.alice.ID).
		UpdateColumn("password_changed_at", changedAt).Error)

	_, resp, err := websocket.DefaultDialer.Dial(s.url("token="+token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, ok := s.registry.Lookup(s.alice.ID)
	assert.False(t, ok)
}
