package ws

import (
	"SupportDesk/entity"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenAuth map[string]entity.Operator

func (a tokenAuth) AuthenticateByToken(token string) (*entity.Operator, error) {
	op, ok := a[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &op, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, tokenAuth{
			"t-alice":   {Username: "alice", Role: entity.RoleOperator},
			"t-channel": {Username: "whatsapp", Role: entity.RoleChannel},
		}, log, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=t-alice", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, id int64) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": typ,
		"data": map[string]int64{"conversation_id": id},
	}))
}

func TestHub_DeliversToRoomOnly(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	sendFrame(t, conn, frameJoin, 7)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(entity.NewMessageEvent(entity.Message{ID: 1, ConversationID: 8, Content: "elsewhere"}))
	hub.Broadcast(entity.NewMessageEvent(entity.Message{ID: 2, ConversationID: 7, Content: "here"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev entity.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, entity.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(2), ev.Message.ID)
}

func TestHub_Leave(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	sendFrame(t, conn, frameJoin, 7)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 1 }, time.Second, 5*time.Millisecond)

	sendFrame(t, conn, frameLeave, 7)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_DisconnectLeavesRooms(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	sendFrame(t, conn, frameJoin, 7)
	sendFrame(t, conn, frameJoin, 9)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 1 && hub.RoomSize(9) == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 0 && hub.RoomSize(9) == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeWs_RejectsBadToken(t *testing.T) {
	_, url := startHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_RequiresOperatorRole(t *testing.T) {
	hub, url := startHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=t-channel", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.RoomSize(7))
}
