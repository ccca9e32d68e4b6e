package transport

import (
	"SupportDesk/entity"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedFrame struct {
	Type string  `json:"type"`
	Data roomRef `json:"data"`
}

// pushServer accepts push connections and records the frames clients send.
type pushServer struct {
	conns  chan *websocket.Conn
	frames chan receivedFrame
}

func newPushServer(t *testing.T, token string) (*pushServer, *Adapter) {
	t.Helper()
	ps := &pushServer{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan receivedFrame, 16),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.conns <- conn
		for {
			var f receivedFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ps.frames <- f
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := New(srv.URL, NewCredentials("token-1", nil), discard(), WithBackoff(quickBackoff), WithTimeout(2*time.Second))
	return ps, a
}

func (ps *pushServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no push connection")
		return nil
	}
}

func (ps *pushServer) nextFrame(t *testing.T) receivedFrame {
	t.Helper()
	select {
	case f := <-ps.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
		return receivedFrame{}
	}
}

func nextEvent(t *testing.T, events <-chan entity.Event) entity.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return entity.Event{}
	}
}

func TestSubscribe_JoinsAndFilters(t *testing.T) {
	ps, a := newPushServer(t, "token-1")
	events := make(chan entity.Event, 8)

	sub, err := a.Subscribe(7, func(ev entity.Event) { events <- ev })
	require.NoError(t, err)

	conn := ps.nextConn(t)
	join := ps.nextFrame(t)
	assert.Equal(t, "join_conversation", join.Type)
	assert.Equal(t, int64(7), join.Data.ConversationID)

	require.NoError(t, conn.WriteJSON(entity.NewMessageEvent(entity.Message{ID: 9, ConversationID: 8, Content: "other room"})))
	require.NoError(t, conn.WriteJSON(entity.NewMessageEvent(entity.Message{ID: 10, ConversationID: 7, Sender: entity.SenderCustomer, Content: "hello"})))
	require.NoError(t, conn.WriteJSON(entity.NewStatusEvent(entity.StatusUpdate{ConversationID: 7, Status: entity.StatusHuman, Operator: "alice"})))

	ev := nextEvent(t, events)
	assert.Equal(t, entity.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(10), ev.Message.ID)

	ev = nextEvent(t, events)
	assert.Equal(t, entity.EventConversationUpdated, ev.Type)
	require.NotNil(t, ev.Update)
	assert.Equal(t, "alice", ev.Update.Operator)

	sub.Unsubscribe()
	leave := ps.nextFrame(t)
	assert.Equal(t, "leave_conversation", leave.Type)
	assert.Equal(t, int64(7), leave.Data.ConversationID)

	_ = conn.WriteJSON(entity.NewMessageEvent(entity.Message{ID: 11, ConversationID: 7, Content: "too late"}))
	select {
	case ev := <-events:
		t.Fatalf("event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ReconnectsAndSignals(t *testing.T) {
	ps, a := newPushServer(t, "token-1")
	events := make(chan entity.Event, 8)

	sub, err := a.Subscribe(7, func(ev entity.Event) { events <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := ps.nextConn(t)
	ps.nextFrame(t)
	require.NoError(t, first.Close())

	second := ps.nextConn(t)
	join := ps.nextFrame(t)
	assert.Equal(t, "join_conversation", join.Type)

	ev := nextEvent(t, events)
	assert.Equal(t, entity.EventReconnected, ev.Type)
	assert.Equal(t, int64(7), ev.ConversationID)

	require.NoError(t, second.WriteJSON(entity.NewMessageEvent(entity.Message{ID: 12, ConversationID: 7, Content: "after reconnect"})))
	ev = nextEvent(t, events)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(12), ev.Message.ID)
}

func TestSubscribe_RejectedToken(t *testing.T) {
	_, a := newPushServer(t, "another-token")

	sub, err := a.Subscribe(7, func(entity.Event) {})
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Nil(t, sub)
}
