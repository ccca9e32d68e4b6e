package transport

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

type frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type roomRef struct {
	ConversationID int64 `json:"conversation_id"`
}

// Handle is what a caller keeps to end a push subscription.
type Handle interface {
	Unsubscribe()
}

// Subscription is an open push channel scoped to one conversation.
type Subscription struct {
	a       *Adapter
	id      int64
	onEvent func(entity.Event)
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	once sync.Once
	done chan struct{}
}

// Subscribe joins the conversation's push room and delivers its events to
// onEvent from a single goroutine, in arrival order. Events for other
// conversations are dropped. After a dropped connection is re-established a
// synthetic EventReconnected is delivered so the caller can re-fetch whatever
// it missed.
func (a *Adapter) Subscribe(id int64, onEvent func(entity.Event)) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		a:       a,
		id:      id,
		onEvent: onEvent,
		log:     a.log.With(slog.Int64("conversation_id", id)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	conn, err := s.connect()
	if err != nil {
		cancel()
		return nil, err
	}
	s.conn = conn

	go s.run(conn)
	return s, nil
}

// Unsubscribe leaves the room, closes the socket and waits until no further
// event can be delivered.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			_ = s.write(conn, frame{Type: "leave_conversation", Data: roomRef{ConversationID: s.id}})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}
		<-s.done
		s.log.Debug("unsubscribed")
	})
}

func (s *Subscription) pushURL(token string) (string, error) {
	u, err := url.Parse(s.a.baseURL + apiPrefix + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscription) connect() (*websocket.Conn, error) {
	token, generation, ok := s.a.creds.Token()
	if !ok {
		return nil, ErrAuthExpired
	}
	target, err := s.pushURL(token)
	if err != nil {
		return nil, fmt.Errorf("%w: push url: %v", ErrRejected, err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.a.timeout)
	defer cancel()

	conn, resp, err := s.a.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, s.a.statusError(resp.StatusCode, generation, http.StatusText(resp.StatusCode))
		}
		return nil, fmt.Errorf("%w: dial push: %w", ErrNetwork, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	if err = s.write(conn, frame{Type: "join_conversation", Data: roomRef{ConversationID: s.id}}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: join: %w", ErrNetwork, err)
	}
	return conn, nil
}

func (s *Subscription) write(conn *websocket.Conn, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (s *Subscription) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		s.readLoop(conn)
		_ = conn.Close()

		if s.ctx.Err() != nil {
			return
		}

		var ok bool
		conn, ok = s.reconnect()
		if !ok {
			return
		}
		s.deliver(entity.Event{Type: entity.EventReconnected, ConversationID: s.id})
	}
}

func (s *Subscription) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.With(sl.Err(err)).Debug("push connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev entity.Event
		if err = json.Unmarshal(data, &ev); err != nil {
			s.log.With(sl.Err(err)).Warn("undecodable push frame")
			continue
		}
		if ev.ConversationID != s.id {
			continue
		}
		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev entity.Event) {
	if s.ctx.Err() != nil {
		return
	}
	s.onEvent(ev)
}

// reconnect dials until it succeeds, the subscription is cancelled or the
// credential is rejected.
func (s *Subscription) reconnect() (*websocket.Conn, bool) {
	for attempt := 0; ; attempt++ {
		if err := sleep(s.ctx, s.a.backoff.Delay(attempt)); err != nil {
			return nil, false
		}
		conn, err := s.connect()
		if err != nil {
			if errors.Is(err, ErrAuthExpired) {
				s.log.Warn("push reconnect stopped: credential rejected")
				return nil, false
			}
			s.log.With(slog.Int("attempt", attempt+1), sl.Err(err)).Debug("push reconnect failed")
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			_ = conn.Close()
			return nil, false
		}
		s.log.Info("push reconnected")
		return conn, true
	}
}

