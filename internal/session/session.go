// Package session holds the operator-side state machine for one open
// conversation: who may reply, which commands are in flight, and the
// merged view of store snapshots and push events.
//
// All state lives on a single goroutine. Commands suspend at the network
// boundary outside of it and hand their results back; snapshots and events
// are applied in arrival order through one reconciliation path.
package session

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/transport"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by every operation on a destroyed session.
var ErrClosed = errors.New("session closed")

const (
	inboxSize          = 64
	defaultMatchWindow = 5 * time.Minute
)

// Transport is the subset of the store gateway a session drives.
type Transport interface {
	FetchConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	TakeControl(ctx context.Context, id int64) error
	SendMessage(ctx context.Context, id int64, content string) (*entity.Message, error)
	Close(ctx context.Context, id int64) error
	Subscribe(id int64, onEvent func(entity.Event)) (transport.Handle, error)
}

type Options struct {
	// Operator is the local operator's identity, compared against the
	// conversation's operator to decide who holds control.
	Operator string
	// RefreshInterval enables periodic re-fetch when positive.
	RefreshInterval time.Duration
	// MatchWindow bounds how far a store timestamp may drift from a
	// placeholder's provisional timestamp and still confirm it.
	MatchWindow time.Duration
	// OnChange receives a snapshot after every state change. It runs on the
	// session goroutine and must not call back into the session.
	OnChange func(State)
	Logger   *slog.Logger
	// Now overrides the clock used for provisional timestamps.
	Now func() time.Time
}

type OutgoingState string

const (
	OutgoingPending OutgoingState = "pending"
	OutgoingFailed  OutgoingState = "failed"
)

// Outgoing is an optimistic operator message not yet confirmed by the store.
type Outgoing struct {
	LocalID       string
	Content       string
	ProvisionalAt time.Time
	State         OutgoingState
	Err           error
}

// State is an immutable snapshot of a session.
type State struct {
	ConversationID int64
	Customer       entity.CustomerRef
	Status         entity.Status
	Operator       string
	Self           string
	Messages       []entity.Message
	Outgoing       []Outgoing
	Loading        bool
	CommandPending bool
	LastError      error
	Fatal          error
}

// HoldsControl reports whether the local operator may reply. A store that
// does not report an operator is taken to mean whoever took control.
func (s State) HoldsControl() bool {
	return s.Status == entity.StatusHuman && (s.Operator == "" || s.Operator == s.Self)
}

type Session struct {
	id        int64
	transport Transport
	opts      Options
	log       *slog.Logger

	inbox   chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	subMu sync.Mutex
	sub   transport.Handle

	// owned by the loop goroutine
	st    State
	known map[int64]struct{}
}

// Open fetches the conversation, then subscribes to its push events. The
// subscription is only established once the initial fetch succeeded.
func Open(ctx context.Context, t Transport, id int64, opts Options) (*Session, error) {
	s := newSession(t, id, opts)
	go s.loop()

	conv, err := t.FetchConversation(ctx, id)
	if err != nil {
		s.call(func() {
			s.st.Loading = false
			s.fail(err)
			s.changed()
		})
		s.Destroy()
		return nil, fmt.Errorf("open conversation %d: %w", id, err)
	}
	if !s.call(func() { s.applySnapshot(conv) }) {
		return nil, ErrClosed
	}

	sub, err := t.Subscribe(id, s.onPush)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("subscribe conversation %d: %w", id, err)
	}
	s.subMu.Lock()
	s.sub = sub
	s.subMu.Unlock()

	// events published before the subscription existed are only in the store
	if err = s.pull(ctx, false); errors.Is(err, transport.ErrNotFound) {
		s.Destroy()
		return nil, fmt.Errorf("open conversation %d: %w", id, err)
	}

	if s.opts.RefreshInterval > 0 {
		go s.refreshLoop()
	}

	s.log.Debug("session opened")
	return s, nil
}

func newSession(t Transport, id int64, opts Options) *Session {
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = defaultMatchWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:        id,
		transport: t,
		opts:      opts,
		log:       log.With(sl.Module("session"), slog.Int64("conversation_id", id)),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		st: State{
			ConversationID: id,
			Self:           opts.Operator,
			Loading:        true,
		},
		known: make(map[int64]struct{}),
	}
}

// Destroy tears down the subscription and the session goroutine. Command
// results and events that arrive afterwards are dropped. No OnChange call
// happens after Destroy returns.
func (s *Session) Destroy() {
	s.once.Do(func() {
		close(s.done)

		s.subMu.Lock()
		sub := s.sub
		s.sub = nil
		s.subMu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}

		<-s.stopped
		s.log.Debug("session destroyed")
	})
}

// State returns the current snapshot.
func (s *Session) State() State {
	var st State
	if s.call(func() { st = s.snapshot() }) {
		return st
	}
	<-s.stopped
	return s.snapshot()
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.inbox:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

// post queues fn for the loop. It reports false once the session is destroyed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) onPush(ev entity.Event) {
	s.post(func() { s.applyEvent(ev) })
}

func (s *Session) refreshLoop() {
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_ = s.pull(context.Background(), false)
		}
	}
}

// pull re-fetches the conversation and reconciles it. surface controls
// whether a transient failure becomes the visible lastError.
func (s *Session) pull(ctx context.Context, surface bool) error {
	conv, err := s.transport.FetchConversation(ctx, s.id)
	if err != nil {
		s.log.With(sl.Err(err)).Debug("refresh failed")
		s.post(func() {
			if surface || errors.Is(err, transport.ErrNotFound) {
				s.fail(err)
				s.changed()
			}
		})
		return err
	}
	if !s.call(func() { s.applySnapshot(conv) }) {
		return ErrClosed
	}
	return nil
}

// fail records err according to its kind: not-found ends the session,
// expired credentials are handled globally, the rest is a dismissable error.
func (s *Session) fail(err error) {
	switch {
	case errors.Is(err, transport.ErrNotFound):
		s.st.Fatal = err
	case errors.Is(err, transport.ErrAuthExpired):
	default:
		s.st.LastError = err
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.snapshot())
	}
}

func (s *Session) snapshot() State {
	st := s.st
	st.Messages = append([]entity.Message(nil), s.st.Messages...)
	st.Outgoing = append([]Outgoing(nil), s.st.Outgoing...)
	return st
}
