package session

import (
	"SupportDesk/entity"
	"SupportDesk/internal/transport"
	"context"
	"fmt"
	"sync"
	"time"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeStore is an in-memory conversation store shared by fake transports,
// so several sessions can race against the same conversation.
type fakeStore struct {
	mu      sync.Mutex
	conv    entity.Conversation
	deleted bool
	nextID  int64
	clock   time.Time
	subs    map[int]func(entity.Event)
	nextSub int
	calls   map[string]int

	sendErr   error
	sendGate  chan struct{}
	sendEnter chan struct{}
	pushSends bool
	muted     bool
	// subscribed runs inside Subscribe, with the store locked.
	subscribed func()
}

func newFakeStore(status entity.Status, msgs ...entity.Message) *fakeStore {
	f := &fakeStore{
		conv: entity.Conversation{
			ID:         7,
			CustomerID: 3,
			Customer:   entity.CustomerRef{ID: 3, PhoneNumber: "+50255550000"},
			Status:     status,
			UpdatedAt:  epoch,
			Messages:   msgs,
		},
		nextID: 100,
		clock:  epoch,
		subs:   make(map[int]func(entity.Event)),
		calls:  make(map[string]int),
	}
	if status == entity.StatusHuman {
		f.conv.Operator = "alice"
	}
	return f
}

func msg(id int64, sender entity.Sender, content string, at time.Duration) entity.Message {
	return entity.Message{ID: id, ConversationID: 7, Sender: sender, Content: content, CreatedAt: epoch.Add(at)}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// publish delivers ev to every live subscriber unless the store is muted.
func (f *fakeStore) publish(ev entity.Event) {
	f.mu.Lock()
	if f.muted {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	for _, fn := range f.handlers() {
		fn(ev)
	}
}

func (f *fakeStore) handlers() []func(entity.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	targets := make([]func(entity.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		targets = append(targets, fn)
	}
	return targets
}

func (f *fakeStore) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeHandle struct {
	f  *fakeStore
	id int
}

func (h fakeHandle) Unsubscribe() {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	delete(h.f.subs, h.id)
}

type fakeTransport struct {
	f        *fakeStore
	operator string
}

func (t *fakeTransport) FetchConversation(_ context.Context, id int64) (*entity.Conversation, error) {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["fetch"]++
	if f.deleted || id != f.conv.ID {
		return nil, fmt.Errorf("%w: conversation %d", transport.ErrNotFound, id)
	}
	conv := f.conv
	conv.Messages = append([]entity.Message(nil), f.conv.Messages...)
	return &conv, nil
}

func (t *fakeTransport) TakeControl(_ context.Context, _ int64) error {
	f := t.f
	f.mu.Lock()
	f.calls["take"]++
	if f.conv.Status != entity.StatusBot {
		f.mu.Unlock()
		return fmt.Errorf("%w: conversation is %s", transport.ErrConflict, f.conv.Status)
	}
	f.conv.Status = entity.StatusHuman
	f.conv.Operator = t.operator
	f.conv.UpdatedAt = f.tick()
	update := entity.StatusUpdate{ConversationID: f.conv.ID, Status: f.conv.Status, Operator: t.operator, UpdatedAt: f.conv.UpdatedAt}
	f.mu.Unlock()

	f.publish(entity.NewStatusEvent(update))
	return nil
}

func (t *fakeTransport) SendMessage(_ context.Context, _ int64, content string) (*entity.Message, error) {
	f := t.f
	f.mu.Lock()
	f.calls["send"]++
	gate, enter := f.sendGate, f.sendEnter
	f.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	m := entity.Message{
		ID:             f.nextID,
		ConversationID: f.conv.ID,
		Sender:         entity.SenderHuman,
		Content:        content,
		CreatedAt:      f.tick(),
	}
	f.nextID++
	f.conv.Messages = append(f.conv.Messages, m)
	f.conv.UpdatedAt = m.CreatedAt
	push := f.pushSends
	f.mu.Unlock()

	if push {
		f.publish(entity.NewMessageEvent(m))
	}
	return &m, nil
}

func (t *fakeTransport) Close(_ context.Context, _ int64) error {
	f := t.f
	f.mu.Lock()
	f.calls["close"]++
	if f.conv.Status == entity.StatusEnded {
		f.mu.Unlock()
		return nil
	}
	f.conv.Status = entity.StatusEnded
	f.conv.UpdatedAt = f.tick()
	update := entity.StatusUpdate{ConversationID: f.conv.ID, Status: f.conv.Status, UpdatedAt: f.conv.UpdatedAt}
	f.mu.Unlock()

	f.publish(entity.NewStatusEvent(update))
	return nil
}

func (t *fakeTransport) Subscribe(_ int64, onEvent func(entity.Event)) (transport.Handle, error) {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["subscribe"]++
	f.nextSub++
	f.subs[f.nextSub] = onEvent
	if f.subscribed != nil {
		f.subscribed()
	}
	return fakeHandle{f: f, id: f.nextSub}, nil
}

// changes counts OnChange calls and keeps every snapshot.
type changes struct {
	mu  sync.Mutex
	n   int
	all []State
}

func (c *changes) record(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.all = append(c.all, st)
}

func (c *changes) states() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.all...)
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
