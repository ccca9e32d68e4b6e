package repository

import (
	"SupportDesk/entity"
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Memory keeps everything in process. It is used when mongo is disabled and
// in tests.
type Memory struct {
	mu            sync.Mutex
	customers     map[int64]entity.CustomerRef
	conversations map[int64]entity.Conversation
	messages      map[int64][]entity.Message
	seq           map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		customers:     make(map[int64]entity.CustomerRef),
		conversations: make(map[int64]entity.Conversation),
		messages:      make(map[int64][]entity.Message),
		seq:           make(map[string]int64),
	}
}

func (m *Memory) next(name string) int64 {
	m.seq[name]++
	return m.seq[name]
}

func (m *Memory) UpsertCustomer(_ context.Context, phone, name string) (*entity.CustomerRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.customers {
		if c.PhoneNumber == phone {
			if name != "" {
				c.Name = name
				m.customers[id] = c
			}
			return &c, nil
		}
	}
	c := entity.CustomerRef{ID: m.next(customersCollection), PhoneNumber: phone, Name: name}
	m.customers[c.ID] = c
	return &c, nil
}

func (m *Memory) CreateConversation(_ context.Context, conv *entity.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv.ID = m.next(conversationsCollection)
	stored := *conv
	stored.Messages = nil
	stored.Customer = entity.CustomerRef{}
	m.conversations[conv.ID] = stored
	return nil
}

func (m *Memory) GetConversation(_ context.Context, id int64) (*entity.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	conv.Customer = entity.CustomerRef{ID: conv.CustomerID}
	if c, ok := m.customers[conv.CustomerID]; ok {
		conv.Customer = c
	}
	conv.Messages = append([]entity.Message{}, m.messages[id]...)
	return &conv, nil
}

func (m *Memory) OpenConversationFor(_ context.Context, customerID int64) (*entity.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *entity.Conversation
	for _, conv := range m.conversations {
		if conv.CustomerID != customerID || conv.Status == entity.StatusEnded {
			continue
		}
		if found == nil || conv.CreatedAt.After(found.CreatedAt) {
			c := conv
			found = &c
		}
	}
	return found, nil
}

func (m *Memory) ListConversations(_ context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	convs := make([]entity.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		if status == "" || conv.Status == status {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})

	summaries := []entity.ConversationSummary{}
	for i := offset; i < len(convs) && len(summaries) < limit; i++ {
		conv := convs[i]
		s := entity.ConversationSummary{
			ID:         conv.ID,
			CustomerID: conv.CustomerID,
			Status:     conv.Status,
			Operator:   conv.Operator,
		}
		if c, ok := m.customers[conv.CustomerID]; ok {
			s.CustomerPhone = c.PhoneNumber
		}
		if msgs := m.messages[conv.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			s.LastMessage = last.Content
			s.LastMessageTime = &last.CreatedAt
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id int64, from []entity.Status, to entity.Status, operator string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok || !slices.Contains(from, conv.Status) {
		return false, nil
	}
	conv.Status = to
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	if operator != "" {
		conv.Operator = operator
	}
	m.conversations[id] = conv
	return true, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg *entity.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.next(messagesCollection)
	msgs := append(m.messages[msg.ConversationID], *msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	m.messages[msg.ConversationID] = msgs

	if conv, ok := m.conversations[msg.ConversationID]; ok {
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		if msg.CreatedAt.After(conv.LastActivityAt) {
			conv.LastActivityAt = msg.CreatedAt
		}
		m.conversations[msg.ConversationID] = conv
	}
	return nil
}

func (m *Memory) IdleConversations(_ context.Context, before time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, conv := range m.conversations {
		if conv.Status != entity.StatusEnded && conv.LastActivityAt.Before(before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// EndIdle ends an open conversation only while it is still idle since before.
func (m *Memory) EndIdle(_ context.Context, id int64, before, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok || conv.Status == entity.StatusEnded || !conv.LastActivityAt.Before(before) {
		return false, nil
	}
	conv.Status = entity.StatusEnded
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	m.conversations[id] = conv
	return true, nil
}
