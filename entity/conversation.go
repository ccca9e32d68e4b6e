package entity

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusBot   Status = "bot"
	StatusHuman Status = "human"
	StatusEnded Status = "ended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBot, StatusHuman, StatusEnded:
		return true
	}
	return false
}

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
	SenderHuman    Sender = "human"
)

// CustomerRef identifies the customer on the other side of a conversation.
type CustomerRef struct {
	ID          int64  `json:"id" bson:"_id"`
	PhoneNumber string `json:"phone_number,omitempty" bson:"phone_number,omitempty"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
}

// Label is the display reference: phone number when known, numeric id otherwise.
func (c CustomerRef) Label() string {
	if c.PhoneNumber != "" {
		return c.PhoneNumber
	}
	return fmt.Sprintf("Customer #%d", c.ID)
}

type Message struct {
	ID             int64     `json:"id" bson:"_id"`
	ConversationID int64     `json:"conversation_id" bson:"conversation_id"`
	Sender         Sender    `json:"sender" bson:"sender"`
	Content        string    `json:"content" bson:"content"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Before reports whether m sorts before o: created_at ascending, ties by id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

type Conversation struct {
	ID             int64       `json:"id" bson:"_id"`
	CustomerID     int64       `json:"customer_id" bson:"customer_id"`
	Customer       CustomerRef `json:"customer" bson:"-"`
	Status         Status      `json:"status" bson:"status"`
	Operator       string      `json:"operator,omitempty" bson:"operator,omitempty"`
	CreatedAt      time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" bson:"updated_at"`
	LastActivityAt time.Time   `json:"last_activity_at" bson:"last_activity_at"`
	Messages       []Message   `json:"messages" bson:"-"`
}

// ConversationSummary is the list-view row for a conversation.
type ConversationSummary struct {
	ID              int64      `json:"id" bson:"_id"`
	CustomerID      int64      `json:"customer_id" bson:"customer_id"`
	CustomerPhone   string     `json:"customer_phone,omitempty" bson:"customer_phone,omitempty"`
	Status          Status     `json:"status" bson:"status"`
	Operator        string     `json:"operator,omitempty" bson:"operator,omitempty"`
	LastMessage     string     `json:"last_message,omitempty" bson:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty" bson:"last_message_time,omitempty"`
}
