package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventNewMessage          EventType = "new_message"
	EventConversationUpdated EventType = "conversation_updated"
	// EventReconnected is produced locally by the push client after it
	// re-established a dropped connection; the store never sends it.
	EventReconnected EventType = "reconnected"
)

// StatusUpdate is the payload of a conversation_updated event.
type StatusUpdate struct {
	ConversationID int64     `json:"conversation_id"`
	Status         Status    `json:"status"`
	Operator       string    `json:"operator,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is the push envelope. Exactly one of Message/Update is set for
// store events.
type Event struct {
	Type           EventType
	ConversationID int64
	Message        *Message
	Update         *StatusUpdate
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMessageEvent(msg Message) Event {
	return Event{Type: EventNewMessage, ConversationID: msg.ConversationID, Message: &msg}
}

func NewStatusEvent(update StatusUpdate) Event {
	return Event{Type: EventConversationUpdated, ConversationID: update.ConversationID, Update: &update}
}

func (e Event) MarshalJSON() ([]byte, error) {
	var data interface{}
	switch e.Type {
	case EventNewMessage:
		data = e.Message
	case EventConversationUpdated:
		data = e.Update
	default:
		data = map[string]int64{"conversation_id": e.ConversationID}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Type = w.Type
	switch w.Type {
	case EventNewMessage:
		var msg Message
		if err := json.Unmarshal(w.Data, &msg); err != nil {
			return fmt.Errorf("decode new_message: %w", err)
		}
		e.Message = &msg
		e.ConversationID = msg.ConversationID
	case EventConversationUpdated:
		var update StatusUpdate
		if err := json.Unmarshal(w.Data, &update); err != nil {
			return fmt.Errorf("decode conversation_updated: %w", err)
		}
		e.Update = &update
		e.ConversationID = update.ConversationID
	default:
		var ref struct {
			ConversationID int64 `json:"conversation_id"`
		}
		if len(w.Data) > 0 {
			_ = json.Unmarshal(w.Data, &ref)
		}
		e.ConversationID = ref.ConversationID
	}
	return nil
}
