package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
)

const (
	frameJoin  = "join_conversation"
	frameLeave = "leave_conversation"
)

type roomEvent struct {
	room int64
	data []byte
}

type membership struct {
	client *Client
	room   int64
}

// Hub keeps connected operator clients and the conversation rooms they
// joined. Events are only delivered to the room of their conversation.
type Hub struct {
	clients    map[*Client]map[int64]bool
	rooms      map[int64]map[*Client]bool
	broadcast  chan roomEvent
	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]map[int64]bool),
		rooms:      make(map[int64]map[*Client]bool),
		broadcast:  make(chan roomEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		log:        log.With(sl.Module("ws.hub")),
	}
}

// Run starts the hub's event loop. Should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = make(map[int64]bool)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case m := <-h.join:
			h.mu.Lock()
			if joined, ok := h.clients[m.client]; ok {
				joined[m.room] = true
				if h.rooms[m.room] == nil {
					h.rooms[m.room] = make(map[*Client]bool)
				}
				h.rooms[m.room][m.client] = true
			}
			h.mu.Unlock()

		case m := <-h.leave:
			h.mu.Lock()
			if joined, ok := h.clients[m.client]; ok {
				delete(joined, m.room)
				h.removeFromRoom(m.client, m.room)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[event.room] {
				select {
				case client.send <- event.data:
				default:
					h.log.With(slog.String("client", client.id)).Warn("client too slow, dropping")
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client from every room and closes its send channel.
// Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	joined, ok := h.clients[client]
	if !ok {
		return
	}
	for room := range joined {
		h.removeFromRoom(client, room)
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) removeFromRoom(client *Client, room int64) {
	members := h.rooms[room]
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast sends ev to the clients that joined its conversation.
func (h *Hub) Broadcast(ev entity.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.With(sl.Err(err)).Error("encode event")
		return
	}
	h.broadcast <- roomEvent{room: ev.ConversationID, data: data}
}

// RoomSize reports how many clients joined the conversation's room.
func (h *Hub) RoomSize(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// clientEvent represents an incoming WebSocket message from a client.
type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleClientMessage parses and dispatches an incoming message from a client.
func (h *Hub) HandleClientMessage(client *Client, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.log.Warn("failed to parse client ws message", sl.Err(err))
		return
	}

	var data struct {
		ConversationID int64 `json:"conversation_id"`
	}
	if err := json.Unmarshal(event.Data, &data); err != nil || data.ConversationID == 0 {
		h.log.With(slog.String("type", event.Type)).Warn("client ws message without conversation")
		return
	}

	switch event.Type {
	case frameJoin:
		h.join <- membership{client: client, room: data.ConversationID}
	case frameLeave:
		h.leave <- membership{client: client, room: data.ConversationID}
	default:
		h.log.With(slog.String("type", event.Type)).Debug("unknown client ws message")
	}
}
