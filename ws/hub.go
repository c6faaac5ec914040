package ws

import (
	"sync"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// Hub tracks live connections by session and by user. A user may hold
// several sessions (devices, tabs); each one is in that user's room.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client
	users    map[string]map[string]*Client
	logger   *utils.Logger
}

var _ services.Broadcaster = (*Hub)(nil)

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Client),
		users:    make(map[string]map[string]*Client),
		logger:   logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[c.sessionID] = c
	room, ok := h.users[c.userID]
	if !ok {
		room = make(map[string]*Client)
		h.users[c.userID] = room
	}
	room[c.sessionID] = c
}

// Unregister removes the client and closes its send channel. It reports
// false if the client was already gone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.sessions[c.sessionID]; !ok || current != c {
		return false
	}
	delete(h.sessions, c.sessionID)
	if room, ok := h.users[c.userID]; ok {
		delete(room, c.sessionID)
		if len(room) == 0 {
			delete(h.users, c.userID)
		}
	}
	close(c.send)
	return true
}

func (h *Hub) SendToSession(sessionID string, event models.OutboundEvent) bool {
	frame, ok := h.encode(event)
	if !ok {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, exists := h.sessions[sessionID]
	if !exists {
		return false
	}
	h.enqueue(c, frame)
	return true
}

func (h *Hub) SendToUser(userID string, event models.OutboundEvent, except ...string) int {
	frame, ok := h.encode(event)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for sessionID, c := range h.users[userID] {
		if contains(except, sessionID) {
			continue
		}
		h.enqueue(c, frame)
		sent++
	}
	return sent
}

func (h *Hub) Broadcast(event models.OutboundEvent) {
	frame, ok := h.encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.sessions {
		h.enqueue(c, frame)
	}
}

func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	c, ok := h.sessions[sessionID]
	h.mu.RUnlock()

	if ok {
		h.Unregister(c)
	}
}

func (h *Hub) CloseUser(userID string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// enqueue must be called with h.mu held for reading. A client whose buffer
// is full is disconnected rather than blocking everyone else.
func (h *Hub) enqueue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("Dropping slow client", "session_id", c.sessionID, "user_id", c.userID)
		go h.Unregister(c)
	}
}

func (h *Hub) encode(event models.OutboundEvent) ([]byte, bool) {
	frame, err := event.Encode()
	if err != nil {
		h.logger.Error("Failed to encode event", "type", event.Type, "error", err)
		return nil, false
	}
	return frame, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
