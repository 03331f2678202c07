package demo

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/websocket"
	"go.uber.org/zap"
)

// historySize is how many chat lines a new member receives.
const historySize = 20

// ChatLine is one broadcast chat event.
type ChatLine struct {
	From string    `json:"from"`
	Kind string    `json:"kind"` // "message", "join" or "leave"
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at"`
}

// Hub relays text messages between every connection on the chat endpoint.
type Hub struct {
	mu      sync.Mutex
	members map[string]*websocket.Conn
	history [][]byte
}

// NewHub creates an empty chat room.
func NewHub() *Hub {
	return &Hub{members: make(map[string]*websocket.Conn)}
}

// Members returns how many connections are in the room.
func (h *Hub) Members() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

func (h *Hub) OnOpen(c *websocket.Conn) {
	h.mu.Lock()
	h.members[c.ID()] = c
	backlog := append([][]byte(nil), h.history...)
	h.mu.Unlock()

	for _, line := range backlog {
		c.SendText(string(line))
	}
	h.broadcast(ChatLine{From: shortID(c.ID()), Kind: "join"})
}

func (h *Hub) OnMessage(c *websocket.Conn, m websocket.Message) {
	if !m.IsText() {
		c.Close(websocket.CloseUnsupportedData, "chat accepts text only")
		return
	}
	h.broadcast(ChatLine{From: shortID(c.ID()), Kind: "message", Text: m.Text()})
}

func (h *Hub) OnClose(c *websocket.Conn, code websocket.CloseCode, reason string) {
	h.mu.Lock()
	_, member := h.members[c.ID()]
	delete(h.members, c.ID())
	h.mu.Unlock()
	if member {
		h.broadcast(ChatLine{From: shortID(c.ID()), Kind: "leave"})
	}
}

// broadcast sends line to every member and appends it to the history.
func (h *Hub) broadcast(line ChatLine) {
	line.At = time.Now().UTC()
	data, err := json.Marshal(line)
	if err != nil {
		logging.Error("Failed to encode chat line", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.history = append(h.history, data)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	members := make([]*websocket.Conn, 0, len(h.members))
	for _, c := range h.members {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		if err := c.SendText(string(data)); err != nil {
			logging.Debug("Chat send failed", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
