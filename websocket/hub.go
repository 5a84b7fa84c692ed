package websocket

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event types pushed over WebSocket
const (
	EventTypePayoutStatus = "payout_status"
)

// Event represents a message sent over WebSocket
type Event struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	UserID  string      `json:"userID,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	UserID primitive.ObjectID
	Conn   *websocket.Conn

	// Serializes writes; the connection allows at most one concurrent writer
	writeMu sync.Mutex
}

func (c *Client) write(event Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(event)
}

// Hub maintains the set of active clients, keyed by user, so payout status
// changes can be pushed to the seller who owns the request.
type Hub struct {
	clients    map[primitive.ObjectID]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[primitive.ObjectID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = client
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.UserID]; ok && current == client {
				delete(h.clients, client.UserID)
			}
			client.Conn.Close()
			h.mu.Unlock()
		}
	}
}

// SendToUser sends an event to a specific connected user
func (h *Hub) SendToUser(userID primitive.ObjectID, event Event) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user not connected")
	}

	return client.write(event)
}

// NotifyPayoutStatus pushes a payout status change to the owning seller, if
// connected.
func (h *Hub) NotifyPayoutStatus(sellerID primitive.ObjectID, message string, payoutData interface{}) error {
	return h.SendToUser(sellerID, Event{
		Type:    EventTypePayoutStatus,
		Message: message,
		Data:    payoutData,
		UserID:  sellerID.Hex(),
	})
}
