package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"visiontrigger/internal/logger"
	"visiontrigger/internal/pipeline"
)

const writeWait = 10 * time.Second

type client struct {
	conn    *websocket.Conn
	filter  map[pipeline.EventType]bool // nil receives everything
	writeMu sync.Mutex
}

func (c *client) wants(t pipeline.EventType) bool {
	return c.filter == nil || c.filter[t]
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// EventHub fans control events out to WebSocket clients
type EventHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewEventHub creates an empty hub
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*client]bool)}
}

// Register adds a connection. types restricts what it receives; empty means all.
func (h *EventHub) Register(conn *websocket.Conn, types []pipeline.EventType) *client {
	c := &client{conn: conn}
	if len(types) > 0 {
		c.filter = make(map[pipeline.EventType]bool, len(types))
		for _, t := range types {
			c.filter[t] = true
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	logger.Info("WS", "Client registered (total: %d)", total)
	return c
}

// Unregister removes a client
func (h *EventHub) Unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		logger.Info("WS", "Client unregistered")
	}
}

// Run broadcasts events until ctx is cancelled or events is closed
func (h *EventHub) Run(ctx context.Context, events <-chan *pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.Broadcast(event)
		}
	}
}

// Broadcast sends event to every interested client; failing clients are dropped
func (h *EventHub) Broadcast(event *pipeline.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(event.Type) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(NewEventMessage(event))
	if err != nil {
		logger.Error("WS", "Error marshaling event: %v", err)
		return
	}

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			logger.Warn("WS", "Error sending to client: %v", err)
			h.Unregister(c)
			c.conn.Close()
		}
	}
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
