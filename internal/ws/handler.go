package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"visiontrigger/internal/logger"
	"visiontrigger/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades /ws/events requests and registers them with the hub.
// An optional ?types=fire,link query limits the event types sent.
type Handler struct {
	hub *EventHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *EventHub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	types := parseTypes(r.URL.Query().Get("types"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WS", "Upgrade error: %v", err)
		return
	}

	logger.Info("WS", "New connection from %s", r.RemoteAddr)
	c := h.hub.Register(conn, types)

	go h.readPump(c)
}

func parseTypes(raw string) []pipeline.EventType {
	if raw == "" {
		return nil
	}
	var types []pipeline.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, pipeline.EventType(t))
		}
	}
	return types
}

// readPump keeps the connection alive and notices when the client goes away
func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	stop := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(stop)
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WS", "Read error: %v", err)
			}
			return
		}
	}
}
