package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Message is the frame pushed to websocket subscribers.
type Message struct {
	Type    string       `json:"type"`
	Payload Notification `json:"payload"`
}

// Hub pushes dispatched signals to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	logger  zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger.With().Str("component", "alert_ws").Logger(),
	}
}

// ServeHTTP upgrades the request and registers the connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("subscriber connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// subscribers never send anything meaningful; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts the signal to every subscriber. Slow or broken clients are dropped.
func (h *Hub) Notify(_ context.Context, note Notification) error {
	data, err := json.Marshal(Message{Type: "signal", Payload: note})
	if err != nil {
		return fmt.Errorf("marshal signal frame: %w", err)
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	locks := make([]*sync.Mutex, 0, len(h.clients))
	for c, l := range h.clients {
		conns = append(conns, c)
		locks = append(locks, l)
	}
	h.mu.RUnlock()

	for i, c := range conns {
		locks[i].Lock()
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.WriteMessage(websocket.TextMessage, data)
		locks[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("dropping websocket subscriber")
			c.Close()
		}
	}
	return nil
}

var _ Notifier = (*Hub)(nil)
