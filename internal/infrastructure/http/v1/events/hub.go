// Package events streams fiscal status changes to UI collaborators over websocket.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hotelfiscal/internal/core/id"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/pkg/logger"
)

// MessageType discriminates websocket messages.
type MessageType string

const (
	TypeStatus    MessageType = "fiscal_status"
	TypeHeartbeat MessageType = "heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is the websocket envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status events out to connected clients. It implements
// fiscal.Notifier; Notify never blocks and drops clients that fall behind.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

var _ fiscal.Notifier = (*Hub)(nil)

// NewHub creates a hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// UI clients run on the hotel LAN under other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log.WithComponent("events"),
		clients: make(map[string]*client),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify implements fiscal.Notifier.
func (h *Hub) Notify(ctx context.Context, ev fiscal.StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithContext(ctx).Warnw("encode status event", "error", err)
		return
	}
	h.broadcast(Message{Type: TypeStatus, Timestamp: time.Now(), Data: data})
}

func (h *Hub) broadcast(m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cid, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, cid)
			close(c.send)
			h.log.Warnw("client too slow, disconnected", "client_id", cid)
		}
	}
}

// Serve upgrades GET /fiscal/events.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Warnw("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{id: id.New(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	h.log.Debugw("client connected", "client_id", cl.id, "remote_addr", c.Request.RemoteAddr)

	go h.writePump(cl)
	go h.readPump(cl)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cid, c := range h.clients {
		delete(h.clients, cid)
		close(c.send)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// readPump only consumes control frames and client heartbeats.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debugw("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		var m Message
		if json.Unmarshal(raw, &m) == nil && m.Type == TypeHeartbeat {
			h.reply(c, Message{Type: TypeHeartbeat, Timestamp: time.Now(), Data: json.RawMessage(`{"status":"alive"}`)})
		}
	}
}

func (h *Hub) reply(c *client, m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
