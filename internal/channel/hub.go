package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"storyindex/internal/core/errors"
	"storyindex/internal/shared/observability"
	"storyindex/internal/shared/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HubSender is the From value of messages the hub itself originates.
const HubSender = "storyindex-server"

// ManagerSender is the id the manager UI stamps on its messages.
const ManagerSender = "manager"

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type envelope struct {
	from *hubClient
	data []byte
}

// Hub relays messages between connected manager and preview clients. Each
// message goes to every client except its sender.
type Hub struct {
	upgrader websocket.Upgrader
	limiters *util.LimiterRegistry

	mu      sync.RWMutex
	clients map[*hubClient]bool

	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan envelope
	done       chan struct{}
}

// NewHub limits each connection to rate inbound messages per second with the
// given burst.
func NewHub(rate float64, burst int) *Hub {
	if rate <= 0 {
		rate = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiters:   util.NewLimiterRegistry(rate, burst, 10*time.Minute),
		clients:    make(map[*hubClient]bool),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			slog.Debug("channel client connected", "client", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			slog.Debug("channel client disconnected", "client", c.id)

		case env := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c == env.from {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					observability.ChannelDroppedTotal.WithLabelValues("slow_client").Inc()
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			close(h.done)
			h.limiters.Close()
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a hub-originated event to every client.
func (h *Hub) Broadcast(event string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(Message{Type: event, Args: args, From: HubSender})
	if err != nil {
		return err
	}
	observability.ChannelMessagesTotal.WithLabelValues(event, "out").Inc()
	select {
	case h.broadcast <- envelope{data: data}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("channel upgrade failed", "error", err)
		return
	}
	c := &hubClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		h.limiters.Release(c.id)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := h.limiters.Get(c.id)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow(1) {
			observability.ChannelDroppedTotal.WithLabelValues("rate_limited").Inc()
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			observability.ChannelDroppedTotal.WithLabelValues("malformed").Inc()
			slog.Warn("ignoring channel message", "client", c.id,
				"error", errors.NewChannelProtocolWarning("message is not a JSON event"))
			continue
		}
		if msg.From == HubSender {
			observability.ChannelDroppedTotal.WithLabelValues("spoofed").Inc()
			slog.Warn("ignoring channel message", "client", c.id, "event", msg.Type,
				"error", errors.NewChannelProtocolWarning("client used the server sender id"))
			continue
		}
		if msg.From == "" {
			msg.From = c.id
			if data, err = json.Marshal(msg); err != nil {
				continue
			}
		}
		observability.ChannelMessagesTotal.WithLabelValues(msg.Type, "in").Inc()
		select {
		case h.broadcast <- envelope{from: c, data: data}:
		case <-h.done:
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
