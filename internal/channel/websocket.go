package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storyindex/internal/core/errors"
	"storyindex/internal/shared/observability"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WebsocketTransport is the client side of a Hub connection.
type WebsocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	handler func(Message)
	started bool
	done    chan struct{}
	once    sync.Once
}

func Dial(ctx context.Context, url string) (*WebsocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &WebsocketTransport{conn: conn, done: make(chan struct{})}, nil
}

func (t *WebsocketTransport) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// SetHandler installs fn and starts reading. Reading starts only once a
// handler exists so no early message is lost.
func (t *WebsocketTransport) SetHandler(fn func(Message)) {
	t.mu.Lock()
	t.handler = fn
	start := !t.started
	t.started = true
	t.mu.Unlock()
	if start {
		go t.readLoop()
	}
}

func (t *WebsocketTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("channel connection lost", "error", err)
				}
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			observability.ChannelDroppedTotal.WithLabelValues("malformed").Inc()
			slog.Warn("dropping malformed channel message", "error", errors.NewChannelProtocolWarning("malformed message"))
			continue
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

func (t *WebsocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.writeMu.Lock()
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
