// Package channel carries serialisable events between the manager and the
// preview. Nothing but Message values crosses a transport.
package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"storyindex/internal/shared/observability"

	"github.com/google/uuid"
)

// Message is the wire form of an event.
type Message struct {
	Type string `json:"type"`
	Args []any  `json:"args"`
	From string `json:"from"`
}

// Decode unmarshals argument i into v through JSON, which gives typed access
// to payloads that crossed a transport as generic values.
func (m Message) Decode(i int, v any) error {
	if i >= len(m.Args) {
		return errMissingArg(m.Type, i)
	}
	raw, err := json.Marshal(m.Args[i])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Transport moves messages to the other side. Handlers set with SetHandler
// receive inbound messages.
type Transport interface {
	Send(msg Message) error
	SetHandler(fn func(Message))
	Close() error
}

type Listener func(msg Message)

type listener struct {
	id uint64
	fn Listener
}

// Channel dispatches inbound messages to listeners on a single goroutine, so
// listeners see messages in arrival order and never concurrently.
type Channel struct {
	id        string
	transport Transport

	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    uint64
	last      map[string][]any

	inbox  chan Message
	done   chan struct{}
	closed sync.Once
}

type Option func(*Channel)

// WithID sets the sender id stamped on outgoing messages.
func WithID(id string) Option {
	return func(c *Channel) { c.id = id }
}

func New(t Transport, opts ...Option) *Channel {
	c := &Channel{
		id:        uuid.NewString(),
		transport: t,
		listeners: make(map[string][]listener),
		last:      make(map[string][]any),
		inbox:     make(chan Message, 256),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if t != nil {
		t.SetHandler(c.receive)
	}
	go c.dispatch()
	return c
}

func (c *Channel) ID() string { return c.id }

// On registers fn for event and returns a function that removes it.
func (c *Channel) On(event string, fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listener{id: id, fn: fn})
	return func() { c.off(event, id) }
}

// Once registers fn for the next event only.
func (c *Channel) Once(event string, fn Listener) {
	var off func()
	var once sync.Once
	off = c.On(event, func(msg Message) {
		once.Do(func() {
			off()
			fn(msg)
		})
	})
}

// Off removes every listener for event.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, event)
}

func (c *Channel) off(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.listeners[event]
	for i, l := range ls {
		if l.id == id {
			c.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit sends event to the other side. It does not reach local listeners.
func (c *Channel) Emit(event string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	msg := Message{Type: event, Args: args, From: c.id}
	observability.ChannelMessagesTotal.WithLabelValues(event, "out").Inc()
	if c.transport == nil {
		return nil
	}
	return c.transport.Send(msg)
}

// Last returns the arguments of the most recent inbound event of that type.
func (c *Channel) Last(event string) ([]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	args, ok := c.last[event]
	return args, ok
}

func (c *Channel) receive(msg Message) {
	if msg.From == c.id {
		return
	}
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Channel) dispatch() {
	for {
		select {
		case msg := <-c.inbox:
			c.deliver(msg)
		case <-c.done:
			return
		}
	}
}

func (c *Channel) deliver(msg Message) {
	observability.ChannelMessagesTotal.WithLabelValues(msg.Type, "in").Inc()
	c.mu.Lock()
	c.last[msg.Type] = msg.Args
	ls := append([]listener(nil), c.listeners[msg.Type]...)
	c.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("channel listener panicked", "event", msg.Type, "panic", r)
				}
			}()
			l.fn(msg)
		}()
	}
}

// Close stops dispatching and closes the transport.
func (c *Channel) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		if c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}
