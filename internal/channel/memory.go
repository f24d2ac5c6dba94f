package channel

import "sync"

// MemoryTransport is one end of an in-process pair.
type MemoryTransport struct {
	mu      sync.RWMutex
	peer    *MemoryTransport
	handler func(Message)
	closed  bool
}

// NewMemoryPair returns two connected transports.
func NewMemoryPair() (*MemoryTransport, *MemoryTransport) {
	a, b := &MemoryTransport{}, &MemoryTransport{}
	a.peer, b.peer = b, a
	return a, b
}

func (t *MemoryTransport) Send(msg Message) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	t.peer.deliver(msg)
	return nil
}

func (t *MemoryTransport) deliver(msg Message) {
	t.mu.RLock()
	h, closed := t.handler, t.closed
	t.mu.RUnlock()
	if h != nil && !closed {
		h(msg)
	}
}

func (t *MemoryTransport) SetHandler(fn func(Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
