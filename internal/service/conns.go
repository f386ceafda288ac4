package service

import (
	"sync"

	"github.com/loksaikotini/EduCast/internal/protocol"
)

// Outbox is the outbound side of one live connection.
type Outbox interface {
	// Send enqueues env without blocking and reports whether it was queued.
	// A droppable frame is discarded when the queue is full. Any other frame
	// that does not fit marks the connection as stalled and closes it.
	Send(env protocol.Envelope, droppable bool) bool
}

// Conns maps connection ids to their outboxes. It is the link between the
// participant records in the registry and the transport.
type Conns struct {
	mu sync.RWMutex
	m  map[string]Outbox
}

func NewConns() *Conns {
	return &Conns{m: make(map[string]Outbox)}
}

func (c *Conns) Register(id string, out Outbox) {
	c.mu.Lock()
	c.m[id] = out
	c.mu.Unlock()
}

func (c *Conns) Unregister(id string) {
	c.mu.Lock()
	delete(c.m, id)
	c.mu.Unlock()
}

func (c *Conns) Get(id string) (Outbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.m[id]
	return out, ok
}

func (c *Conns) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
