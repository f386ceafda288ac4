package service

import (
	"log/slog"

	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/registry"
)

// Broadcaster fans room-wide events out to the current members of a room.
// Delivery is an enqueue on each member's outbox; it never waits on a slow
// reader.
type Broadcaster struct {
	reg   *registry.Registry
	conns *Conns
	log   *slog.Logger
}

func NewBroadcaster(reg *registry.Registry, conns *Conns, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{reg: reg, conns: conns, log: log}
}

// Broadcast delivers env to every member of code except exclude (empty
// excludes nobody). It returns the number of members the frame was queued for.
func (b *Broadcaster) Broadcast(code string, env protocol.Envelope, exclude string) (int, error) {
	return b.broadcast(code, env, exclude, false)
}

// BroadcastVolatile is Broadcast for frames that may be dropped under
// backpressure, such as drawing deltas.
func (b *Broadcaster) BroadcastVolatile(code string, env protocol.Envelope, exclude string) (int, error) {
	return b.broadcast(code, env, exclude, true)
}

func (b *Broadcaster) broadcast(code string, env protocol.Envelope, exclude string, droppable bool) (int, error) {
	var n int
	err := b.reg.Members(code, func(members []registry.Participant) {
		n = b.FanOut(members, env, exclude, droppable)
	})
	return n, err
}

// FanOut delivers env to members except exclude. It is meant to be called
// from a registry hook, with the room already locked.
func (b *Broadcaster) FanOut(members []registry.Participant, env protocol.Envelope, exclude string, droppable bool) int {
	n := 0
	for _, p := range members {
		if p.ConnID == exclude {
			continue
		}
		if b.SendTo(p.ConnID, env, droppable) {
			n++
		}
	}
	return n
}

// SendTo queues env for a single connection. It reports false when the
// connection is gone or the frame was not queued.
func (b *Broadcaster) SendTo(connID string, env protocol.Envelope, droppable bool) bool {
	out, ok := b.conns.Get(connID)
	if !ok {
		return false
	}
	if !out.Send(env, droppable) {
		b.log.Debug("frame not queued", "conn", connID, "type", env.Type, "droppable", droppable)
		return false
	}
	return true
}
