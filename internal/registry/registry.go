// Package registry is the in-memory room table: which connections are in
// which room right now. It is the single source of truth for membership.
//
// Every mutation of a room is serialised by that room's own mutex; rooms
// never wait on each other. Callers that must notify other members do so
// from a hook that runs while the room is still locked, so the order in
// which members observe events matches the order the registry applied them.
// Hooks must not block: they may only enqueue.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

// Participant is one connection's membership record within a room.
type Participant struct {
	ConnID     string    `json:"connId"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	HandRaised bool      `json:"handRaised"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Stats is a point-in-time count across all rooms.
type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
}

type room struct {
	mu      sync.Mutex
	code    string
	members map[string]*Participant
	order   []string // connection ids in join order
	closed  bool     // evicted from the registry; lookups must retry
}

// Registry maps room codes to their live participants.
type Registry struct {
	mu    sync.Mutex // guards rooms only, never held while a room is locked by the same caller
	rooms map[string]*room
	now   func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*room), now: time.Now}
}

// NormalizeCode applies the case-insensitive room code convention.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// lockRoom returns the room locked, creating it when create is set. It
// returns nil when the room does not exist and create is false.
func (r *Registry) lockRoom(code string, create bool) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[code]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			rm = &room{code: code, members: make(map[string]*Participant)}
			r.rooms[code] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			// evicted between lookup and lock
			rm.mu.Unlock()
			continue
		}
		return rm
	}
}

// evictLocked removes an empty room. The caller holds rm.mu.
func (r *Registry) evictLocked(rm *room) {
	rm.closed = true
	r.mu.Lock()
	if r.rooms[rm.code] == rm {
		delete(r.rooms, rm.code)
	}
	r.mu.Unlock()
}

// snapshotLocked copies the members in join order, skipping exclude.
func (rm *room) snapshotLocked(exclude string) []Participant {
	out := make([]Participant, 0, len(rm.order))
	for _, id := range rm.order {
		if id == exclude {
			continue
		}
		out = append(out, *rm.members[id])
	}
	return out
}

// Join inserts p into the room, creating the room if it does not exist. The
// returned roster lists the other members at the instant of insertion.
// Joining again with the same connection id is a no-op that returns the
// current roster and joined=false. onJoin runs under the room lock, only on
// a fresh insertion, with the same roster.
func (r *Registry) Join(code string, p Participant, onJoin func(roster []Participant)) (roster []Participant, joined bool) {
	rm := r.lockRoom(code, true)
	defer rm.mu.Unlock()

	if _, ok := rm.members[p.ConnID]; ok {
		return rm.snapshotLocked(p.ConnID), false
	}

	roster = rm.snapshotLocked("")
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	stored := p
	rm.members[p.ConnID] = &stored
	rm.order = append(rm.order, p.ConnID)

	if onJoin != nil {
		onJoin(roster)
	}
	return roster, true
}

// Leave removes connID from the room and evicts the room once empty. It
// returns false when the connection was not a member, which callers treat
// as a benign no-op. onLeave runs under the room lock, only when a removal
// happened, with the remaining members.
func (r *Registry) Leave(code, connID string, onLeave func(left Participant, remaining []Participant)) bool {
	rm := r.lockRoom(code, false)
	if rm == nil {
		return false
	}
	defer rm.mu.Unlock()

	p, ok := rm.members[connID]
	if !ok {
		return false
	}
	delete(rm.members, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	remaining := rm.snapshotLocked("")
	if len(remaining) == 0 {
		r.evictLocked(rm)
	}
	if onLeave != nil {
		onLeave(*p, remaining)
	}
	return true
}

// SetHandRaised records a hand toggle. onChange runs under the room lock
// with the updated participant and every member, the toggler included.
func (r *Registry) SetHandRaised(code, connID string, raised bool, onChange func(p Participant, members []Participant)) (Participant, error) {
	rm := r.lockRoom(code, false)
	if rm == nil {
		return Participant{}, ErrRoomNotFound
	}
	defer rm.mu.Unlock()

	p, ok := rm.members[connID]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	p.HandRaised = raised
	updated := *p
	if onChange != nil {
		onChange(updated, rm.snapshotLocked(""))
	}
	return updated, nil
}

// Members runs fn with the room's members while the room is locked.
func (r *Registry) Members(code string, fn func(members []Participant)) error {
	rm := r.lockRoom(code, false)
	if rm == nil {
		return ErrRoomNotFound
	}
	defer rm.mu.Unlock()
	fn(rm.snapshotLocked(""))
	return nil
}

// Participant returns a single member.
func (r *Registry) Participant(code, connID string) (Participant, error) {
	rm := r.lockRoom(code, false)
	if rm == nil {
		return Participant{}, ErrRoomNotFound
	}
	defer rm.mu.Unlock()
	p, ok := rm.members[connID]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	return *p, nil
}

// Participants lists the members in join order. A missing room yields nil.
func (r *Registry) Participants(code string) []Participant {
	var out []Participant
	_ = r.Members(code, func(members []Participant) { out = members })
	return out
}

// Exists reports whether the room currently has members.
func (r *Registry) Exists(code string) bool {
	return r.Size(code) > 0
}

// Size returns the member count, 0 when the room does not exist.
func (r *Registry) Size(code string) int {
	rm := r.lockRoom(code, false)
	if rm == nil {
		return 0
	}
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Stats counts rooms and participants. Rooms are sampled one at a time, so
// the totals are not a single consistent snapshot under concurrent churn.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var s Stats
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed {
			s.Rooms++
			s.Participants += len(rm.members)
		}
		rm.mu.Unlock()
	}
	return s
}
