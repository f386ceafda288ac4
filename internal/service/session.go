package service

import (
	"log/slog"
	"sync"

	"github.com/loksaikotini/EduCast/internal/models"
)

// Session is the server-side state of one connection: who is on the other
// end and which room (if any) it is currently in. A connection is in at most
// one room per endpoint.
type Session struct {
	ID       string
	Identity models.Identity
	Log      *slog.Logger

	mu   sync.Mutex
	room string
}

// NewSession binds a connection id to a verified identity.
func NewSession(id string, identity models.Identity, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		ID:       id,
		Identity: identity,
		Log:      log.With("conn", id, "user", identity.UserID),
	}
}

// Room returns the current room key, empty when unjoined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(code string) {
	s.mu.Lock()
	s.room = code
	s.mu.Unlock()
}

// takeRoom clears and returns the current room. Only the first caller after
// a join gets a non-empty value, which makes cleanup run once.
func (s *Session) takeRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.room
	s.room = ""
	return code
}
