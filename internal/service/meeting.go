// Package service holds the meeting coordination logic: the signaling relay,
// side-channel fan-out, connection cleanup, and classroom chat. It is
// transport-agnostic; connections reach it as Sessions with an Outbox.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loksaikotini/EduCast/internal/idgen"
	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/registry"
)

// MeetingService is the video-meeting signaling relay.
type MeetingService struct {
	reg   *registry.Registry
	conns *Conns
	bc    *Broadcaster
	log   *slog.Logger
	now   func() time.Time
	code  func() (string, error)
}

// NewMeetingService wires the relay to a registry and connection table.
func NewMeetingService(reg *registry.Registry, conns *Conns, log *slog.Logger) *MeetingService {
	if log == nil {
		log = slog.Default()
	}
	return &MeetingService{
		reg:   reg,
		conns: conns,
		bc:    NewBroadcaster(reg, conns, log),
		log:   log,
		now:   time.Now,
		code:  idgen.NewMeetingCode,
	}
}

// Broadcaster exposes the room fan-out.
func (m *MeetingService) Broadcaster() *Broadcaster { return m.bc }

// Connect registers the connection's outbox and tells the client its id.
func (m *MeetingService) Connect(s *Session, out Outbox) {
	m.conns.Register(s.ID, out)
	out.Send(protocol.MustNew(protocol.TypeConnected, "", protocol.ConnectedPayload{
		ID:   s.ID,
		Name: s.Identity.Name,
		Role: s.Identity.Role,
	}), false)
}

func peerOf(p registry.Participant) protocol.Peer {
	return protocol.Peer{ID: p.ConnID, Name: p.Name, HandRaised: p.HandRaised}
}

func peersOf(ps []registry.Participant) []protocol.Peer {
	out := make([]protocol.Peer, len(ps))
	for i, p := range ps {
		out[i] = peerOf(p)
	}
	return out
}

func isMember(members []registry.Participant, connID string) bool {
	for _, p := range members {
		if p.ConnID == connID {
			return true
		}
	}
	return false
}

// Join puts the session into code. The joiner receives all-users with the
// other members and is expected to offer to each of them; the others receive
// user-connected. Both frames are queued under the room lock, so nobody sees
// a later event for the room before these. A session already in another
// room leaves it first. Re-joining the current room only resends the roster.
func (m *MeetingService) Join(s *Session, code string) ([]registry.Participant, error) {
	code = registry.NormalizeCode(code)
	if code == "" {
		return nil, ErrMalformedMessage
	}
	if cur := s.Room(); cur != "" && cur != code {
		m.Leave(s)
	}

	p := registry.Participant{
		ConnID: s.ID,
		UserID: s.Identity.UserID,
		Name:   s.Identity.Name,
		Role:   s.Identity.Role,
	}
	roster, joined := m.reg.Join(code, p, func(roster []registry.Participant) {
		m.bc.SendTo(s.ID, protocol.MustNew(protocol.TypeAllUsers, code, peersOf(roster)), false)
		m.bc.FanOut(roster, protocol.MustNew(protocol.TypeUserConnected, code, peerOf(p)), s.ID, false)
	})
	if !joined {
		err := m.reg.Members(code, func(members []registry.Participant) {
			others := make([]registry.Participant, 0, len(members))
			for _, mp := range members {
				if mp.ConnID != s.ID {
					others = append(others, mp)
				}
			}
			roster = others
			m.bc.SendTo(s.ID, protocol.MustNew(protocol.TypeAllUsers, code, peersOf(others)), false)
		})
		if err != nil {
			// the room was evicted between the two calls, so s is no longer in it
			return m.Join(s, code)
		}
	}
	s.setRoom(code)
	s.Log.Info("joined meeting", "room", code, "peers", len(roster), "fresh", joined)
	return roster, nil
}

// Leave removes the session from its current room and notifies the rest
// with user-left. It reports whether a removal happened; calling it again,
// or after the room already dropped the session, is a no-op.
func (m *MeetingService) Leave(s *Session) bool {
	code := s.takeRoom()
	if code == "" {
		return false
	}
	removed := m.reg.Leave(code, s.ID, func(left registry.Participant, remaining []registry.Participant) {
		m.bc.FanOut(remaining, protocol.MustNew(protocol.TypeUserLeft, code, left.ConnID), "", false)
	})
	if removed {
		s.Log.Info("left meeting", "room", code)
	}
	return removed
}

// Disconnect is the cleanup path for a closed connection. It runs the leave
// path (a no-op if the client already left) and forgets the outbox.
func (m *MeetingService) Disconnect(s *Session) {
	m.Leave(s)
	m.conns.Unregister(s.ID)
}

// RelayOffer forwards an offer to target when both the sender and the target
// are members of the sender's current room. It reports whether the target
// was present; a missing target is an expected race and is not an error.
func (m *MeetingService) RelayOffer(s *Session, target string, signal json.RawMessage) bool {
	env := protocol.MustNew(protocol.TypeOfferReceived, "", protocol.OfferReceivedPayload{Signal: signal, Caller: s.ID})
	return m.relay(s, target, env)
}

// RelayAnswer forwards an answer back to the offerer under the same rule as RelayOffer.
func (m *MeetingService) RelayAnswer(s *Session, target string, signal json.RawMessage) bool {
	env := protocol.MustNew(protocol.TypeAnswerReceived, "", protocol.AnswerReceivedPayload{Signal: signal, ID: s.ID})
	return m.relay(s, target, env)
}

func (m *MeetingService) relay(s *Session, target string, env protocol.Envelope) bool {
	code := s.Room()
	if code == "" || target == "" || target == s.ID {
		return false
	}
	delivered := false
	err := m.reg.Members(code, func(members []registry.Participant) {
		if !isMember(members, s.ID) || !isMember(members, target) {
			return
		}
		delivered = m.bc.SendTo(target, env, false)
	})
	if err != nil || !delivered {
		s.Log.Debug("signal dropped", "type", env.Type, "target", target, "room", code)
	}
	return delivered
}

// SendChat stamps msg with the sender and fans it out to every member of
// code, the sender included. Blank text is malformed.
func (m *MeetingService) SendChat(s *Session, code string, msg protocol.ChatMessage) error {
	code = registry.NormalizeCode(code)
	msg.Text = strings.TrimSpace(msg.Text)
	if code == "" || msg.Text == "" {
		return ErrMalformedMessage
	}
	msg.Sender = s.ID
	msg.SenderName = s.Identity.Name
	msg.Timestamp = m.now().UTC()

	env, err := protocol.New(protocol.TypeReceiveMessage, code, msg)
	if err != nil {
		return ErrMalformedMessage
	}
	member := false
	err = m.reg.Members(code, func(members []registry.Participant) {
		if member = isMember(members, s.ID); member {
			m.bc.FanOut(members, env, "", false)
		}
	})
	if err != nil {
		return err
	}
	if !member {
		return ErrNotInRoom
	}
	return nil
}

// RaiseHand records the toggle and fans user-hand-raised out to every member.
func (m *MeetingService) RaiseHand(s *Session, code string, raised bool) error {
	code = registry.NormalizeCode(code)
	if code == "" {
		return ErrMalformedMessage
	}
	_, err := m.reg.SetHandRaised(code, s.ID, raised, func(p registry.Participant, members []registry.Participant) {
		m.bc.FanOut(members, protocol.MustNew(protocol.TypeUserHandRaised, code, protocol.HandRaisedPayload{
			UserID: p.ConnID,
			Raised: p.HandRaised,
			Name:   p.Name,
		}), "", false)
	})
	if errors.Is(err, errParticipantNotFound) {
		return ErrNotInRoom
	}
	return err
}

// Draw forwards a drawing delta to the other members of the sender's room.
// Deltas are best-effort: they are dropped for members whose queue is full,
// and silently ignored when the sender is not in code.
func (m *MeetingService) Draw(s *Session, code string, change json.RawMessage) int {
	code = registry.NormalizeCode(code)
	if code == "" || code != s.Room() || len(change) == 0 {
		return 0
	}
	env := protocol.MustNew(protocol.TypeDrawingUpdate, code, change)
	n, _ := m.bc.BroadcastVolatile(code, env, s.ID)
	return n
}

// RoomExists answers the liveness check without joining.
func (m *MeetingService) RoomExists(code string) bool {
	return m.reg.Exists(registry.NormalizeCode(code))
}

// RoomSize returns the live member count of code.
func (m *MeetingService) RoomSize(code string) int {
	return m.reg.Size(registry.NormalizeCode(code))
}

// Participants lists the members of code without mutating anything.
func (m *MeetingService) Participants(code string) []registry.Participant {
	return m.reg.Participants(registry.NormalizeCode(code))
}

// Stats reports registry totals and live connection count.
func (m *MeetingService) Stats() (registry.Stats, int) {
	return m.reg.Stats(), m.conns.Len()
}

// NewMeetingCode returns a code with no live room behind it. The code is
// not reserved; the room comes into being on its first join.
func (m *MeetingService) NewMeetingCode() (string, error) {
	const maxRetries = 10

	for range maxRetries {
		code, err := m.code()
		if err != nil {
			return "", err
		}
		if !m.reg.Exists(code) {
			return code, nil
		}
	}
	return "", ErrCodeGenerationFailed
}
