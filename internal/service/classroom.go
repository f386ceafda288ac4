package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loksaikotini/EduCast/internal/idgen"
	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/registry"
	"github.com/loksaikotini/EduCast/internal/repo"
)

// ClassroomChatService is the persistent classroom chat. Unlike meeting
// chat, messages are stored before they are fanned out, and only the
// classroom's teacher and enrolled students may take part.
type ClassroomChatService struct {
	repo  repo.ClassroomRepo
	reg   *registry.Registry
	conns *Conns
	bc    *Broadcaster
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// NewClassroomChatService keeps its own registry of chat rooms, separate
// from the meeting rooms.
func NewClassroomChatService(r repo.ClassroomRepo, conns *Conns, log *slog.Logger) *ClassroomChatService {
	if log == nil {
		log = slog.Default()
	}
	reg := registry.New()
	return &ClassroomChatService{
		repo:  r,
		reg:   reg,
		conns: conns,
		bc:    NewBroadcaster(reg, conns, log),
		log:   log,
		now:   time.Now,
		newID: idgen.NewULID,
	}
}

func chatRoomKey(code string) string {
	return "classroom_" + code
}

// Connect registers the connection's outbox.
func (c *ClassroomChatService) Connect(s *Session, out Outbox) {
	c.conns.Register(s.ID, out)
}

// JoinChat admits the session to the chat of classroom code and queues the
// joined-classroom-chat acknowledgement.
func (c *ClassroomChatService) JoinChat(ctx context.Context, s *Session, code string) (models.Classroom, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Classroom{}, ErrMalformedMessage
	}
	classroom, err := c.classroom(ctx, code)
	if err != nil {
		return models.Classroom{}, err
	}
	if !classroom.HasMember(s.Identity.UserID) {
		return models.Classroom{}, ErrNotAuthorizedForRoom
	}

	key := chatRoomKey(code)
	if cur := s.Room(); cur != "" && cur != key {
		c.leave(s)
	}
	ack := protocol.MustNew(protocol.TypeJoinedClassroomChat, "", protocol.JoinedClassroomChatPayload{
		ClassroomCode: code,
		ClassroomName: classroom.Name,
		Message:       fmt.Sprintf("Welcome to %q chat, %s!", classroom.Name, s.Identity.Name),
	})
	p := registry.Participant{ConnID: s.ID, UserID: s.Identity.UserID, Name: s.Identity.Name, Role: s.Identity.Role}
	_, joined := c.reg.Join(key, p, func([]registry.Participant) {
		c.bc.SendTo(s.ID, ack, false)
	})
	if !joined {
		c.bc.SendTo(s.ID, ack, false)
	}
	s.setRoom(key)
	s.Log.Info("joined classroom chat", "classroom", code)
	return classroom, nil
}

// SendMessage stores a message from the session and fans it out to every
// chat member, the sender included.
func (c *ClassroomChatService) SendMessage(ctx context.Context, s *Session, code, text string) (models.ChatMessage, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.ChatMessage{}, ErrMalformedMessage
	}
	if _, err := c.classroom(ctx, code); err != nil {
		return models.ChatMessage{}, err
	}
	key := chatRoomKey(code)
	if s.Room() != key {
		return models.ChatMessage{}, ErrNotInRoom
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrMalformedMessage
	}

	msg := models.ChatMessage{
		ID:            c.newID(),
		ClassroomCode: code,
		SenderID:      s.Identity.UserID,
		SenderName:    s.Identity.Name,
		Text:          text,
		Timestamp:     c.now().UTC(),
	}
	if err := c.repo.AppendChatMessage(ctx, msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("store chat message: %w", err)
	}

	env := protocol.MustNew(protocol.TypeNewClassroomMessage, "", protocol.NewClassroomMessagePayload{
		ID:        msg.ID,
		Sender:    protocol.ClassroomSender{ID: msg.SenderID, Name: msg.SenderName},
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		Classroom: code,
	})
	if _, err := c.bc.Broadcast(key, env, ""); err != nil {
		// stored, but everyone (the sender included) left in the meantime
		s.Log.Debug("classroom message stored without live recipients", "classroom", code)
	}
	return msg, nil
}

// LeaveChat leaves the classroom chat if the session is in it.
func (c *ClassroomChatService) LeaveChat(s *Session, code string) bool {
	if s.Room() != chatRoomKey(strings.TrimSpace(code)) {
		return false
	}
	return c.leave(s)
}

func (c *ClassroomChatService) leave(s *Session) bool {
	key := s.takeRoom()
	if key == "" {
		return false
	}
	return c.reg.Leave(key, s.ID, nil)
}

// Disconnect is the cleanup path for a closed chat connection.
func (c *ClassroomChatService) Disconnect(s *Session) {
	c.leave(s)
	c.conns.Unregister(s.ID)
}

// History returns the stored chat of code, oldest first, for a member of
// the classroom.
func (c *ClassroomChatService) History(ctx context.Context, id models.Identity, code string, limit int) ([]models.ChatMessage, error) {
	code = strings.TrimSpace(code)
	classroom, err := c.classroom(ctx, code)
	if err != nil {
		return nil, err
	}
	if !classroom.HasMember(id.UserID) {
		return nil, ErrNotAuthorizedForRoom
	}
	return c.repo.ListChatMessages(ctx, code, limit)
}

// Online lists the members currently connected to the chat of code.
func (c *ClassroomChatService) Online(code string) []registry.Participant {
	return c.reg.Participants(chatRoomKey(strings.TrimSpace(code)))
}

func (c *ClassroomChatService) classroom(ctx context.Context, code string) (models.Classroom, error) {
	classroom, ok, err := c.repo.GetClassroom(ctx, code)
	if err != nil {
		return models.Classroom{}, err
	}
	if !ok {
		return models.Classroom{}, ErrClassroomNotFound
	}
	return classroom, nil
}
