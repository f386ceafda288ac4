package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/idgen"
	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/service"
)

// storeTimeout bounds a single classroom store call made on behalf of a socket.
const storeTimeout = 5 * time.Second

// WebSocketHandler accepts the meeting and classroom chat sockets.
type WebSocketHandler struct {
	meetings *service.MeetingService
	chats    *service.ClassroomChatService
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	opts     Options
	log      *slog.Logger
}

func NewWebSocketHandler(meetings *service.MeetingService, chats *service.ClassroomChatService, v *auth.Verifier, opts Options, log *slog.Logger) *WebSocketHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &WebSocketHandler{
		meetings: meetings,
		chats:    chats,
		verifier: v,
		opts:     opts,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin header) and the
// configured front-end origins.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// accept verifies the token and upgrades. On failure the response has been
// written and nil is returned.
func (h *WebSocketHandler) accept(w http.ResponseWriter, r *http.Request, endpoint string) (*service.Session, *wsClient) {
	id, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.log.Info("socket rejected", "endpoint", endpoint, "reason", auth.Reason(err), "remote", r.RemoteAddr)
		auth.Reject(w, err)
		return nil, nil
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "endpoint", endpoint, "err", err)
		return nil, nil
	}
	s := service.NewSession(idgen.NewConnID(), id, h.log.With("endpoint", endpoint))
	return s, newWSClient(conn, h.opts, s.Log)
}

// ServeMeeting handles GET /ws/video-meeting.
func (h *WebSocketHandler) ServeMeeting(w http.ResponseWriter, r *http.Request) {
	s, c := h.accept(w, r, "video-meeting")
	if s == nil {
		return
	}
	go c.writePump()
	h.meetings.Connect(s, c)
	s.Log.Info("meeting socket connected", "name", s.Identity.Name)
	defer func() {
		h.meetings.Disconnect(s)
		c.close()
		s.Log.Info("meeting socket disconnected")
	}()

	c.readPump(func(env protocol.Envelope) {
		h.dispatchMeeting(s, c, env)
	})
}

func (h *WebSocketHandler) dispatchMeeting(s *service.Session, c *wsClient, env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypeJoinRoom:
		_, err = h.meetings.Join(s, roomOf(env))
	case protocol.TypeLeaveRoom:
		h.meetings.Leave(s)
	case protocol.TypeSendingOffer:
		var p protocol.OfferPayload
		if err = decode(env, &p); err == nil {
			h.meetings.RelayOffer(s, p.Target, p.Signal)
		}
	case protocol.TypeSendingAnswer:
		var p protocol.AnswerPayload
		if err = decode(env, &p); err == nil {
			h.meetings.RelayAnswer(s, p.Target, p.Signal)
		}
	case protocol.TypeSendMessage:
		var msg protocol.ChatMessage
		if err = decode(env, &msg); err == nil {
			err = h.meetings.SendChat(s, h.currentRoom(s, env), msg)
		}
	case protocol.TypeHandRaise:
		var p protocol.HandRaisePayload
		if err = decode(env, &p); err == nil {
			err = h.meetings.RaiseHand(s, h.currentRoom(s, env), p.Raised)
		}
	case protocol.TypeDrawingChange:
		code, change := drawingOf(env)
		if code == "" {
			code = s.Room()
		}
		h.meetings.Draw(s, code, change)
	case protocol.TypePing:
		c.Send(protocol.MustNew(protocol.TypePong, "", nil), false)
	default:
		s.Log.Debug("unknown frame", "type", env.Type)
		err = service.ErrMalformedMessage
	}
	if err != nil {
		h.reportMeetingError(s, c, env.Type, err)
	}
}

// roomOf reads the room code of a join-room frame from roomId, or from a
// bare string payload as older clients send it.
func roomOf(env protocol.Envelope) string {
	if env.RoomID != "" {
		return env.RoomID
	}
	var code string
	if len(env.Payload) > 0 && json.Unmarshal(env.Payload, &code) == nil {
		return code
	}
	return ""
}

// drawingOf unwraps a {roomCode, change} payload. Any other payload is the
// change itself and the room comes from roomId.
func drawingOf(env protocol.Envelope) (string, json.RawMessage) {
	var p protocol.DrawingChangePayload
	if json.Unmarshal(env.Payload, &p) == nil && p.RoomCode != "" && len(p.Change) > 0 {
		return p.RoomCode, p.Change
	}
	return env.RoomID, env.Payload
}

func (h *WebSocketHandler) currentRoom(s *service.Session, env protocol.Envelope) string {
	if env.RoomID != "" {
		return env.RoomID
	}
	return s.Room()
}

func (h *WebSocketHandler) reportMeetingError(s *service.Session, c *wsClient, typ string, err error) {
	p := service.ErrorPayload(err)
	if p.Code == protocol.CodeInternal {
		s.Log.Error("meeting frame failed", "type", typ, "err", err)
	} else {
		s.Log.Debug("meeting frame rejected", "type", typ, "err", err)
	}
	c.Send(protocol.MustNew(protocol.TypeError, "", p), false)
}

// ServeClassroomChat handles GET /ws/classroom-chat.
func (h *WebSocketHandler) ServeClassroomChat(w http.ResponseWriter, r *http.Request) {
	s, c := h.accept(w, r, "classroom-chat")
	if s == nil {
		return
	}
	go c.writePump()
	h.chats.Connect(s, c)
	s.Log.Info("classroom chat socket connected", "name", s.Identity.Name)
	defer func() {
		h.chats.Disconnect(s)
		c.close()
		s.Log.Info("classroom chat socket disconnected")
	}()

	c.readPump(func(env protocol.Envelope) {
		h.dispatchChat(s, c, env)
	})
}

func (h *WebSocketHandler) dispatchChat(s *service.Session, c *wsClient, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case protocol.TypeJoinClassroomChat:
		var p protocol.ClassroomCodePayload
		if err = decode(env, &p); err == nil {
			_, err = h.chats.JoinChat(ctx, s, p.ClassroomCode)
		}
	case protocol.TypeSendClassroomMessage:
		var p protocol.SendClassroomMessagePayload
		if err = decode(env, &p); err == nil {
			_, err = h.chats.SendMessage(ctx, s, p.ClassroomCode, p.MessageText)
		}
	case protocol.TypeLeaveClassroomChat:
		var p protocol.ClassroomCodePayload
		if err = decode(env, &p); err == nil {
			h.chats.LeaveChat(s, p.ClassroomCode)
		}
	case protocol.TypePing:
		c.Send(protocol.MustNew(protocol.TypePong, "", nil), false)
	default:
		err = service.ErrMalformedMessage
	}
	if err == nil {
		return
	}

	p := service.ErrorPayload(err)
	if p.Code == protocol.CodeInternal {
		s.Log.Error("classroom frame failed", "type", env.Type, "err", err)
	}
	c.Send(protocol.MustNew(protocol.TypeClassroomError, "", protocol.ClassroomErrorPayload{Message: p.Message}), false)
}

// decode reports a payload that does not fit its frame type as malformed.
func decode(env protocol.Envelope, dst any) error {
	if err := env.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", service.ErrMalformedMessage, err)
	}
	return nil
}
