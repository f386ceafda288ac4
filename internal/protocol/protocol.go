// Package protocol defines the JSON frames exchanged over the meeting and
// classroom-chat WebSocket endpoints. Both the server handlers and the Go
// peer client speak it.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Meeting namespace message types.
const (
	TypeJoinRoom       = "join-room"
	TypeAllUsers       = "all-users"
	TypeUserConnected  = "user-connected"
	TypeSendingOffer   = "sending-offer"
	TypeOfferReceived  = "offer-received"
	TypeSendingAnswer  = "sending-answer"
	TypeAnswerReceived = "answer-received"
	TypeLeaveRoom      = "leave-room"
	TypeUserLeft       = "user-left"
	TypeSendMessage    = "send-message"
	TypeReceiveMessage = "receive-message"
	TypeHandRaise      = "hand-raise"
	TypeUserHandRaised = "user-hand-raised"
	TypeDrawingChange  = "drawing-change"
	TypeDrawingUpdate  = "drawing-update"
	TypeConnected      = "connected"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Classroom chat namespace message types.
const (
	TypeJoinClassroomChat    = "join-classroom-chat"
	TypeJoinedClassroomChat  = "joined-classroom-chat"
	TypeSendClassroomMessage = "send-classroom-message"
	TypeNewClassroomMessage  = "new-classroom-message"
	TypeLeaveClassroomChat   = "leave-classroom-chat"
	TypeClassroomError       = "classroom-error"
)

// Error codes carried in ErrorPayload.
const (
	CodeRoomNotFound      = "room_not_found"
	CodeMalformedMessage  = "malformed_message"
	CodeNotAuthorized     = "not_authorized"
	CodeNotInRoom         = "not_in_room"
	CodeClassroomNotFound = "classroom_not_found"
	CodeInternal          = "internal"
)

// Envelope is the single frame shape for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope, marshalling payload when it is not nil.
func New(typ, roomID string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, RoomID: roomID}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = b
	return env, nil
}

// MustNew is New for payloads that cannot fail to marshal (plain structs and strings).
func MustNew(typ, roomID string, payload any) Envelope {
	env, err := New(typ, roomID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Peer is one roster entry as seen by clients.
type Peer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HandRaised bool   `json:"handRaised"`
}

// ConnectedPayload tells a fresh connection who it is.
type ConnectedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// OfferPayload is sent by the initiator. Caller is informational only; the
// server always stamps the sender's own connection id.
type OfferPayload struct {
	Target string          `json:"target"`
	Caller string          `json:"caller,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// OfferReceivedPayload delivers an offer to its target.
type OfferReceivedPayload struct {
	Signal json.RawMessage `json:"signal"`
	Caller string          `json:"caller"`
}

// AnswerPayload is sent by the answering side back to the offerer.
type AnswerPayload struct {
	Target string          `json:"target"`
	Signal json.RawMessage `json:"signal"`
}

// AnswerReceivedPayload delivers an answer to the original offerer.
type AnswerReceivedPayload struct {
	Signal json.RawMessage `json:"signal"`
	ID     string          `json:"id"`
}

// HandRaisePayload toggles the caller's hand.
type HandRaisePayload struct {
	Raised bool `json:"raised"`
}

// HandRaisedPayload is the fan-out of a hand toggle.
type HandRaisedPayload struct {
	UserID string `json:"userId"` // connection id of the participant
	Raised bool   `json:"raised"`
	Name   string `json:"name"`
}

// DrawingChangePayload is the wrapped form of a drawing delta. Clients may
// instead send the bare change with the room in roomId.
type DrawingChangePayload struct {
	RoomCode string          `json:"roomCode"`
	Change   json.RawMessage `json:"change"`
}

// ChatMessage is the meeting chat fan-out. Extra carries any additional
// client fields, which are passed through untouched.
type ChatMessage struct {
	Text       string                     `json:"-"`
	Sender     string                     `json:"-"`
	SenderName string                     `json:"-"`
	Timestamp  time.Time                  `json:"-"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges Extra with the server-stamped fields. Stamped fields win.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["text"] = m.Text
	out["sender"] = m.Sender
	out["senderName"] = m.SenderName
	out["timestamp"] = m.Timestamp
	return json.Marshal(out)
}

// UnmarshalJSON splits text from the pass-through fields. Client copies of
// the stamped fields are discarded unread, whatever their JSON type.
func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if raw, ok := fields["text"]; ok {
		if err := json.Unmarshal(raw, &m.Text); err != nil {
			return fmt.Errorf("text: %w", err)
		}
	}
	for _, k := range []string{"text", "sender", "senderName", "timestamp"} {
		delete(fields, k)
	}
	m.Extra = fields
	return nil
}

// ErrorPayload is reported to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassroomCodePayload names a classroom.
type ClassroomCodePayload struct {
	ClassroomCode string `json:"classroomCode"`
}

// JoinedClassroomChatPayload acknowledges a classroom chat join.
type JoinedClassroomChatPayload struct {
	ClassroomCode string `json:"classroomCode"`
	ClassroomName string `json:"classroomName"`
	Message       string `json:"message"`
}

// SendClassroomMessagePayload is a classroom chat send.
type SendClassroomMessagePayload struct {
	ClassroomCode string `json:"classroomCode"`
	MessageText   string `json:"messageText"`
}

// ClassroomSender identifies the author of a classroom message.
type ClassroomSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewClassroomMessagePayload is the classroom chat fan-out.
type NewClassroomMessagePayload struct {
	ID        string          `json:"id"`
	Sender    ClassroomSender `json:"sender"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Classroom string          `json:"classroom"`
}

// ClassroomErrorPayload reports a classroom chat failure.
type ClassroomErrorPayload struct {
	Message string `json:"message"`
}
