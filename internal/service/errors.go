package service

import (
	"errors"

	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/registry"
)

var (
	ErrRoomNotFound         = registry.ErrRoomNotFound
	ErrNotInRoom            = errors.New("not in room")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrNotAuthorizedForRoom = errors.New("not authorized for this room")
	ErrClassroomNotFound    = errors.New("classroom not found")
	ErrCodeGenerationFailed = errors.New("failed to generate unique meeting code after multiple attempts")
	errParticipantNotFound  = registry.ErrParticipantNotFound
)

// ErrorPayload maps a service error onto the frame reported back to the
// originating connection.
func ErrorPayload(err error) protocol.ErrorPayload {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return protocol.ErrorPayload{Code: protocol.CodeRoomNotFound, Message: "Meeting room not found."}
	case errors.Is(err, ErrNotInRoom):
		return protocol.ErrorPayload{Code: protocol.CodeNotInRoom, Message: "Not in this room."}
	case errors.Is(err, ErrMalformedMessage):
		return protocol.ErrorPayload{Code: protocol.CodeMalformedMessage, Message: "Malformed message."}
	case errors.Is(err, ErrNotAuthorizedForRoom):
		return protocol.ErrorPayload{Code: protocol.CodeNotAuthorized, Message: "Not authorized for this room."}
	case errors.Is(err, ErrClassroomNotFound):
		return protocol.ErrorPayload{Code: protocol.CodeClassroomNotFound, Message: "Classroom not found."}
	default:
		return protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "Internal error."}
	}
}
