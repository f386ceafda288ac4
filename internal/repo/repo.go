// Package repo persists what outlives a connection: the classroom
// directory written by the classroom collaborator, and classroom chat.
package repo

import (
	"context"
	"errors"

	"github.com/loksaikotini/EduCast/internal/models"
)

var ErrInvalidClassroom = errors.New("classroom code required")

// ClassroomRepo is the store behind classroom chat.
type ClassroomRepo interface {
	SaveClassroom(ctx context.Context, c models.Classroom) error
	GetClassroom(ctx context.Context, code string) (models.Classroom, bool, error)

	AppendChatMessage(ctx context.Context, msg models.ChatMessage) error
	// ListChatMessages returns at most limit messages, oldest first.
	ListChatMessages(ctx context.Context, code string, limit int) ([]models.ChatMessage, error)
}
