// Package models defines the data structures shared across the service.
package models

import "time"

// Roles carried in a verified identity.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Identity is the verified caller attached to every connection.
type Identity struct {
	UserID string `json:"userId"`         // stable user identifier issued by the auth collaborator
	Name   string `json:"name"`           // display name
	Role   string `json:"role,omitempty"` // teacher or student
}

// Classroom is the persistent classroom document owned by the CRUD collaborator.
// Only the fields needed to gate classroom chat are stored here.
type Classroom struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Subject    string   `json:"subject,omitempty"`
	TeacherID  string   `json:"teacherId"`
	StudentIDs []string `json:"studentIds"`
}

// HasMember reports whether userID is the classroom's teacher or an enrolled student.
func (c Classroom) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if c.TeacherID == userID {
		return true
	}
	for _, id := range c.StudentIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatMessage is a durable classroom chat message.
type ChatMessage struct {
	ID            string    `json:"id"`
	ClassroomCode string    `json:"classroom"`
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}
