// Package idgen generates the identifiers used across the service.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const meetingCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O or 1/I

// MeetingCodeLength is the length of codes produced by NewMeetingCode.
const MeetingCodeLength = 6

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a time-ordered id, used for chat messages.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewConnID returns an opaque id for one live connection.
func NewConnID() string {
	return uuid.NewString()
}

// NewMeetingCode returns a random upper-case meeting code.
func NewMeetingCode() (string, error) {
	b := make([]byte, MeetingCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = meetingCodeChars[int(b[i])%len(meetingCodeChars)]
	}
	return string(b), nil
}
