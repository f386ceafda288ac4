// Package peer is a Go meeting participant. It speaks the signaling protocol
// over a WebSocket and builds one WebRTC connection per remote member: it
// offers to everyone already in the room when it joins, and answers offers
// from members who join after it.
package peer

import (
	"context"
	"encoding/json"
)

// PeerConn is one WebRTC connection to a remote participant.
type PeerConn interface {
	// ApplyAnswer completes a connection this side offered.
	ApplyAnswer(signal json.RawMessage) error
	Close() error
}

// PeerFactory creates peer connections and their session descriptions.
type PeerFactory interface {
	// Offer starts an initiator connection toward remoteID and returns the
	// offer to relay.
	Offer(ctx context.Context, remoteID string) (PeerConn, json.RawMessage, error)
	// Answer accepts an offer from remoteID and returns the answer to relay.
	Answer(ctx context.Context, remoteID string, offer json.RawMessage) (PeerConn, json.RawMessage, error)
}

// EventKind names what happened in the meeting.
type EventKind string

const (
	EventRoster     EventKind = "roster"      // initial member list after a join
	EventPeerJoined EventKind = "peer-joined" // someone joined after us
	EventPeerLeft   EventKind = "peer-left"
	EventOffered    EventKind = "offered"    // we sent an offer to PeerID
	EventAnswered   EventKind = "answered"   // we answered an offer from PeerID
	EventNegotiated EventKind = "negotiated" // an answer to our offer was applied
	EventChat       EventKind = "chat"
	EventHandRaised EventKind = "hand-raised"
	EventDrawing    EventKind = "drawing"
	EventError      EventKind = "error"
)

// Event is delivered on Meeting.Events.
type Event struct {
	Kind   EventKind
	PeerID string
	Name   string
	Text   string
	Raised bool
	Roster []Member
	Data   json.RawMessage
	Err    error
}

// Member is a remote participant as this client knows it.
type Member struct {
	ID         string
	Name       string
	HandRaised bool
}
