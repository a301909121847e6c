package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/media"
)

// Role selects which side of the broadcast a session plays.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// State of a Session. Teardown always returns to Idle.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind enumerates what a connection reports back to its session.
type EventKind string

const (
	EventTrackReceived         EventKind = "track-received"
	EventICECandidateGenerated EventKind = "ice-candidate-generated"
	EventConnectionClosed      EventKind = "connection-closed"
)

// Event is delivered synchronously by a Connection to its owning Session.
type Event struct {
	Kind EventKind

	// Track is set for EventTrackReceived.
	Track media.RemoteTrack

	// Candidate is set for EventICECandidateGenerated.
	Candidate *webrtc.ICECandidateInit

	// Reason describes EventConnectionClosed.
	Reason string
}
