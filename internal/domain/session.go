// Package domain contains the entities of the call orchestrator and the
// transition rules that govern them. No transport or storage logic here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	SessionID string
	UserID    string
	DeviceID  string
)

// SessionKind distinguishes an ephemeral ring-based call from a
// persistent huddle room.
type SessionKind string

const (
	KindCall   SessionKind = "call"
	KindHuddle SessionKind = "huddle"
)

func (k SessionKind) Valid() bool {
	return k == KindCall || k == KindHuddle
}

// MediaType is the session's declared default media setup. A participant
// may still toggle their own streams independently.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// SessionState is the lifecycle state of a session. Exactly one state is
// current at any instant; all participants observe the same value.
type SessionState string

const (
	StateRinging    SessionState = "ringing"
	StateConnecting SessionState = "connecting"
	StateActive     SessionState = "active"
	StateEnded      SessionState = "ended"
)

// callTransitions are the legal edges for call-kind sessions.
var callTransitions = map[SessionState][]SessionState{
	StateRinging:    {StateConnecting, StateEnded},
	StateConnecting: {StateActive, StateEnded},
	StateActive:     {StateEnded},
	StateEnded:      {},
}

// huddleTransitions are the legal edges for huddle-kind sessions.
// A huddle never reaches ended through signaling: the ring phase resolves
// into connecting or straight back to active, and the room then stays
// active regardless of membership. Tearing a room down is an explicit
// administrative action outside this service.
var huddleTransitions = map[SessionState][]SessionState{
	StateRinging:    {StateConnecting, StateActive},
	StateConnecting: {StateActive},
	StateActive:     {},
	StateEnded:      {},
}

// CanTransition reports whether kind allows the edge from -> to.
func CanTransition(kind SessionKind, from, to SessionState) bool {
	table := callTransitions
	if kind == KindHuddle {
		table = huddleTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are accepted.
func (s SessionState) IsTerminal() bool { return s == StateEnded }

// Actor identifies who triggered a state change, for diagnostics.
// Timeout-driven terminations look like declines at the state level;
// the actor string is the only place the difference is recorded.
type Actor string

const ActorTimeoutSupervisor Actor = "system:timeout"

func UserActor(id UserID) Actor { return Actor("user:" + string(id)) }

// Session is the unit of a call or huddle.
type Session struct {
	ID          SessionID    `json:"sessionId"`
	Kind        SessionKind  `json:"kind"`
	MediaType   MediaType    `json:"mediaType"`
	State       SessionState `json:"state"`
	InitiatorID UserID       `json:"initiatorId"`
	CreatedAt   time.Time    `json:"createdAt"`
	ConnectedAt *time.Time   `json:"connectedAt,omitempty"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
	EndedBy     Actor        `json:"endedBy,omitempty"`

	// Version increments on every write; the store uses it to detect
	// lost compare-and-swap races.
	Version int64 `json:"version"`
}

// NewSession creates a session in the ringing state. Both kinds start
// ringing: the first joiner of a huddle rings the invited members too.
func NewSession(kind SessionKind, media MediaType, initiator UserID) *Session {
	return &Session{
		ID:          SessionID(uuid.NewString()),
		Kind:        kind,
		MediaType:   media,
		State:       StateRinging,
		InitiatorID: initiator,
		CreatedAt:   time.Now().UTC(),
	}
}

// Duration returns the connected duration of an ended session, or zero
// if the session never connected.
func (s *Session) Duration() time.Duration {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.ConnectedAt)
}
