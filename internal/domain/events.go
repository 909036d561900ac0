package domain

// EventType tags the server-to-client event stream messages.
type EventType string

const (
	EventSessionStateChanged EventType = "sessionStateChanged"
	EventParticipantChanged  EventType = "participantChanged"
	EventInviteReceived      EventType = "inviteReceived"
)

// Snapshot is the full current view of a session. Events carry snapshots
// rather than deltas so a client that missed events resynchronizes by
// reading the latest one.
type Snapshot struct {
	Session      *Session       `json:"session"`
	Participants []*Participant `json:"participants"`
	// DurationMS is filled for ended sessions (connectedAt -> endedAt),
	// the figure the call-history UI shows.
	DurationMS int64 `json:"durationMs,omitempty"`
}

// NewSnapshot assembles the event payload for a session.
func NewSnapshot(s *Session, parts []*Participant) *Snapshot {
	snap := &Snapshot{Session: s, Participants: parts}
	if s.State == StateEnded {
		snap.DurationMS = s.Duration().Milliseconds()
	}
	return snap
}

// Event is the envelope pushed over the event stream.
type Event struct {
	Type EventType `json:"type"`
	// Participant is set on participantChanged to point out which row
	// moved; the snapshot is still the authoritative view.
	Participant *Participant `json:"participant,omitempty"`
	// Invite is set on inviteReceived.
	Invite   *Invite   `json:"invite,omitempty"`
	Snapshot *Snapshot `json:"snapshot"`
}
