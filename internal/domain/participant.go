package domain

import "time"

// Role differentiates caller and callee on call-kind sessions. Huddle
// members are undifferentiated.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
	RoleMember Role = "member"
)

// ConnectionState tracks a single user's progress through a session.
type ConnectionState string

const (
	ConnInvited   ConnectionState = "invited"
	ConnRinging   ConnectionState = "ringing"
	ConnJoining   ConnectionState = "joining"
	ConnConnected ConnectionState = "connected"
	ConnLeft      ConnectionState = "left"
	ConnDeclined  ConnectionState = "declined"
	ConnTimedOut  ConnectionState = "timed_out"
)

// participantTransitions are the legal connectionState edges. The
// connected -> joining edge covers media renegotiation after the
// transport reports a peer drop without the user leaving.
var participantTransitions = map[ConnectionState][]ConnectionState{
	ConnInvited:   {ConnRinging, ConnJoining, ConnDeclined, ConnTimedOut, ConnLeft},
	ConnRinging:   {ConnJoining, ConnDeclined, ConnTimedOut, ConnLeft},
	ConnJoining:   {ConnConnected, ConnLeft, ConnTimedOut},
	ConnConnected: {ConnJoining, ConnLeft},
	ConnLeft:      {},
	ConnDeclined:  {},
	ConnTimedOut:  {},
}

// CanTransitionTo reports whether the connectionState edge is legal.
func (c ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, s := range participantTransitions[c] {
		if s == next {
			return true
		}
	}
	return false
}

// Settled returns true once the user's involvement is over. A settled
// row stays in the store for call-history accounting but no longer
// counts as membership.
func (c ConnectionState) Settled() bool {
	return c == ConnLeft || c == ConnDeclined || c == ConnTimedOut
}

// Live returns true while the user holds (or is setting up) media.
func (c ConnectionState) Live() bool {
	return c == ConnJoining || c == ConnConnected
}

// Participant is one user's membership in a session. The row lives for
// the whole involvement; leaving flips the state rather than deleting it.
type Participant struct {
	SessionID       SessionID       `json:"sessionId"`
	UserID          UserID          `json:"userId"`
	DeviceID        DeviceID        `json:"deviceId,omitempty"`
	Role            Role            `json:"role"`
	ConnectionState ConnectionState `json:"connectionState"`
	AudioEnabled    bool            `json:"audioEnabled"`
	VideoEnabled    bool            `json:"videoEnabled"`
	InvitedBy       UserID          `json:"invitedBy,omitempty"`
	JoinedAt        *time.Time      `json:"joinedAt,omitempty"`
	LeftAt          *time.Time      `json:"leftAt,omitempty"`
}

// NewParticipant creates a membership row with media flags derived from
// the session's declared media type.
func NewParticipant(sid SessionID, uid UserID, role Role, state ConnectionState, media MediaType) *Participant {
	return &Participant{
		SessionID:       sid,
		UserID:          uid,
		Role:            role,
		ConnectionState: state,
		AudioEnabled:    true,
		VideoEnabled:    media == MediaVideo,
	}
}
