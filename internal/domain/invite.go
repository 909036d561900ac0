package domain

import (
	"time"

	"github.com/google/uuid"
)

type InviteID string

// InviteStatus is the lifecycle of a pending invite. At most one pending
// invite may exist per (session, target) pair.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

// Invite is a pending request to add a user to a session. The same type
// backs the initial ring and mid-call additions.
type Invite struct {
	ID           InviteID     `json:"inviteId"`
	SessionID    SessionID    `json:"sessionId"`
	TargetUserID UserID       `json:"targetUserId"`
	InvitedBy    UserID       `json:"invitedBy"`
	IssuedAt     time.Time    `json:"issuedAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	Status       InviteStatus `json:"status"`
}

// NewInvite creates a pending invite with the given time-to-live.
func NewInvite(sid SessionID, target, by UserID, ttl time.Duration) *Invite {
	now := time.Now().UTC()
	return &Invite{
		ID:           InviteID(uuid.NewString()),
		SessionID:    sid,
		TargetUserID: target,
		InvitedBy:    by,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		Status:       InvitePending,
	}
}

// Expired reports whether the invite is past its window.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
