// Package app holds the orchestration core: the participant registry,
// the signaling coordinator, and the timeout supervisor. Adapters plug
// in through the ports below; the core never touches transports.
package app

import (
	"context"

	"github.com/quckchat/call-service/internal/domain"
)

// EventPublisher fans session events out to connected clients. Every
// event carries a full snapshot so clients never need event replay.
type EventPublisher interface {
	PublishSessionState(snap *domain.Snapshot)
	PublishParticipant(snap *domain.Snapshot, p *domain.Participant)
	PublishInvite(target domain.UserID, inv *domain.Invite, snap *domain.Snapshot)
}

// Notifier alerts offline/background devices about an incoming session.
// Delivery failures never block a state transition; implementations are
// expected to fire and forget.
type Notifier interface {
	NotifyIncoming(ctx context.Context, target domain.UserID, sid domain.SessionID, caller domain.UserID, media domain.MediaType)
}

// IdentityProvider validates the inviter/invitee relationship
// precondition. Returns domain.ErrForbidden when the pair may not call
// each other.
type IdentityProvider interface {
	CanContact(ctx context.Context, inviter, target domain.UserID) error
}
