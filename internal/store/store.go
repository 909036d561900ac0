// Package store defines the authoritative session store port. The store
// is the single serialization point of the system: every state-changing
// request funnels through TransitionSession's compare-and-swap, so two
// unrelated sessions never contend and two racing writers on the same
// session always produce one winner.
package store

import (
	"context"
	"time"

	"github.com/quckchat/call-service/internal/domain"
)

// Store is implemented by the in-memory backend (single node, tests)
// and the Redis backend (distributed deployments).
type Store interface {
	// CreateSession persists a freshly built session.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession returns domain.ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)

	// TransitionSession is the compare-and-swap write. It moves the
	// session from expected to next and runs apply on the new record
	// (to stamp timestamps or the acting party) inside the same write.
	// If the stored state is no longer expected it fails with
	// domain.ErrConflict; if the edge is not in the kind's transition
	// table it fails with domain.ErrInvalidTransition. Either way the
	// record is unchanged.
	TransitionSession(ctx context.Context, id domain.SessionID, expected, next domain.SessionState, apply func(*domain.Session)) (*domain.Session, error)

	// UpsertParticipant writes a participant row keyed by (session, user).
	UpsertParticipant(ctx context.Context, p *domain.Participant) error

	// GetParticipant returns domain.ErrNotFound for unknown rows.
	GetParticipant(ctx context.Context, sid domain.SessionID, uid domain.UserID) (*domain.Participant, error)

	// ListParticipants returns every row of the session, settled ones
	// included (they back call-history accounting).
	ListParticipants(ctx context.Context, sid domain.SessionID) ([]*domain.Participant, error)

	// CreateInvite persists a pending invite. It fails with
	// domain.ErrDuplicateInvite while another pending invite exists for
	// the same (session, target) pair.
	CreateInvite(ctx context.Context, inv *domain.Invite) error

	// GetInvite returns domain.ErrNotFound for unknown ids.
	GetInvite(ctx context.Context, id domain.InviteID) (*domain.Invite, error)

	// PendingInvite looks up the pending invite for (session, target),
	// domain.ErrNotFound if none.
	PendingInvite(ctx context.Context, sid domain.SessionID, target domain.UserID) (*domain.Invite, error)

	// SetInviteStatus resolves an invite. Only pending invites may be
	// resolved: racing resolvers (an answer against the supervisor's
	// expiry) produce one winner, the rest observe domain.ErrConflict.
	// Setting the status it already holds is a no-op. Resolving frees
	// the (session, target) slot for later re-invites.
	SetInviteStatus(ctx context.Context, id domain.InviteID, status domain.InviteStatus) error

	// OverdueRinging lists sessions still ringing since before the cutoff.
	// Supervisor scans must stay idempotent: the same session may be
	// returned to several ticks until a transition lands.
	OverdueRinging(ctx context.Context, cutoff time.Time) ([]domain.SessionID, error)

	// ExpiredInvites lists pending invites past their window.
	ExpiredInvites(ctx context.Context, now time.Time) ([]*domain.Invite, error)

	// Ping backs the readiness probe.
	Ping(ctx context.Context) error
}
