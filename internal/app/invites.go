package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
)

// AddParticipants rings additional users into a session that is already
// connecting or active. Not available while ringing: mid-call additions
// must not race the initial ring decision. Each target gets the same
// alerting treatment as an initial invite.
func (c *Coordinator) AddParticipants(ctx context.Context, actor domain.UserID, sid domain.SessionID, targets []domain.UserID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}
	if s.State == domain.StateRinging {
		return nil, domain.ErrInvalidTransition
	}

	ap, err := c.registry.Get(ctx, sid, actor)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if !ap.ConnectionState.Live() {
		return nil, domain.ErrForbidden
	}

	targets = dedupeTargets(targets, actor)
	if len(targets) == 0 {
		return nil, domain.ErrForbidden
	}
	if err := c.checkCapacity(ctx, sid, len(targets)); err != nil {
		return nil, err
	}

	role := domain.RoleCallee
	if s.Kind == domain.KindHuddle {
		role = domain.RoleMember
	}

	invites := make([]*domain.Invite, 0, len(targets))
	for _, target := range targets {
		existing, err := c.registry.Get(ctx, sid, target)
		if err == nil && !existing.ConnectionState.Settled() {
			return nil, domain.ErrAlreadyMember
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if err := c.identity.CanContact(ctx, actor, target); err != nil {
			return nil, err
		}
		inv, err := c.ringTarget(ctx, s, target, actor, role)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}

	log.Info().Str("module", "app.invites").Str("session", string(sid)).
		Str("actor", string(actor)).Int("targets", len(targets)).Msg("participants invited")

	snap, err := c.Snapshot(ctx, sid)
	if err != nil {
		return nil, err
	}
	for _, inv := range invites {
		c.events.PublishInvite(inv.TargetUserID, inv, snap)
	}
	c.events.PublishSessionState(snap)
	return snap, nil
}
