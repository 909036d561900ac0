package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
)

// joinHuddle is the auto-connect path: the room already has (or had) a
// live member, so the joiner skips ringing entirely and enters at
// joining. Works for invited members, for rejoins after leaving, and
// for walk-ins permitted by the room's contact relationship.
func (c *Coordinator) joinHuddle(ctx context.Context, s *domain.Session, user domain.UserID, device domain.DeviceID) (*domain.Snapshot, error) {
	p, err := c.registry.Get(ctx, s.ID, user)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := c.identity.CanContact(ctx, s.InitiatorID, user); err != nil {
			return nil, err
		}
		if err := c.checkCapacity(ctx, s.ID, 1); err != nil {
			return nil, err
		}
		np := domain.NewParticipant(s.ID, user, domain.RoleMember, domain.ConnJoining, s.MediaType)
		np.DeviceID = device
		if err := c.registry.Add(ctx, np); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case p.ConnectionState.Live():
		// Already in the room from another device; first device wins.
		return nil, domain.ErrStaleSession
	case p.ConnectionState.Settled():
		// Rejoin after a departure: a new involvement on the same row.
		np := domain.NewParticipant(s.ID, user, domain.RoleMember, domain.ConnJoining, s.MediaType)
		np.DeviceID = device
		if err := c.registry.Add(ctx, np); err != nil {
			return nil, err
		}
	default:
		if _, err := c.registry.SetState(ctx, s.ID, user, domain.ConnJoining, device); err != nil {
			return nil, err
		}
		c.resolveInvite(ctx, s.ID, user, domain.InviteAccepted)
	}

	// A dormant room receiving a joiner goes back through connecting
	// until media is up again.
	if s.State == domain.StateActive {
		// No session transition needed: the room stays active and the
		// joiner's own connectionState tracks media setup.
		log.Info().Str("module", "app.huddle").Str("session", string(s.ID)).
			Str("user", string(user)).Msg("auto-connect join")
	}

	snap := c.publishSession(ctx, s.ID)
	return snap, nil
}

// resolveHuddleRing settles an unanswered or cancelled huddle ring: the
// room returns to its persistent active state and every still-alerted
// invitee is timed out. Idempotent; losing the compare-and-swap means
// someone answered first, which is fine.
func (c *Coordinator) resolveHuddleRing(ctx context.Context, s *domain.Session) {
	_, err := c.store.TransitionSession(ctx, s.ID, domain.StateRinging, domain.StateActive, nil)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Warn().Err(err).Str("module", "app.huddle").Str("session", string(s.ID)).Msg("huddle ring resolution failed")
		return
	}
	if err == nil {
		c.settleAlerting(ctx, s.ID)
		log.Info().Str("module", "app.huddle").Str("session", string(s.ID)).Msg("huddle ring resolved, room stays active")
	}
}

// settleEmptyHuddle moves a huddle stuck in connecting back to active
// when its last live member departs before media ever came up.
func (c *Coordinator) settleEmptyHuddle(ctx context.Context, s *domain.Session) {
	if s.State != domain.StateConnecting {
		return
	}
	parts, err := c.store.ListParticipants(ctx, s.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.huddle").Str("session", string(s.ID)).Msg("huddle settle listing failed")
		return
	}
	if LiveCount(parts) > 0 {
		return
	}
	if _, err := c.store.TransitionSession(ctx, s.ID, domain.StateConnecting, domain.StateActive, nil); err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Warn().Err(err).Str("module", "app.huddle").Str("session", string(s.ID)).Msg("huddle settle failed")
	}
}

// settleAlerting times out every invitee still being alerted and
// expires their pending invites.
func (c *Coordinator) settleAlerting(ctx context.Context, sid domain.SessionID) {
	parts, err := c.store.ListParticipants(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.huddle").Str("session", string(sid)).Msg("settle listing failed")
		return
	}
	for _, p := range parts {
		if p.ConnectionState == domain.ConnInvited || p.ConnectionState == domain.ConnRinging {
			if _, err := c.registry.SetState(ctx, sid, p.UserID, domain.ConnTimedOut, ""); err != nil {
				log.Warn().Err(err).Str("module", "app.huddle").Str("user", string(p.UserID)).Msg("settle failed")
			}
			c.resolveInvite(ctx, sid, p.UserID, domain.InviteExpired)
		}
	}
}

// checkCapacity rejects additions that would push live-or-pending
// membership past the configured cap.
func (c *Coordinator) checkCapacity(ctx context.Context, sid domain.SessionID, adding int) error {
	parts, err := c.store.ListParticipants(ctx, sid)
	if err != nil {
		return err
	}
	current := 0
	for _, p := range parts {
		if !p.ConnectionState.Settled() {
			current++
		}
	}
	if current+adding > c.settings.MaxParticipants {
		return domain.ErrSessionFull
	}
	return nil
}
