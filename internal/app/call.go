package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
)

// Answer accepts a ring. The first answer moves the session from
// ringing to connecting; answers racing for that edge are resolved by
// the store's compare-and-swap and the loser re-validates against the
// fresh state exactly once. On an already-connecting call a later
// answer from another invited user is admitted in arrival order; a
// second device of a user who already answered observes
// domain.ErrStaleSession. On a live huddle, Answer is the auto-connect
// join: no ring phase at all.
func (c *Coordinator) Answer(ctx context.Context, user domain.UserID, device domain.DeviceID, sid domain.SessionID) (*domain.Snapshot, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := c.store.GetSession(ctx, sid)
		if err != nil {
			return nil, err
		}
		if s.State.IsTerminal() {
			return nil, domain.ErrStaleSession
		}

		if s.State == domain.StateRinging {
			p, err := c.registry.Get(ctx, sid, user)
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrForbidden
			}
			if err != nil {
				return nil, err
			}
			if user == s.InitiatorID || p.ConnectionState.Live() {
				return nil, domain.ErrStaleSession
			}
			if p.ConnectionState.Settled() {
				return nil, domain.ErrStaleSession
			}
			if _, err := c.store.TransitionSession(ctx, sid, domain.StateRinging, domain.StateConnecting, nil); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					continue
				}
				return nil, err
			}
			if _, err := c.registry.SetState(ctx, sid, user, domain.ConnJoining, device); err != nil {
				return nil, err
			}
			c.resolveInvite(ctx, sid, user, domain.InviteAccepted)
			log.Info().Str("module", "app.coordinator").Str("session", string(sid)).
				Str("user", string(user)).Str("device", string(device)).Msg("ring answered")
			snap := c.publishSession(ctx, sid)
			return snap, nil
		}

		if s.Kind == domain.KindHuddle {
			return c.joinHuddle(ctx, s, user, device)
		}

		// Call already connecting or active: admit a late answer from
		// another invited user.
		p, err := c.registry.Get(ctx, sid, user)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		if err != nil {
			return nil, err
		}
		if p.ConnectionState.Live() {
			// Another device of the same user answered first.
			return nil, domain.ErrStaleSession
		}
		np, err := c.registry.SetState(ctx, sid, user, domain.ConnJoining, device)
		if err != nil {
			return nil, err
		}
		c.resolveInvite(ctx, sid, user, domain.InviteAccepted)
		log.Info().Str("module", "app.coordinator").Str("session", string(sid)).
			Str("user", string(user)).Msg("late answer admitted")
		snap, err := c.Snapshot(ctx, sid)
		if err != nil {
			return nil, err
		}
		c.events.PublishParticipant(snap, np)
		return snap, nil
	}
	return nil, domain.ErrStaleSession
}

// Decline rejects a ring or a mid-call invite. When the last alerted
// invitee of a ringing call declines and nobody answered, the call ends
// with the declining user recorded as the acting party. A huddle's ring
// resolves back into the persistent active state instead.
func (c *Coordinator) Decline(ctx context.Context, user domain.UserID, device domain.DeviceID, sid domain.SessionID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}
	p, err := c.registry.SetState(ctx, sid, user, domain.ConnDeclined, device)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	c.resolveInvite(ctx, sid, user, domain.InviteDeclined)
	log.Info().Str("module", "app.coordinator").Str("session", string(sid)).
		Str("user", string(user)).Msg("invite declined")

	if s.State == domain.StateRinging {
		parts, err := c.store.ListParticipants(ctx, sid)
		if err != nil {
			return nil, err
		}
		if RingResolved(parts, s.InitiatorID) && !AnyAnswered(parts, s.InitiatorID) {
			if s.Kind == domain.KindCall {
				if err := c.endCall(ctx, s, domain.UserActor(user)); err != nil && !errors.Is(err, domain.ErrStaleSession) {
					return nil, err
				}
			} else {
				c.resolveHuddleRing(ctx, s)
			}
		}
	}

	snap := c.publishSession(ctx, sid)
	if snap != nil {
		c.events.PublishParticipant(snap, p)
	}
	return snap, nil
}

// Leave marks the acting participant as departed. For a call this may
// terminate the session: either party leaving ends a 1:1, and the last
// live participant leaving ends a group call. A huddle outlives every
// individual departure. "Hanging up" is exactly this operation; there
// is no separate cancellation channel.
func (c *Coordinator) Leave(ctx context.Context, user domain.UserID, device domain.DeviceID, sid domain.SessionID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}

	if _, err := c.registry.SetState(ctx, sid, user, domain.ConnLeft, device); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	log.Info().Str("module", "app.coordinator").Str("session", string(sid)).
		Str("user", string(user)).Msg("participant left")

	// Initiator abandoning the ring is a cancellation.
	if s.State == domain.StateRinging && user == s.InitiatorID {
		if s.Kind == domain.KindCall {
			if err := c.endCall(ctx, s, domain.UserActor(user)); err != nil && !errors.Is(err, domain.ErrStaleSession) {
				return nil, err
			}
		} else {
			c.resolveHuddleRing(ctx, s)
		}
		return c.publishSession(ctx, sid), nil
	}

	if s.Kind == domain.KindHuddle {
		c.settleEmptyHuddle(ctx, s)
		return c.publishSession(ctx, sid), nil
	}

	parts, err := c.store.ListParticipants(ctx, sid)
	if err != nil {
		return nil, err
	}
	oneOnOne := len(parts) <= 2
	if oneOnOne || LiveCount(parts) == 0 {
		if err := c.endCall(ctx, s, domain.UserActor(user)); err != nil && !errors.Is(err, domain.ErrStaleSession) {
			return nil, err
		}
	}
	return c.publishSession(ctx, sid), nil
}
