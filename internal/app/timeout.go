package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store"
)

// Supervisor ends stale ringing sessions and expires unanswered
// invites. It drives transitions through the same coordinator entry
// points clients use, so the compare-and-swap protection applies
// uniformly: two supervisor ticks (or a tick racing a real answer)
// converge on one outcome.
type Supervisor struct {
	coord    *Coordinator
	store    store.Store
	interval time.Duration
}

func NewSupervisor(coord *Coordinator, st store.Store, interval time.Duration) *Supervisor {
	return &Supervisor{coord: coord, store: st, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (sv *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.supervisor").Dur("interval", sv.interval).Msg("timeout supervisor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.supervisor").Msg("timeout supervisor stopped")
			return
		case <-ticker.C:
			sv.Sweep(ctx)
		}
	}
}

// Sweep is one idempotent pass over overdue rings and expired invites.
func (sv *Supervisor) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	cutoff := now.Add(-sv.coord.settings.RingTimeout)
	ids, err := sv.store.OverdueRinging(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Str("module", "app.supervisor").Msg("ringing scan failed")
	}
	for _, id := range ids {
		if err := sv.coord.ExpireRinging(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "app.supervisor").Str("session", string(id)).Msg("ring expiry failed")
		}
	}

	invs, err := sv.store.ExpiredInvites(ctx, now)
	if err != nil {
		log.Error().Err(err).Str("module", "app.supervisor").Msg("invite scan failed")
	}
	for _, inv := range invs {
		if err := sv.coord.ExpireInvite(ctx, inv); err != nil {
			log.Warn().Err(err).Str("module", "app.supervisor").Str("invite", string(inv.ID)).Msg("invite expiry failed")
		}
	}
}

// ExpireRinging resolves a session whose ring window elapsed with no
// answer. A call ends with the supervisor recorded as the acting party;
// a huddle's room simply stays active. No-op if the session moved on.
func (c *Coordinator) ExpireRinging(ctx context.Context, sid domain.SessionID) error {
	s, err := c.store.GetSession(ctx, sid)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.State != domain.StateRinging {
		return nil
	}
	if s.Kind == domain.KindCall {
		if err := c.endCall(ctx, s, domain.ActorTimeoutSupervisor); err != nil {
			if errors.Is(err, domain.ErrStaleSession) {
				return nil
			}
			return err
		}
	} else {
		c.resolveHuddleRing(ctx, s)
	}
	log.Info().Str("module", "app.supervisor").Str("session", string(sid)).
		Str("kind", string(s.Kind)).Msg("unanswered ring expired")
	c.publishSession(ctx, sid)
	return nil
}

// ExpireInvite times out one pending invite. The invite-status write is
// the compare-and-swap: if an answer or decline resolved the invite
// first, the expiry loses and backs off entirely. If that leaves a
// ringing session with every invitee settled and nobody live, the ring
// itself resolves through ExpireRinging's rules.
func (c *Coordinator) ExpireInvite(ctx context.Context, inv *domain.Invite) error {
	err := c.store.SetInviteStatus(ctx, inv.ID, domain.InviteExpired)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case errors.Is(err, domain.ErrConflict):
		// Answered or declined since the scan; their outcome stands.
		return nil
	case err != nil:
		return err
	}
	// Settle the participant only while they are still being alerted;
	// a row that progressed to joining belongs to a won answer race.
	p, err := c.store.GetParticipant(ctx, inv.SessionID, inv.TargetUserID)
	if err == nil && (p.ConnectionState == domain.ConnInvited || p.ConnectionState == domain.ConnRinging) {
		if _, err := c.registry.SetState(ctx, inv.SessionID, inv.TargetUserID, domain.ConnTimedOut, ""); err != nil {
			if !errors.Is(err, domain.ErrStaleSession) && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
				return err
			}
		}
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Info().Str("module", "app.supervisor").Str("invite", string(inv.ID)).
		Str("session", string(inv.SessionID)).Msg("invite expired")

	s, err := c.store.GetSession(ctx, inv.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.State == domain.StateRinging {
		parts, err := c.store.ListParticipants(ctx, inv.SessionID)
		if err != nil {
			return err
		}
		if RingResolved(parts, s.InitiatorID) && !AnyAnswered(parts, s.InitiatorID) {
			return c.ExpireRinging(ctx, inv.SessionID)
		}
	}
	c.publishSession(ctx, inv.SessionID)
	return nil
}
