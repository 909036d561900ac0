package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
)

// PeerConnected consumes the media transport's success signal for one
// participant. The orchestrator never computes media readiness itself;
// it only reacts. Once at least one participant pair holds live media
// the session advances from connecting to active.
func (c *Coordinator) PeerConnected(ctx context.Context, sid domain.SessionID, user domain.UserID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}
	p, err := c.registry.SetState(ctx, sid, user, domain.ConnConnected, "")
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}

	if s.State == domain.StateConnecting {
		parts, err := c.store.ListParticipants(ctx, sid)
		if err != nil {
			return nil, err
		}
		if ConnectedCount(parts) >= 2 {
			_, err := c.store.TransitionSession(ctx, sid, domain.StateConnecting, domain.StateActive, func(ns *domain.Session) {
				if ns.ConnectedAt == nil {
					now := time.Now().UTC()
					ns.ConnectedAt = &now
				}
			})
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				return nil, err
			}
			if err == nil {
				log.Info().Str("module", "app.media").Str("session", string(sid)).Msg("session active")
			}
		}
	}

	snap := c.publishSession(ctx, sid)
	if snap != nil {
		c.events.PublishParticipant(snap, p)
	}
	return snap, nil
}

// PeerDisconnected consumes the media transport's drop signal. The
// participant falls back to joining while the transport renegotiates;
// an intentional departure arrives separately as Leave.
func (c *Coordinator) PeerDisconnected(ctx context.Context, sid domain.SessionID, user domain.UserID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}
	p, err := c.registry.Get(ctx, sid, user)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if p.ConnectionState != domain.ConnConnected {
		// Drop signal for someone who never connected or already left.
		return nil, domain.ErrStaleSession
	}
	np, err := c.registry.SetState(ctx, sid, user, domain.ConnJoining, "")
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.media").Str("session", string(sid)).
		Str("user", string(user)).Msg("peer dropped, renegotiating")
	snap, err := c.Snapshot(ctx, sid)
	if err != nil {
		return nil, err
	}
	c.events.PublishParticipant(snap, np)
	return snap, nil
}
