package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store"
)

// Settings are the tunables of the orchestration core.
type Settings struct {
	// RingTimeout is how long a session may stay ringing before the
	// supervisor ends (call) or resolves (huddle) it.
	RingTimeout time.Duration
	// InviteTTL is the window a pending invite stays answerable.
	InviteTTL time.Duration
	// MaxParticipants caps session membership, settled rows excluded.
	MaxParticipants int
}

// DefaultSettings mirror the product defaults: a 30 second ring window
// and rooms capped at 16 members.
func DefaultSettings() Settings {
	return Settings{
		RingTimeout:     30 * time.Second,
		InviteTTL:       30 * time.Second,
		MaxParticipants: 16,
	}
}

// Coordinator is the signaling coordinator: the only component allowed
// to request session transitions. Every inbound operation validates the
// session state and the acting participant's connectionState before any
// write, and resolves races through the store's compare-and-swap. A
// lost race is retried once against freshly observed state, then
// reported as domain.ErrStaleSession, which callers treat as a no-op.
type Coordinator struct {
	store    store.Store
	registry *Registry
	events   EventPublisher
	notifier Notifier
	identity IdentityProvider
	settings Settings
}

func NewCoordinator(st store.Store, reg *Registry, ev EventPublisher, no Notifier, id IdentityProvider, settings Settings) *Coordinator {
	return &Coordinator{
		store:    st,
		registry: reg,
		events:   ev,
		notifier: no,
		identity: id,
		settings: settings,
	}
}

// Invite creates a session and rings the targets. For a huddle this is
// the first-joiner path; later joins go through Answer.
func (c *Coordinator) Invite(ctx context.Context, caller domain.UserID, device domain.DeviceID, kind domain.SessionKind, media domain.MediaType, targets []domain.UserID) (*domain.Snapshot, error) {
	if !kind.Valid() || !media.Valid() {
		return nil, domain.ErrForbidden
	}
	targets = dedupeTargets(targets, caller)
	if len(targets) == 0 {
		return nil, domain.ErrForbidden
	}
	if len(targets)+1 > c.settings.MaxParticipants {
		return nil, domain.ErrSessionFull
	}
	for _, target := range targets {
		if err := c.identity.CanContact(ctx, caller, target); err != nil {
			return nil, err
		}
	}

	s := domain.NewSession(kind, media, caller)
	if err := c.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	initiatorRole := domain.RoleCaller
	targetRole := domain.RoleCallee
	if kind == domain.KindHuddle {
		initiatorRole = domain.RoleMember
		targetRole = domain.RoleMember
	}
	initiator := domain.NewParticipant(s.ID, caller, initiatorRole, domain.ConnJoining, media)
	initiator.DeviceID = device
	if err := c.registry.Add(ctx, initiator); err != nil {
		return nil, err
	}

	invites := make([]*domain.Invite, 0, len(targets))
	for _, target := range targets {
		inv, err := c.ringTarget(ctx, s, target, caller, targetRole)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}

	log.Info().Str("module", "app.coordinator").Str("session", string(s.ID)).
		Str("kind", string(kind)).Str("caller", string(caller)).Int("targets", len(targets)).Msg("session started")

	snap, err := c.Snapshot(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invites {
		c.events.PublishInvite(inv.TargetUserID, inv, snap)
	}
	c.events.PublishSessionState(snap)
	return snap, nil
}

// ToggleMedia flips the acting participant's own stream flags. Nil
// pointers leave a flag unchanged.
func (c *Coordinator) ToggleMedia(ctx context.Context, user domain.UserID, device domain.DeviceID, sid domain.SessionID, audio, video *bool) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, domain.ErrStaleSession
	}
	p, err := c.registry.SetMedia(ctx, sid, user, device, audio, video)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	snap, err := c.Snapshot(ctx, sid)
	if err != nil {
		return nil, err
	}
	c.events.PublishParticipant(snap, p)
	return snap, nil
}

// Snapshot assembles the full current view of a session.
func (c *Coordinator) Snapshot(ctx context.Context, sid domain.SessionID) (*domain.Snapshot, error) {
	s, err := c.store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	parts, err := c.store.ListParticipants(ctx, sid)
	if err != nil {
		return nil, err
	}
	return domain.NewSnapshot(s, parts), nil
}

// ringTarget creates the invite and membership row for one target and
// kicks off the alerting side effects. The row passes through invited
// into ringing once the alert is dispatched; notification delivery
// itself never blocks the transition.
func (c *Coordinator) ringTarget(ctx context.Context, s *domain.Session, target, by domain.UserID, role domain.Role) (*domain.Invite, error) {
	inv := domain.NewInvite(s.ID, target, by, c.settings.InviteTTL)
	if err := c.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	p := domain.NewParticipant(s.ID, target, role, domain.ConnInvited, s.MediaType)
	p.InvitedBy = by
	if err := c.registry.Add(ctx, p); err != nil {
		return nil, err
	}
	c.notifier.NotifyIncoming(ctx, target, s.ID, by, s.MediaType)
	if _, err := c.registry.SetState(ctx, s.ID, target, domain.ConnRinging, ""); err != nil {
		return nil, err
	}
	return inv, nil
}

// resolveInvite settles the pending invite for (session, user), if any.
func (c *Coordinator) resolveInvite(ctx context.Context, sid domain.SessionID, user domain.UserID, status domain.InviteStatus) {
	inv, err := c.store.PendingInvite(ctx, sid, user)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sid)).Msg("pending invite lookup failed")
		return
	}
	if err := c.store.SetInviteStatus(ctx, inv.ID, status); err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("invite", string(inv.ID)).Msg("invite resolution failed")
	}
}

// endCall drives a call session to ended from whatever state it is in,
// retrying the compare-and-swap once against fresh state. Returns nil
// when the session is already ended: concurrent supervisor ticks and
// racing hangups must converge on the same outcome.
func (c *Coordinator) endCall(ctx context.Context, s *domain.Session, actor domain.Actor) error {
	expected := s.State
	for attempt := 0; attempt < 2; attempt++ {
		_, err := c.store.TransitionSession(ctx, s.ID, expected, domain.StateEnded, func(ns *domain.Session) {
			now := time.Now().UTC()
			ns.EndedAt = &now
			ns.EndedBy = actor
		})
		if err == nil {
			c.closeOutParticipants(ctx, s.ID)
			log.Info().Str("module", "app.coordinator").Str("session", string(s.ID)).
				Str("actor", string(actor)).Msg("call ended")
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		fresh, gerr := c.store.GetSession(ctx, s.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.State.IsTerminal() {
			return nil
		}
		expected = fresh.State
	}
	return domain.ErrStaleSession
}

// closeOutParticipants settles every remaining row after a session
// ends: alerted invitees become timed_out (their invites expire), live
// participants become left. Rows are preserved for history accounting.
func (c *Coordinator) closeOutParticipants(ctx context.Context, sid domain.SessionID) {
	parts, err := c.store.ListParticipants(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sid)).Msg("close-out listing failed")
		return
	}
	for _, p := range parts {
		switch p.ConnectionState {
		case domain.ConnInvited, domain.ConnRinging:
			if _, err := c.registry.SetState(ctx, sid, p.UserID, domain.ConnTimedOut, ""); err != nil {
				log.Warn().Err(err).Str("module", "app.coordinator").Str("user", string(p.UserID)).Msg("close-out failed")
			}
			c.resolveInvite(ctx, sid, p.UserID, domain.InviteExpired)
		case domain.ConnJoining, domain.ConnConnected:
			if _, err := c.registry.SetState(ctx, sid, p.UserID, domain.ConnLeft, ""); err != nil {
				log.Warn().Err(err).Str("module", "app.coordinator").Str("user", string(p.UserID)).Msg("close-out failed")
			}
		}
	}
}

// publishSession pushes the current snapshot to all watchers. Best
// effort: a failed snapshot read only costs an event, never a state.
func (c *Coordinator) publishSession(ctx context.Context, sid domain.SessionID) *domain.Snapshot {
	snap, err := c.Snapshot(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sid)).Msg("snapshot for event failed")
		return nil
	}
	c.events.PublishSessionState(snap)
	return snap
}

func dedupeTargets(targets []domain.UserID, caller domain.UserID) []domain.UserID {
	seen := make(map[domain.UserID]struct{}, len(targets))
	out := make([]domain.UserID, 0, len(targets))
	for _, t := range targets {
		if t == "" || t == caller {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
