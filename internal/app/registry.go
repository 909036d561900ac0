package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store"
)

// Registry is the participant registry. It exclusively owns
// connectionState mutation: every component, the coordinator included,
// changes participant state through it so the transition table in the
// domain package is enforced in one place.
type Registry struct {
	store store.Store
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// Add inserts a fresh membership row. Callers are responsible for the
// AlreadyMember check; Add itself only writes.
func (r *Registry) Add(ctx context.Context, p *domain.Participant) error {
	if err := r.store.UpsertParticipant(ctx, p); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("session", string(p.SessionID)).
		Str("user", string(p.UserID)).Str("state", string(p.ConnectionState)).Msg("participant added")
	return nil
}

func (r *Registry) Get(ctx context.Context, sid domain.SessionID, uid domain.UserID) (*domain.Participant, error) {
	return r.store.GetParticipant(ctx, sid, uid)
}

func (r *Registry) List(ctx context.Context, sid domain.SessionID) ([]*domain.Participant, error) {
	return r.store.ListParticipants(ctx, sid)
}

// SetState moves a participant along the connectionState table. A zero
// device leaves the current binding untouched; a non-zero device claims
// the row for that device.
func (r *Registry) SetState(ctx context.Context, sid domain.SessionID, uid domain.UserID, next domain.ConnectionState, device domain.DeviceID) (*domain.Participant, error) {
	p, err := r.store.GetParticipant(ctx, sid, uid)
	if err != nil {
		return nil, err
	}
	if p.ConnectionState == next {
		return p, nil
	}
	if p.ConnectionState.Settled() {
		return nil, domain.ErrStaleSession
	}
	if !p.ConnectionState.CanTransitionTo(next) {
		return nil, domain.ErrInvalidTransition
	}
	prev := p.ConnectionState
	p.ConnectionState = next
	if device != "" {
		p.DeviceID = device
	}
	now := time.Now().UTC()
	switch {
	case next == domain.ConnConnected && p.JoinedAt == nil:
		p.JoinedAt = &now
	case next.Settled():
		p.LeftAt = &now
	}
	if err := r.store.UpsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.registry").Str("session", string(sid)).Str("user", string(uid)).
		Str("from", string(prev)).Str("to", string(next)).Msg("participant state changed")
	return p, nil
}

// SetMedia flips the participant's own stream toggles. Nil means
// "leave unchanged".
func (r *Registry) SetMedia(ctx context.Context, sid domain.SessionID, uid domain.UserID, device domain.DeviceID, audio, video *bool) (*domain.Participant, error) {
	p, err := r.store.GetParticipant(ctx, sid, uid)
	if err != nil {
		return nil, err
	}
	if p.ConnectionState.Settled() {
		return nil, domain.ErrStaleSession
	}
	if audio != nil {
		p.AudioEnabled = *audio
	}
	if video != nil {
		p.VideoEnabled = *video
	}
	if device != "" {
		p.DeviceID = device
	}
	if err := r.store.UpsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "app.registry").Str("session", string(sid)).Str("user", string(uid)).
		Bool("audio", p.AudioEnabled).Bool("video", p.VideoEnabled).Msg("media toggled")
	return p, nil
}

// LiveCount counts participants holding or setting up media.
func LiveCount(parts []*domain.Participant) int {
	n := 0
	for _, p := range parts {
		if p.ConnectionState.Live() {
			n++
		}
	}
	return n
}

// ConnectedCount counts participants with established media.
func ConnectedCount(parts []*domain.Participant) int {
	n := 0
	for _, p := range parts {
		if p.ConnectionState == domain.ConnConnected {
			n++
		}
	}
	return n
}

// RingResolved reports whether no invitee is still being alerted.
func RingResolved(parts []*domain.Participant, initiator domain.UserID) bool {
	for _, p := range parts {
		if p.UserID == initiator {
			continue
		}
		if p.ConnectionState == domain.ConnInvited || p.ConnectionState == domain.ConnRinging {
			return false
		}
	}
	return true
}

// AnyAnswered reports whether any invitee progressed past ringing.
func AnyAnswered(parts []*domain.Participant, initiator domain.UserID) bool {
	for _, p := range parts {
		if p.UserID == initiator {
			continue
		}
		if p.ConnectionState.Live() {
			return true
		}
	}
	return false
}
