// Package memory is the in-memory Store backend used for single-node
// deployments and tests. Versions are kept per session so the
// compare-and-swap contract matches the Redis backend exactly.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store"
)

type sessionRecord struct {
	session      domain.Session
	participants map[domain.UserID]*domain.Participant
	// order preserves participant insertion order for stable listings.
	order []domain.UserID
}

type Store struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionRecord
	invites  map[domain.InviteID]*domain.Invite
	// pending indexes the single pending invite per (session, target).
	pending map[domain.SessionID]map[domain.UserID]domain.InviteID
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[domain.SessionID]*sessionRecord),
		invites:  make(map[domain.InviteID]*domain.Invite),
		pending:  make(map[domain.SessionID]map[domain.UserID]domain.InviteID),
	}
}

func (m *Store) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &sessionRecord{
		session:      *s,
		participants: make(map[domain.UserID]*domain.Participant),
	}
	log.Debug().Str("module", "store.memory").Str("session", string(s.ID)).Str("kind", string(s.Kind)).Msg("session created")
	return nil
}

func (m *Store) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	s := rec.session
	return &s, nil
}

func (m *Store) TransitionSession(_ context.Context, id domain.SessionID, expected, next domain.SessionState, apply func(*domain.Session)) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.session.State != expected {
		log.Debug().Str("module", "store.memory").Str("session", string(id)).
			Str("expected", string(expected)).Str("actual", string(rec.session.State)).Msg("cas conflict")
		return nil, domain.ErrConflict
	}
	if !domain.CanTransition(rec.session.Kind, expected, next) {
		return nil, domain.ErrInvalidTransition
	}
	rec.session.State = next
	rec.session.Version++
	if apply != nil {
		apply(&rec.session)
	}
	s := rec.session
	log.Info().Str("module", "store.memory").Str("session", string(id)).
		Str("from", string(expected)).Str("to", string(next)).Int64("version", s.Version).Msg("session transitioned")
	return &s, nil
}

func (m *Store) UpsertParticipant(_ context.Context, p *domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[p.SessionID]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *p
	if _, exists := rec.participants[p.UserID]; !exists {
		rec.order = append(rec.order, p.UserID)
	}
	rec.participants[p.UserID] = &cp
	return nil
}

func (m *Store) GetParticipant(_ context.Context, sid domain.SessionID, uid domain.UserID) (*domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p, ok := rec.participants[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Store) ListParticipants(_ context.Context, sid domain.SessionID) ([]*domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]*domain.Participant, 0, len(rec.order))
	for _, uid := range rec.order {
		cp := *rec.participants[uid]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Store) CreateInvite(_ context.Context, inv *domain.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[inv.SessionID]; !ok {
		return domain.ErrNotFound
	}
	byTarget := m.pending[inv.SessionID]
	if byTarget == nil {
		byTarget = make(map[domain.UserID]domain.InviteID)
		m.pending[inv.SessionID] = byTarget
	}
	if existingID, ok := byTarget[inv.TargetUserID]; ok {
		if existing := m.invites[existingID]; existing != nil && existing.Status == domain.InvitePending {
			return domain.ErrDuplicateInvite
		}
	}
	cp := *inv
	m.invites[inv.ID] = &cp
	byTarget[inv.TargetUserID] = inv.ID
	return nil
}

func (m *Store) GetInvite(_ context.Context, id domain.InviteID) (*domain.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Store) PendingInvite(_ context.Context, sid domain.SessionID, target domain.UserID) (*domain.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pending[sid][target]
	if !ok {
		return nil, domain.ErrNotFound
	}
	inv, ok := m.invites[id]
	if !ok || inv.Status != domain.InvitePending {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Store) SetInviteStatus(_ context.Context, id domain.InviteID, status domain.InviteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return domain.ErrNotFound
	}
	if inv.Status == status {
		return nil
	}
	if inv.Status != domain.InvitePending {
		// Someone else resolved it first; their outcome stands.
		return domain.ErrConflict
	}
	inv.Status = status
	if byTarget, ok := m.pending[inv.SessionID]; ok && byTarget[inv.TargetUserID] == id {
		delete(byTarget, inv.TargetUserID)
	}
	return nil
}

func (m *Store) OverdueRinging(_ context.Context, cutoff time.Time) ([]domain.SessionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SessionID
	for id, rec := range m.sessions {
		if rec.session.State == domain.StateRinging && rec.session.CreatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Store) ExpiredInvites(_ context.Context, now time.Time) ([]*domain.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Invite
	for _, inv := range m.invites {
		if inv.Status == domain.InvitePending && inv.Expired(now) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) Ping(_ context.Context) error { return nil }
