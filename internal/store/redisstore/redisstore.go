// Package redisstore is the Redis Store backend for distributed
// deployments. Sessions and invites are JSON blobs; the compare-and-swap
// transition runs inside a WATCH/MULTI transaction so concurrent writers
// on the same session resolve to exactly one winner.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store"
)

const (
	ringingIndexKey = "callsvc:idx:ringing"
	inviteIndexKey  = "callsvc:idx:invites"

	// endedTTL keeps ended sessions readable long enough for late
	// clients to resynchronize, then lets Redis reclaim them.
	endedTTL = 24 * time.Hour
)

func sessionKey(id domain.SessionID) string { return "callsvc:session:" + string(id) }
func partsKey(id domain.SessionID) string   { return sessionKey(id) + ":participants" }
func orderKey(id domain.SessionID) string   { return sessionKey(id) + ":order" }
func pendingKey(id domain.SessionID) string { return sessionKey(id) + ":pending" }
func inviteKey(id domain.InviteID) string   { return "callsvc:invite:" + string(id) }

type Store struct {
	rdb *redis.Client
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (r *Store) Close() error { return r.rdb.Close() }

func (r *Store) CreateSession(ctx context.Context, s *domain.Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), buf, 0)
	if s.State == domain.StateRinging {
		pipe.ZAdd(ctx, ringingIndexKey, redis.Z{Score: float64(s.CreatedAt.Unix()), Member: string(s.ID)})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	log.Debug().Str("module", "store.redis").Str("session", string(s.ID)).Str("kind", string(s.Kind)).Msg("session created")
	return nil
}

func (r *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *Store) TransitionSession(ctx context.Context, id domain.SessionID, expected, next domain.SessionState, apply func(*domain.Session)) (*domain.Session, error) {
	key := sessionKey(id)
	var out *domain.Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var s domain.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.State != expected {
			return domain.ErrConflict
		}
		if !domain.CanTransition(s.Kind, expected, next) {
			return domain.ErrInvalidTransition
		}
		s.State = next
		s.Version++
		if apply != nil {
			apply(&s)
		}
		buf, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, redis.KeepTTL)
			if expected == domain.StateRinging {
				pipe.ZRem(ctx, ringingIndexKey, string(id))
			}
			if next == domain.StateEnded {
				pipe.Expire(ctx, key, endedTTL)
				pipe.Expire(ctx, partsKey(id), endedTTL)
				pipe.Expire(ctx, orderKey(id), endedTTL)
				pipe.Del(ctx, pendingKey(id))
			}
			return nil
		})
		if err == nil {
			out = &s
		}
		return err
	}

	err := r.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer slipped in between WATCH and EXEC.
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "store.redis").Str("session", string(id)).
		Str("from", string(expected)).Str("to", string(next)).Int64("version", out.Version).Msg("session transitioned")
	return out, nil
}

func (r *Store) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	exists, err := r.rdb.Exists(ctx, sessionKey(p.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	added, err := r.rdb.HSet(ctx, partsKey(p.SessionID), string(p.UserID), buf).Result()
	if err != nil {
		return fmt.Errorf("store participant: %w", err)
	}
	if added > 0 {
		if err := r.rdb.RPush(ctx, orderKey(p.SessionID), string(p.UserID)).Err(); err != nil {
			return fmt.Errorf("store participant order: %w", err)
		}
	}
	return nil
}

func (r *Store) GetParticipant(ctx context.Context, sid domain.SessionID, uid domain.UserID) (*domain.Participant, error) {
	data, err := r.rdb.HGet(ctx, partsKey(sid), string(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	return &p, nil
}

func (r *Store) ListParticipants(ctx context.Context, sid domain.SessionID) ([]*domain.Participant, error) {
	exists, err := r.rdb.Exists(ctx, sessionKey(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrNotFound
	}
	order, err := r.rdb.LRange(ctx, orderKey(sid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("participant order: %w", err)
	}
	rows, err := r.rdb.HGetAll(ctx, partsKey(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]*domain.Participant, 0, len(rows))
	for _, uid := range order {
		data, ok := rows[uid]
		if !ok {
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		out = append(out, &p)
	}
	return out, nil
}

func (r *Store) CreateInvite(ctx context.Context, inv *domain.Invite) error {
	pendKey := pendingKey(inv.SessionID)

	txn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, sessionKey(inv.SessionID)).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		existingID, err := tx.HGet(ctx, pendKey, string(inv.TargetUserID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if existingID != "" {
			data, err := tx.Get(ctx, inviteKey(domain.InviteID(existingID))).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var existing domain.Invite
				if err := json.Unmarshal(data, &existing); err != nil {
					return err
				}
				if existing.Status == domain.InvitePending {
					return domain.ErrDuplicateInvite
				}
			}
		}
		buf, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, inviteKey(inv.ID), buf, 0)
			pipe.HSet(ctx, pendKey, string(inv.TargetUserID), string(inv.ID))
			pipe.ZAdd(ctx, inviteIndexKey, redis.Z{Score: float64(inv.ExpiresAt.Unix()), Member: string(inv.ID)})
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txn, pendKey)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent invite for the same target won the slot.
		return domain.ErrDuplicateInvite
	}
	return err
}

func (r *Store) GetInvite(ctx context.Context, id domain.InviteID) (*domain.Invite, error) {
	data, err := r.rdb.Get(ctx, inviteKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}
	var inv domain.Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decode invite: %w", err)
	}
	return &inv, nil
}

func (r *Store) PendingInvite(ctx context.Context, sid domain.SessionID, target domain.UserID) (*domain.Invite, error) {
	id, err := r.rdb.HGet(ctx, pendingKey(sid), string(target)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pending invite: %w", err)
	}
	inv, err := r.GetInvite(ctx, domain.InviteID(id))
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvitePending {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

func (r *Store) SetInviteStatus(ctx context.Context, id domain.InviteID, status domain.InviteStatus) error {
	key := inviteKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var inv domain.Invite
		if err := json.Unmarshal(data, &inv); err != nil {
			return err
		}
		if inv.Status == status {
			return nil
		}
		if inv.Status != domain.InvitePending {
			return domain.ErrConflict
		}
		inv.Status = status
		buf, err := json.Marshal(&inv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, redis.KeepTTL)
			pipe.HDel(ctx, pendingKey(inv.SessionID), string(inv.TargetUserID))
			pipe.ZRem(ctx, inviteIndexKey, string(id))
			pipe.Expire(ctx, key, endedTTL)
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another resolver slipped in between WATCH and EXEC.
		return domain.ErrConflict
	}
	return err
}

func (r *Store) OverdueRinging(ctx context.Context, cutoff time.Time) ([]domain.SessionID, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, ringingIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan ringing: %w", err)
	}
	out := make([]domain.SessionID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.SessionID(id))
	}
	return out, nil
}

func (r *Store) ExpiredInvites(ctx context.Context, now time.Time) ([]*domain.Invite, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, inviteIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan invites: %w", err)
	}
	out := make([]*domain.Invite, 0, len(ids))
	for _, id := range ids {
		inv, err := r.GetInvite(ctx, domain.InviteID(id))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if inv.Status == domain.InvitePending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *Store) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
