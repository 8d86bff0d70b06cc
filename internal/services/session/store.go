package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payflow/internal/services/orchestrator"
	"payflow/internal/status"

	"github.com/redis/go-redis/v9"
)

const (
	keyFormat = "payflow:session:%s"

	// unresolvedKey indexes sessions whose last state is a reconciliation failure.
	unresolvedKey = "payflow:unresolved"
)

var ErrNotFound = errors.New("session: not found")

// Record is what survives a restart of one session.
type Record struct {
	SessionID string                `json:"session_id"`
	ActorID   string                `json:"actor_id"`
	Snapshot  orchestrator.Snapshot `json:"snapshot"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Unresolved reports whether the record holds a payment that was made but not recorded.
func (r Record) Unresolved() bool {
	f := r.Snapshot.Failure
	return r.Snapshot.Phase == orchestrator.PhaseFailed && f != nil &&
		f.Kind == status.KindReconciliation && r.Snapshot.Tx != nil && r.Snapshot.Outcome != nil
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(id string) string {
	return fmt.Sprintf(keyFormat, id)
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: json.Marshal: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key(rec.SessionID), b, s.ttl)
		if rec.Unresolved() {
			pipe.SAdd(ctx, unresolvedKey, rec.SessionID)
		} else {
			pipe.SRem(ctx, unresolvedKey, rec.SessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: save %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	b, err := s.rdb.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("session: json.Unmarshal: %w", err)
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key(id))
		pipe.SRem(ctx, unresolvedKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// UnresolvedIDs lists sessions holding a reconciliation failure.
func (s *Store) UnresolvedIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, unresolvedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("session: unresolved: %w", err)
	}
	return ids, nil
}
