// README: Matching store backed by Redis: advisory ranking cache and assignment records.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"foodbridge/internal/types"
)

const (
	rankingKeyPrefix    = "matching:donation:%s:ranking"
	assignedKeyPrefix   = "matching:donation:%s:assigned_at"
	consideredKeyPrefix = "matching:donation:%s:considered"

	// Assignment records only need to outlive the delivery.
	recordTTL = 7 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore caches rankings for ttl. A zero ttl disables ranking caching.
func NewStore(redis *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redis, ttl: ttl}
}

// GetRanking returns a cached ranking, if one is still live.
func (s *Store) GetRanking(ctx context.Context, donationID types.ID) (*Ranking, bool, error) {
	if s.ttl <= 0 {
		return nil, false, nil
	}
	val, err := s.redis.Get(ctx, rankingKey(donationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r, err := decodeRanking(val)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *Store) PutRanking(ctx context.Context, r *Ranking) error {
	if s.ttl <= 0 {
		return nil
	}
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rankingKey(r.DonationID), val, s.ttl).Err()
}

func (s *Store) Invalidate(ctx context.Context, donationID types.ID) error {
	return s.redis.Del(ctx, rankingKey(donationID)).Err()
}

// RecordAssignment stores when a donation was assigned and which drivers were
// ranked for it.
func (s *Store) RecordAssignment(ctx context.Context, donationID types.ID, at time.Time, ranked []types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, assignedAtKey(donationID), at.UTC().Format(time.RFC3339), recordTTL)
	if len(ranked) > 0 {
		members := make([]interface{}, len(ranked))
		for i, d := range ranked {
			members[i] = string(d)
		}
		key := consideredKey(donationID)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, recordTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func decodeRanking(b []byte) (*Ranking, error) {
	var r Ranking
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode cached ranking: %w", err)
	}
	if r.Candidates == nil {
		r.Candidates = []Candidate{}
	}
	return &r, nil
}

func rankingKey(id types.ID) string {
	return fmt.Sprintf(rankingKeyPrefix, string(id))
}

func assignedAtKey(id types.ID) string {
	return fmt.Sprintf(assignedKeyPrefix, string(id))
}

func consideredKey(id types.ID) string {
	return fmt.Sprintf(consideredKeyPrefix, string(id))
}
