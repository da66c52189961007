package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces refresh records in a shared Redis instance.
const redisKeyPrefix = "relay:refresh:"

// revokedRetention keeps a revoked record visible after its expiry so that
// replay of a superseded token still classifies as reuse instead of
// "no record".
const revokedRetention = 24 * time.Hour

// RedisStore persists refresh records in Redis. The value is a small JSON
// document keyed by principal; SET gives the atomic-replace semantics Save
// requires, and key TTL handles garbage collection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed refresh store.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("refresh: nil redis client")
	}
	return &RedisStore{client: client}, nil
}

type redisRecord struct {
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Save replaces the record for rec.PrincipalID.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(redisRecord{
		TokenHash: rec.TokenHash,
		ExpiresAt: rec.ExpiresAt,
		Revoked:   rec.Revoked,
	})
	if err != nil {
		return err
	}

	ttl := time.Until(rec.ExpiresAt) + revokedRetention
	if ttl <= 0 {
		ttl = revokedRetention
	}
	return s.client.Set(ctx, redisKeyPrefix+rec.PrincipalID, payload, ttl).Err()
}

// Find returns the latest record for principalID, revoked or not.
func (s *RedisStore) Find(ctx context.Context, principalID string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+principalID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, err
	}

	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Record{}, err
	}
	return Record{
		PrincipalID: principalID,
		TokenHash:   rr.TokenHash,
		ExpiresAt:   rr.ExpiresAt,
		Revoked:     rr.Revoked,
	}, nil
}

// Revoke marks the current record revoked, preserving its retention window.
func (s *RedisStore) Revoke(ctx context.Context, principalID string) error {
	rec, err := s.Find(ctx, principalID)
	if errors.Is(err, ErrNoRecord) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.Revoked = true
	return s.Save(ctx, rec)
}
