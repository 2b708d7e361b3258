package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "sanctuary:idem:"
	maxClaimAttempts = 3
)

// RedisStore keeps idempotency keys in Redis so replays are recognised
// across instances and restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Claim stores value under key unless the key is already held, in which case
// the held value is returned. WATCH/MULTI/EXEC makes the read and write atomic.
func (s *RedisStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	k := keyPrefix + key
	for range maxClaimAttempts {
		var existing string
		claimed := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, k).Result()
			if err == nil {
				existing = val
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, value, ttl)
				return nil
			})
			if err == nil {
				claimed = true
			}
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if claimed {
			return value, true, nil
		}
		return existing, false, nil
	}
	return "", false, fmt.Errorf("claim idempotency key %s: too much contention", key)
}
