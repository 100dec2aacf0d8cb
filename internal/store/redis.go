package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// Redis is a Store shared across instances; values are JSON encoded and
// expiry is delegated to redis key TTLs
type Redis[T any] struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a store whose keys live under prefix
func NewRedis[T any](client redis.UniversalClient, prefix string) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix}
}

func (r *Redis[T]) key(k string) string {
	return r.prefix + k
}

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	value, err := decode[T](raw)
	if err != nil {
		return zero, false, err
	}
	return value, true, nil
}

func (r *Redis[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, positive(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis[T]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Update uses WATCH/MULTI so concurrent writers on the same key retry instead of losing updates
func (r *Redis[T]) Update(ctx context.Context, key string, fn UpdateFunc[T]) error {
	fullKey := r.key(key)

	txf := func(tx *redis.Tx) error {
		var current T
		found := true

		raw, err := tx.Get(ctx, fullKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			found = false
		case err != nil:
			return err
		default:
			current, err = decode[T](raw)
			if err != nil {
				return err
			}
		}

		mutation := fn(current, found)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if mutation.Delete {
				pipe.Del(ctx, fullKey)
				return nil
			}
			encoded, err := json.Marshal(mutation.Value)
			if err != nil {
				return err
			}
			pipe.Set(ctx, fullKey, encoded, positive(mutation.TTL))
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis update %s: %w", key, err)
	}
	return fmt.Errorf("redis update %s: too much contention", key)
}

// Sweep is a no-op: redis expires keys on its own
func (r *Redis[T]) Sweep(context.Context) (int, error) {
	return 0, nil
}

func decode[T any](raw []byte) (T, error) {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("decode stored value: %w", err)
	}
	return value, nil
}

func positive(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
