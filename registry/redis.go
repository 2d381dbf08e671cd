package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// Redis shares records between processes. Values are stored as JSON under
// prefix+key and expire after ttl (0 keeps them forever).
type Redis[T any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis[T any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix, ttl: ttl}
}

func (s *Redis[T]) key(k string) string { return s.prefix + k }

func (s *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var v T
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("registry get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("registry decode %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Redis[T]) Put(ctx context.Context, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, s.ttl).Err()
}

// Update uses optimistic WATCH/MULTI and retries on conflicting writers.
func (s *Redis[T]) Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error) {
	k := s.key(key)
	var result T
	txf := func(tx *redis.Tx) error {
		var cur T
		exists := true
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &cur); err != nil {
				return err
			}
		}
		next, err := fn(cur, exists)
		if err != nil {
			result = cur
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, s.ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return result, fmt.Errorf("registry update %s: too many concurrent writers", key)
}

func (s *Redis[T]) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
