package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores records in Redis with native expiry.
//
// Update uses WATCH/MULTI so a merge either applies on top of the value it
// read or is retried; concurrent merges on one key never interleave.
type RedisBackend struct {
	rdb *redis.Client

	// MaxTxRetries bounds optimistic-lock retries on Update.
	MaxTxRetries uint
	// ScanCount is the COUNT hint for SCAN.
	ScanCount int64
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb, MaxTxRetries: 5, ScanCount: 200}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, val, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return v, err
}

func (b *RedisBackend) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) ([]byte, error) {
	var out []byte
	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		next, err := fn(old)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			// XX: a key deleted between GET and EXEC is not resurrected.
			p.SetXX(ctx, key, next, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	attempts := b.MaxTxRetries
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return b.rdb.Watch(ctx, txf, key) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(2*time.Millisecond),
		retry.MaxDelay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, redis.TxFailedErr) }),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *RedisBackend) Scan(ctx context.Context, prefix string) ([][]byte, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, prefix+"*", b.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return [][]byte{}, nil
	}

	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		// Keys can expire between SCAN and MGET.
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}
