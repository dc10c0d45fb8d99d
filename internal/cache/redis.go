package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Cache stores JSON values in Redis. A nil *Cache is valid and never hits.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// HGet decodes field of the hash at key into dest. It reports false on a miss.
func (c *Cache) HGet(ctx context.Context, key, field string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	val, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache hget %s/%s: %w", key, field, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", key, field, err)
	}
	return true, nil
}

// Generation returns the counter stored at genKey, 0 when it is unset.
// Readers take it before loading from the database and pass it to
// HSetIfGeneration.
func (c *Cache) Generation(ctx context.Context, genKey string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	n, err := c.client.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache get %s: %w", genKey, err)
	}
	return n, nil
}

// HSetIfGeneration stores value under field of the hash at key, resetting
// the hash TTL, only while genKey still holds gen. It reports whether the
// value was written. A fill that loses against Invalidate is dropped.
func (c *Cache) HSetIfGeneration(ctx context.Context, genKey string, gen int64, key, field string, value any, ttl time.Duration) (bool, error) {
	if c == nil {
		return false, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}

	written := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache hset %s/%s: %w", key, field, err)
	}
	return written, nil
}

// Invalidate bumps genKey and deletes keys in one transaction, so fills
// that started before the call cannot write afterwards.
func (c *Cache) Invalidate(ctx context.Context, genKey string, keys ...string) error {
	if c == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", genKey, err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("cache not configured")
	}
	return c.client.Ping(ctx).Err()
}
