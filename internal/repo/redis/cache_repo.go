package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CacheRepo stores JSON documents with a TTL. Reads never fail on a miss.
type CacheRepo struct {
	client *goredis.Client
	prefix string
}

func NewCacheRepo(client *goredis.Client) *CacheRepo {
	return &CacheRepo{client: client, prefix: "cache:"}
}

func (r *CacheRepo) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if r.client == nil {
		return false, nil
	}

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		_ = r.client.Del(ctx, r.prefix+key).Err()
		return false, nil
	}

	return true, nil
}

func (r *CacheRepo) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if r.client == nil || ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key %s: %w", key, err)
	}

	return nil
}

func (r *CacheRepo) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, r.prefix+key)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}
