package vsac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "cql2omop:vsac:"

// redisCmdable is the subset of *redis.Client used by RedisCache.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares fetched value sets between processes. Redis failures
// degrade to cache misses.
type RedisCache struct {
	rdb    redisCmdable
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache parses url (redis://...) and returns a cache backed by it.
func NewRedisCache(url string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return newRedisCache(client, ttl, logger), client, nil
}

func newRedisCache(rdb redisCmdable, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger.With().Str("component", "vsac_redis_cache").Logger()}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*ValueSet, bool) {
	b, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	var vs ValueSet
	if err := json.Unmarshal(b, &vs); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis entry corrupt")
		return nil, false
	}
	return &vs, true
}

func (c *RedisCache) Set(ctx context.Context, key string, vs *ValueSet) {
	b, err := json.Marshal(vs)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, b, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan redis keys: %w", err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete redis keys: %w", err)
	}
	return int(n), nil
}

func (c *RedisCache) Stats(ctx context.Context) (CacheStats, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		trimmed = append(trimmed, strings.TrimPrefix(k, redisKeyPrefix))
	}
	sort.Strings(trimmed)
	return CacheStats{Backend: "redis", Size: len(trimmed), Keys: trimmed}, nil
}
