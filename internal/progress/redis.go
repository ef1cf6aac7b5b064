package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voicecache-gateway/internal/precache"
)

// RedisStore shares progress between gateway replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Prefix string
	TTL    time.Duration
}

// NewRedisStore creates a Redis-backed progress store.
func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	prefix := config.Prefix
	if prefix == "" {
		prefix = "precache"
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(book string) string {
	return s.prefix + ":progress:" + book
}

// Put stores p. A running job's key has no expiry; a finished one expires after the TTL.
func (s *RedisStore) Put(ctx context.Context, p precache.Progress) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.Book), raw, ttlFor(p, s.ttl)).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns (zero, false, nil) on a clean miss.
func (s *RedisStore) Get(ctx context.Context, book string) (precache.Progress, bool, error) {
	if err := ctx.Err(); err != nil {
		return precache.Progress{}, false, fmt.Errorf("context error: %w", err)
	}

	raw, err := s.client.Get(ctx, s.key(book)).Bytes()
	if errors.Is(err, redis.Nil) {
		return precache.Progress{}, false, nil
	}
	if err != nil {
		return precache.Progress{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var p precache.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return precache.Progress{}, false, fmt.Errorf("progress: decode %s: %w", book, err)
	}
	return p, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, book string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Del(ctx, s.key(book)).Err()
}

// Ping checks if Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
