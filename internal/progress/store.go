// Package progress mirrors pre-cache job progress per book so any request
// can observe a job it did not start.
package progress

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"voicecache-gateway/internal/precache"
)

// Store holds the latest Progress per BookIdentity. Snapshots of finished
// jobs expire after the configured TTL; running jobs never expire.
type Store interface {
	Put(ctx context.Context, p precache.Progress) error
	Get(ctx context.Context, book string) (precache.Progress, bool, error)
	Delete(ctx context.Context, book string) error
}

type Config struct {
	Backend string        // memory | redis
	TTL     time.Duration // retention of finished jobs (default: 1h)
	Prefix  string        // redis key prefix
}

const defaultTTL = time.Hour

// NewStore picks the backend named by cfg.Backend, defaulting to memory.
func NewStore(cfg Config, redisClient *redis.Client) Store {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		})
	default:
		return NewMemoryStore(cfg.TTL, 0)
	}
}

// ttlFor returns 0 for running jobs, meaning no expiry.
func ttlFor(p precache.Progress, ttl time.Duration) time.Duration {
	if p.State.Terminal() {
		return ttl
	}
	return 0
}
