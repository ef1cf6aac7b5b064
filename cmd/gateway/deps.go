package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/config"
	"voicecache-gateway/internal/synth"
)

// openStore returns the disk store and its logging decorator.
func openStore(cfg *config.Config, logger *zap.Logger) (*cache.DiskStore, cache.Store, error) {
	disk, err := cache.NewDiskStore(cfg.CacheDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return disk, cache.NewLoggingStore(disk), nil
}

func newSynth(cfg *config.Config, logger *zap.Logger) (synth.Client, error) {
	if err := cfg.ValidateSynth(); err != nil {
		return nil, err
	}
	maxRetries := cfg.SynthMaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	return synth.NewClient(synth.Config{
		BaseURL:         cfg.SynthBaseURL,
		APIKey:          cfg.SynthAPIKey,
		Path:            cfg.SynthPath,
		UpstreamTimeout: cfg.SynthTimeout,
		MaxRetries:      maxRetries,
		RateLimit:       cfg.SynthRateLimit,
	}, logger)
}

// connectRedis pings with exponential backoff until Redis answers or
// maxWait elapses.
func connectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger, maxWait time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("redis not ready, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
	return client, nil
}

// closeSynth releases idle connections when the client supports it.
func closeSynth(c synth.Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
