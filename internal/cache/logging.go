package cache

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"voicecache-gateway/internal/metrics"
	"voicecache-gateway/pkg/logging/logging"
)

// LoggingStore wraps a Store with request-scoped logging and metrics.
type LoggingStore struct {
	inner Store
}

var _ Store = (*LoggingStore)(nil)

// NewLoggingStore returns a Store that logs and records metrics.
func NewLoggingStore(inner Store) *LoggingStore {
	return &LoggingStore{inner: inner}
}

// Unwrap returns the decorated store.
func (c *LoggingStore) Unwrap() Store { return c.inner }

func (c *LoggingStore) Exists(ctx context.Context, book, voice string, key Key) (bool, error) {
	start := time.Now()
	ok, err := c.inner.Exists(ctx, book, voice, key)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()

	fields := append(entryFields(book, voice, key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", sinceMs(start)),
	)
	logger := logging.L(ctx)
	if err != nil {
		logger.Error("audio_cache_lookup", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("audio_cache_lookup", fields...)
	}
	return ok, err
}

func (c *LoggingStore) Read(ctx context.Context, book, voice string, key Key) ([]byte, error) {
	start := time.Now()
	data, err := c.inner.Read(ctx, book, voice, key)

	fields := append(entryFields(book, voice, key),
		zap.Int("bytes", len(data)),
		zap.Float64("latency_ms", sinceMs(start)),
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logging.L(ctx).Error("audio_cache_read", append(fields, zap.Error(err))...)
	} else {
		logging.L(ctx).Debug("audio_cache_read", fields...)
	}
	return data, err
}

func (c *LoggingStore) Write(ctx context.Context, book, voice string, key Key, audio []byte, meta Metadata) error {
	start := time.Now()
	err := c.inner.Write(ctx, book, voice, key, audio, meta)

	fields := append(entryFields(book, voice, key),
		zap.Int("bytes", len(audio)),
		zap.Float64("latency_ms", sinceMs(start)),
	)
	if err != nil {
		metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("audio_cache_write", append(fields, zap.Error(err))...)
	} else {
		metrics.CacheWritesTotal.WithLabelValues("ok").Inc()
		logging.L(ctx).Info("audio_cache_write", fields...)
	}
	return err
}

func (c *LoggingStore) Touch(ctx context.Context, book, voice string, key Key) error {
	err := c.inner.Touch(ctx, book, voice, key)
	if err != nil {
		logging.L(ctx).Warn("audio_cache_touch", append(entryFields(book, voice, key), zap.Error(err))...)
	}
	return err
}

func (c *LoggingStore) Migrate(ctx context.Context, book, voice string, key Key) error {
	err := c.inner.Migrate(ctx, book, voice, key)
	if err != nil {
		logging.L(ctx).Warn("audio_cache_migrate", append(entryFields(book, voice, key), zap.Error(err))...)
	}
	return err
}

func (c *LoggingStore) Entries(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return c.inner.Entries(ctx, f)
}

func (c *LoggingStore) Evict(ctx context.Context, f Filter) (EvictResult, error) {
	start := time.Now()
	res, err := c.inner.Evict(ctx, f)

	fields := []zap.Field{
		zap.String("book", f.Book),
		zap.String("voice", f.Voice),
		zap.Int("files", res.Files),
		zap.Int64("bytes_freed", res.BytesFreed),
		zap.Float64("latency_ms", sinceMs(start)),
	}
	if err != nil {
		logging.L(ctx).Error("audio_cache_evict", append(fields, zap.Error(err))...)
	} else {
		logging.L(ctx).Info("audio_cache_evict", fields...)
	}
	return res, err
}

func entryFields(book, voice string, key Key) []zap.Field {
	return []zap.Field{
		zap.String("book", book),
		zap.String("voice", voice),
		zap.String("key", key.Truncated()),
	}
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
