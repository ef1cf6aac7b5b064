package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"voicecache-gateway/internal/metrics"
)

// Evict removes every entry matching f:
//
//   - zero filter: everything, including legacy entries without metadata
//   - book only: all voices of that book
//   - voice only: that voice across all books
//   - both: the intersection
//
// The result counts deleted files (audio and metadata separately).
func (s *DiskStore) Evict(ctx context.Context, f Filter) (EvictResult, error) {
	var res EvictResult
	touched := make(map[string]struct{})

	for e, err := range s.Entries(ctx, f) {
		if err != nil {
			return res, err
		}

		dir := e.dir
		if !e.Legacy {
			touched[dir] = struct{}{}
		}

		audioPath := filepath.Join(dir, string(e.Key)+audioExt)
		metaPath := filepath.Join(dir, string(e.Key)+metaExt)

		removed, err := removeIfExists(audioPath)
		if err != nil {
			return res, fmt.Errorf("cache: evict %s: %w", e.Key.Truncated(), err)
		}
		if removed {
			res.Files++
			res.BytesFreed += e.AudioBytes
		}

		removed, err = removeIfExists(metaPath)
		if err != nil {
			return res, fmt.Errorf("cache: evict metadata %s: %w", e.Key.Truncated(), err)
		}
		if removed {
			res.Files++
			res.BytesFreed += e.MetaBytes
		}
	}

	for dir := range touched {
		s.pruneEmpty(dir)
	}

	metrics.CacheEvictedBytesTotal.Add(float64(res.BytesFreed))
	return res, nil
}

// pruneEmpty removes a voice directory and its book directory when they are
// left empty. os.Remove refuses non-empty directories.
func (s *DiskStore) pruneEmpty(voiceDir string) {
	if err := os.Remove(voiceDir); err != nil {
		return
	}
	bookDir := filepath.Dir(voiceDir)
	if bookDir != s.root {
		_ = os.Remove(bookDir)
	}
}
