package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"voicecache-gateway/internal/metrics"
)

// Migrate copies a legacy entry into the current layout and removes the
// legacy files. It is safe to run concurrently for the same entry: calls
// within this process are collapsed, and across processes the copy is
// idempotent and a legacy file that is already gone counts as removed.
func (s *DiskStore) Migrate(ctx context.Context, book, voice string, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	flight := safeSegment(book) + "/" + safeSegment(voice) + "/" + string(key)
	_, err, _ := s.migrations.Do(flight, func() (any, error) {
		return nil, s.migrate(book, voice, key)
	})
	return err
}

func (s *DiskStore) migrate(book, voice string, key Key) error {
	legacyAudio, legacyMeta := s.legacyPaths(key)
	audioPath, metaPath := s.paths(book, voice, key)

	audio, err := os.ReadFile(legacyAudio)
	if errors.Is(err, fs.ErrNotExist) {
		// Another caller finished first.
		if ok, _ := fileExists(audioPath); ok {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache: read legacy audio: %w", err)
	}

	if err := os.MkdirAll(s.entryDir(book, voice), dirPerm); err != nil {
		return fmt.Errorf("cache: create entry dir: %w", err)
	}

	// A current-layout entry is never older than its legacy twin, keep it.
	if ok, _ := fileExists(audioPath); !ok {
		if err := writeFileAtomic(audioPath, audio); err != nil {
			return fmt.Errorf("cache: copy legacy audio: %w", err)
		}
	}

	if err := s.migrateMeta(legacyMeta, metaPath, book, voice, key); err != nil {
		return err
	}

	for _, p := range []string{legacyAudio, legacyMeta} {
		if _, err := removeIfExists(p); err != nil {
			return fmt.Errorf("cache: remove legacy file: %w", err)
		}
	}

	metrics.CacheMigrationsTotal.Inc()
	s.logger.Info("legacy_entry_migrated",
		zap.String("book", book),
		zap.String("voice", voice),
		zap.String("key", key.Truncated()),
		zap.Int("bytes", len(audio)),
	)
	return nil
}

// migrateMeta carries the legacy metadata over, stamping the owning book.
// Undecodable metadata is copied verbatim.
func (s *DiskStore) migrateMeta(legacyMeta, metaPath, book, voice string, key Key) error {
	if ok, _ := fileExists(metaPath); ok {
		return nil
	}

	mu := s.metaLock(key)
	mu.Lock()
	defer mu.Unlock()

	meta, _, err := readMeta(legacyMeta)
	switch {
	case err == nil:
		meta.BookID = book
		if meta.Voice == "" {
			meta.Voice = voice
		}
		if err := writeMeta(metaPath, *meta); err != nil {
			return fmt.Errorf("cache: copy legacy metadata: %w", err)
		}
	case errors.Is(err, ErrCorruptMetadata):
		raw, rerr := os.ReadFile(legacyMeta)
		if rerr != nil {
			return nil
		}
		if err := writeFileAtomic(metaPath, raw); err != nil {
			return fmt.Errorf("cache: copy legacy metadata: %w", err)
		}
	}
	return nil
}

// MigrateLegacy sweeps the flat layout and migrates every entry whose
// metadata names its book and voice. Entries without that information stay
// where they are and are counted as skipped.
func (s *DiskStore) MigrateLegacy(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport

	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return report, fmt.Errorf("cache: list root: %w", err)
	}

	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, audioExt) {
			continue
		}
		key := Key(strings.TrimSuffix(name, audioExt))
		if !validKey(string(key)) {
			continue
		}

		_, legacyMeta := s.legacyPaths(key)
		meta, _, err := readMeta(legacyMeta)
		if err != nil || meta.BookID == "" || meta.Voice == "" {
			report.Skipped++
			continue
		}

		if err := s.Migrate(ctx, meta.BookID, meta.Voice, key); err != nil {
			s.logger.Warn("legacy_sweep_failed",
				zap.String("key", key.Truncated()),
				zap.Error(err),
			)
			report.Failed++
			continue
		}
		report.Migrated++
	}

	s.logger.Info("legacy_sweep_done",
		zap.Int("migrated", report.Migrated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
