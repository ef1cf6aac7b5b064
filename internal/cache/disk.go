package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"voicecache-gateway/pkg/logging/logging"
)

const (
	audioExt = ".mp3"
	metaExt  = ".json"

	dirPerm  = 0o755
	filePerm = 0o644

	metaLocks = 64
)

// DiskStore keeps entries in a directory tree:
//
//	<root>/<book>/<voice>/<key>.mp3
//	<root>/<book>/<voice>/<key>.json
//
// Entries written by older releases live flat under <root> and are moved
// into the tree the first time they are looked up.
type DiskStore struct {
	root   string
	logger *zap.Logger

	migrations singleflight.Group

	// metaMu serializes read-modify-write of metadata within the process.
	metaMu [metaLocks]sync.Mutex

	now func() time.Time
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates root if needed and returns a store over it.
func NewDiskStore(root string, logger *zap.Logger) (*DiskStore, error) {
	if root == "" {
		return nil, errors.New("cache: root directory is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("cache: create root %s: %w", root, err)
	}
	return &DiskStore{
		root:   root,
		logger: logging.OrNop(logger).Named("cache"),
		now:    time.Now,
	}, nil
}

// Root returns the cache directory.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) entryDir(book, voice string) string {
	return filepath.Join(s.root, safeSegment(book), safeSegment(voice))
}

func (s *DiskStore) paths(book, voice string, key Key) (audio, meta string) {
	dir := s.entryDir(book, voice)
	return filepath.Join(dir, string(key)+audioExt), filepath.Join(dir, string(key)+metaExt)
}

func (s *DiskStore) legacyPaths(key Key) (audio, meta string) {
	return filepath.Join(s.root, string(key)+audioExt), filepath.Join(s.root, string(key)+metaExt)
}

// Exists checks the current layout, then the legacy layout. A legacy hit
// is migrated before returning.
func (s *DiskStore) Exists(ctx context.Context, book, voice string, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	audioPath, _ := s.paths(book, voice, key)
	ok, err := fileExists(audioPath)
	if err != nil {
		return false, fmt.Errorf("cache: stat entry: %w", err)
	}
	if ok {
		return true, nil
	}

	legacyAudio, _ := s.legacyPaths(key)
	ok, err = fileExists(legacyAudio)
	if err != nil {
		return false, fmt.Errorf("cache: stat legacy entry: %w", err)
	}
	if !ok {
		// A concurrent migration may have moved it since the first stat.
		return fileExists(audioPath)
	}

	if err := s.Migrate(ctx, book, voice, key); err != nil {
		// The legacy copy is still readable, so the entry exists either way.
		s.logger.Warn("legacy_migration_failed",
			zap.String("book", book),
			zap.String("voice", voice),
			zap.String("key", key.Truncated()),
			zap.Error(err),
		)
	}
	return true, nil
}

// Read returns the payload from the current layout, falling back to the
// legacy layout.
func (s *DiskStore) Read(ctx context.Context, book, voice string, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audioPath, _ := s.paths(book, voice, key)
	legacyAudio, _ := s.legacyPaths(key)

	for _, p := range []string{audioPath, legacyAudio} {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cache: read %s: %w", p, err)
		}
	}
	return nil, ErrNotFound
}

// Write stores audio and fresh metadata. Each file is replaced atomically.
func (s *DiskStore) Write(ctx context.Context, book, voice string, key Key, audio []byte, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.entryDir(book, voice), dirPerm); err != nil {
		return fmt.Errorf("cache: create entry dir: %w", err)
	}

	audioPath, metaPath := s.paths(book, voice, key)
	if err := writeFileAtomic(audioPath, audio); err != nil {
		return fmt.Errorf("cache: write audio: %w", err)
	}

	now := s.now()
	if meta.Voice == "" {
		meta.Voice = voice
	}
	meta.BookID = book
	meta.Size = int64(len(audio))
	meta.Created = now
	meta.LastUsed = now
	meta.UseCount = 1

	mu := s.metaLock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := writeMeta(metaPath, meta); err != nil {
		return fmt.Errorf("cache: write metadata: %w", err)
	}
	return nil
}

// Touch bumps useCount and lastUsed. Problems with the metadata file are
// logged and swallowed so they never block serving audio.
func (s *DiskStore) Touch(ctx context.Context, book, voice string, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	audioPath, metaPath := s.paths(book, voice, key)
	if ok, _ := fileExists(audioPath); !ok {
		_, metaPath = s.legacyPaths(key)
	}

	mu := s.metaLock(key)
	mu.Lock()
	defer mu.Unlock()

	meta, _, err := readMeta(metaPath)
	if err != nil {
		s.logger.Warn("touch_skipped",
			zap.String("book", book),
			zap.String("voice", voice),
			zap.String("key", key.Truncated()),
			zap.Error(err),
		)
		return nil
	}

	meta.UseCount++
	meta.LastUsed = s.now()

	if err := writeMeta(metaPath, *meta); err != nil {
		s.logger.Warn("touch_write_failed",
			zap.String("key", key.Truncated()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *DiskStore) metaLock(key Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.metaMu[h.Sum32()%metaLocks]
}

// readMeta decodes a metadata file and reports its size on disk.
func readMeta(path string) (*Metadata, int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, int64(len(raw)), fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, filepath.Base(path), err)
	}
	return &m, int64(len(raw)), nil
}

func writeMeta(path string, m Metadata) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, raw)
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, filePerm)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// removeIfExists deletes path and reports whether it was there. A missing
// file is not an error.
func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
