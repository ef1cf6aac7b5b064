package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Entries walks book directories, then voice directories, then entry files,
// each in lexical order, and finally the legacy flat files. Legacy entries
// only match a non-empty filter through their metadata.
func (s *DiskStore) Entries(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		books, err := s.subdirs(s.root, f.Book)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		for _, book := range books {
			voices, err := s.subdirs(filepath.Join(s.root, book), f.Voice)
			if err != nil {
				if !yield(Entry{}, err) {
					return
				}
				continue
			}
			for _, voice := range voices {
				if err := ctx.Err(); err != nil {
					yield(Entry{}, err)
					return
				}
				if !s.yieldDir(filepath.Join(s.root, book, voice), segmentName(book), segmentName(voice), false, f, yield) {
					return
				}
			}
		}

		if err := ctx.Err(); err != nil {
			yield(Entry{}, err)
			return
		}
		s.yieldDir(s.root, "", "", true, f, yield)
	}
}

// subdirs lists the directories under dir, or just want when set.
func (s *DiskStore) subdirs(dir, want string) ([]string, error) {
	if want != "" {
		name := safeSegment(want)
		info, err := os.Stat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cache: stat %s: %w", name, err)
		}
		if !info.IsDir() {
			return nil, nil
		}
		return []string{name}, nil
	}

	dirents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", dir, err)
	}

	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

// yieldDir emits the audio entries of one directory. It returns false when
// the consumer stopped.
func (s *DiskStore) yieldDir(dir, book, voice string, legacy bool, f Filter, yield func(Entry, error) bool) bool {
	dirents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return yield(Entry{}, fmt.Errorf("cache: list %s: %w", dir, err))
	}

	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, audioExt) {
			continue
		}
		key := strings.TrimSuffix(name, audioExt)
		if !validKey(key) {
			continue
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed or migrated while listing.
			continue
		}
		if err != nil {
			if !yield(Entry{}, fmt.Errorf("cache: stat %s: %w", name, err)) {
				return false
			}
			continue
		}

		e := Entry{
			Book:       book,
			Voice:      voice,
			Key:        Key(key),
			Legacy:     legacy,
			AudioBytes: info.Size(),
			ModTime:    info.ModTime(),
			dir:        dir,
		}

		meta, metaBytes, err := readMeta(filepath.Join(dir, key+metaExt))
		e.MetaBytes = metaBytes
		if err == nil {
			e.Meta = meta
		}

		if legacy {
			if e.Meta != nil {
				e.Book, e.Voice = e.Meta.BookID, e.Meta.Voice
			}
			if !f.IsZero() && !legacyMatches(e.Meta, f) {
				continue
			}
		}

		if !yield(e, nil) {
			return false
		}
	}
	return true
}

func legacyMatches(m *Metadata, f Filter) bool {
	if m == nil {
		return false
	}
	if f.Book != "" && m.BookID != f.Book {
		return false
	}
	if f.Voice != "" && m.Voice != f.Voice {
		return false
	}
	return true
}
