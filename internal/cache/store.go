package cache

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrNotFound is returned when no entry exists in either layout.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrCorruptMetadata is returned when a metadata file cannot be decoded.
	ErrCorruptMetadata = errors.New("cache: corrupt metadata")
)

// Metadata is the usage record stored next to every audio payload.
type Metadata struct {
	Text     string    `json:"text"`
	Voice    string    `json:"voice"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"lastUsed"`
	UseCount int64     `json:"useCount"`
	BookID   string    `json:"bookId,omitempty"`
}

// Entry summarizes one stored audio payload as seen by enumeration.
type Entry struct {
	Book  string
	Voice string
	Key   Key

	// Legacy is true for entries still in the flat layout. Book and Voice
	// are then taken from metadata and may be empty.
	Legacy bool

	AudioBytes int64
	MetaBytes  int64
	ModTime    time.Time

	// Meta is nil when the metadata file is missing or unreadable.
	Meta *Metadata

	// dir is the directory holding the entry's files.
	dir string
}

// Files returns how many files back the entry.
func (e Entry) Files() int {
	if e.MetaBytes > 0 {
		return 2
	}
	return 1
}

// Filter narrows enumeration and eviction. Zero value matches everything.
type Filter struct {
	Book  string
	Voice string
}

// IsZero reports whether the filter matches every entry.
func (f Filter) IsZero() bool { return f.Book == "" && f.Voice == "" }

// EvictResult reports what an eviction removed.
type EvictResult struct {
	Files      int   `json:"deletedCount"`
	BytesFreed int64 `json:"freedBytes"`
}

// MigrationReport summarizes an explicit legacy sweep.
type MigrationReport struct {
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Store is the content-addressed audio cache.
//
// Book is a BookIdentity (see BookIdentity), never a raw composite key.
// Implementations must be safe for concurrent use; writes are
// last-writer-wins per entry.
type Store interface {
	// Exists reports whether the entry is present, migrating a legacy copy
	// into the current layout as a side effect.
	Exists(ctx context.Context, book, voice string, key Key) (bool, error)

	// Read returns the audio payload or ErrNotFound.
	Read(ctx context.Context, book, voice string, key Key) ([]byte, error)

	// Write stores audio and resets usage metadata (useCount=1).
	Write(ctx context.Context, book, voice string, key Key, audio []byte, meta Metadata) error

	// Touch records a cache hit. Missing or corrupt metadata is logged, not returned.
	Touch(ctx context.Context, book, voice string, key Key) error

	// Migrate moves a legacy entry into the current layout.
	Migrate(ctx context.Context, book, voice string, key Key) error

	// Entries lazily enumerates stored entries matching f. Re-invoking rescans.
	Entries(ctx context.Context, f Filter) iter.Seq2[Entry, error]

	// Evict deletes entries matching f.
	Evict(ctx context.Context, f Filter) (EvictResult, error)
}
