package progress

import (
	"context"
	"sync"
	"time"

	"voicecache-gateway/internal/precache"
)

type memoryEntry struct {
	value     precache.Progress
	expiresAt time.Time // zero: never
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore keeps progress in process memory.
type MemoryStore struct {
	mu              sync.RWMutex
	items           map[string]memoryEntry
	ttl             time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// NewMemoryStore starts a store whose finished entries live for ttl.
// cleanupInterval <= 0 defaults to one minute.
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		items:           make(map[string]memoryEntry),
		ttl:             ttl,
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}

	go s.cleanupExpired()

	return s
}

func (s *MemoryStore) Put(_ context.Context, p precache.Progress) error {
	var expiresAt time.Time
	if ttl := ttlFor(p, s.ttl); ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.items[p.Book] = memoryEntry{value: p, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, book string) (precache.Progress, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[book]
	s.mu.RUnlock()

	if !ok {
		return precache.Progress{}, false, nil
	}

	now := time.Now()
	if entry.expired(now) {
		s.mu.Lock()
		if e, exists := s.items[book]; exists && e.expired(now) {
			delete(s.items, book)
		}
		s.mu.Unlock()
		return precache.Progress{}, false, nil
	}

	return entry.value, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, book string) error {
	s.mu.Lock()
	delete(s.items, book)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, v := range s.items {
				if v.expired(now) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of stored snapshots, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
