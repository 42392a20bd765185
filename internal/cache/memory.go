package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a process-local Store implementation. It backs deployments
// without Redis and doubles as the deterministic cache used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time // zero means no expiry
}

// MemoryOption customises the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, primarily for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set stores a value under the key with the supplied TTL. A non-positive TTL
// stores the value without expiry.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[normalizeKey(key)] = entry
	return nil
}

// Get retrieves the value for the key, reporting a miss for absent or expired entries.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveEntry(key)
	if !ok || entry.value == nil {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete removes the supplied keys, ignoring missing ones.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, normalizeKey(key))
	}
	return nil
}

// IncrementWithTTL increments the counter stored under key, starting a new
// window when the key is absent or expired. The count is also readable via
// Get as its decimal form, mirroring how Redis exposes INCR results.
func (s *MemoryStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveEntry(key)
	if !ok {
		entry = &memoryEntry{}
		if window > 0 {
			entry.expiresAt = s.now().Add(window)
		}
		s.entries[normalizeKey(key)] = entry
	}

	entry.count++
	entry.value = strconv.AppendInt(entry.value[:0], entry.count, 10)

	remaining := window
	if !entry.expiresAt.IsZero() {
		remaining = entry.expiresAt.Sub(s.now())
	}
	return entry.count, remaining, nil
}

// liveEntry returns the entry for key when present and unexpired, pruning it otherwise.
func (s *MemoryStore) liveEntry(key string) (*memoryEntry, bool) {
	normalized := normalizeKey(key)
	entry, ok := s.entries[normalized]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.now()) {
		delete(s.entries, normalized)
		return nil, false
	}
	return entry, true
}
