package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMemoryCapacity is the slot-table size used when no capacity is
// configured.
const DefaultMemoryCapacity = 500

// Memory is a fixed-capacity in-process Cache. All operations are serialized
// through a single mutex. There is no automatic LRU: when every slot is in
// use and none has expired, Set either fails with ErrFull or overwrites the
// entry closest to expiry, depending on WithEvictOldest. Data is lost on
// process restart.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	capacity int
	evict    bool
	nowFunc  func() time.Time
}

// ensure that Memory implements the Cache interface
var _ Cache = (*Memory)(nil)

type memoryEntry struct {
	value    []byte
	expireAt time.Time
}

// NewMemory creates a Memory cache.
//
// Supported options: WithCapacity, WithEvictOldest, WithNow (testing).
func NewMemory(opt ...Option) (*Memory, error) {
	const op = "cache.NewMemory"
	opts := getOpts(opt...)
	if opts.withCapacity < 0 {
		return nil, fmt.Errorf("%s: capacity must not be negative", op)
	}
	capacity := opts.withCapacity
	if capacity == 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		entries:  make(map[string]*memoryEntry, capacity),
		capacity: capacity,
		evict:    opts.withEvictOldest,
		nowFunc:  opts.withNowFunc,
	}, nil
}

func (m *Memory) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

// Get implements Cache.Get.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.expireAt.After(m.now()) {
		return nil, ErrNoEntry
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// Set implements Cache.Set.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "Memory.Set"
	if ttl <= 0 {
		return fmt.Errorf("%s: ttl not greater than zero", op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.capacity {
		if !m.freeSlot(now) {
			return fmt.Errorf("%s: %w", op, ErrFull)
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = &memoryEntry{value: stored, expireAt: now.Add(ttl)}
	return nil
}

// freeSlot removes one entry to make room for a new one. Expired entries go
// first; otherwise the entry closest to expiry is overwritten when eviction
// is enabled. Must be called with the mutex held.
func (m *Memory) freeSlot(now time.Time) bool {
	var oldestKey string
	var oldestExpire time.Time
	for k, e := range m.entries {
		if !e.expireAt.After(now) {
			delete(m.entries, k)
			return true
		}
		if oldestKey == "" || e.expireAt.Before(oldestExpire) {
			oldestKey, oldestExpire = k, e.expireAt
		}
	}
	if m.evict && oldestKey != "" {
		delete(m.entries, oldestKey)
		return true
	}
	return false
}

// Delete implements Cache.Delete.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Take implements Cache.Take. The read and delete happen under the same
// critical section, so concurrent Takes of one key cannot both succeed.
func (m *Memory) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNoEntry
	}
	delete(m.entries, key)
	if !e.expireAt.After(m.now()) {
		return nil, ErrNoEntry
	}
	return e.value, nil
}
