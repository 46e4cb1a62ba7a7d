package cache

import (
	"context"
	"sync"
	"time"
)

// ReplayCache remembers the encoded result of an idempotent mutation under its
// idempotency key so a retried request gets the first answer back.
//
// Reserve claims a key before the mutation runs. Exactly one caller wins a key
// until the winner either stores the result with Set or gives the claim up with
// Release. Get never reports a claimed key that has no result yet.
type ReplayCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type NoopReplayCache struct{}

func (NoopReplayCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReplayCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopReplayCache) Reserve(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopReplayCache) Release(_ context.Context, _ string) error {
	return nil
}

// MemoryReplayCache is a process-local ReplayCache for single-instance runs.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryReplayCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	if entry.value == nil {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryReplayCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: append([]byte{}, value...), expiresAt: c.now().Add(ttl)}
	return nil
}

// Reserve stores a pending entry, which Get hides, unless a live entry exists.
func (c *MemoryReplayCache) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expiresAt) {
		return false, nil
	}
	c.entries[key] = memoryEntry{expiresAt: c.now().Add(ttl)}
	return true, nil
}

// Release drops a pending entry. A stored result is left alone.
func (c *MemoryReplayCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && entry.value == nil {
		delete(c.entries, key)
	}
	return nil
}
