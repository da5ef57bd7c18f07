package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is the single-process fallback used when Redis is
// unreachable.
type MemoryIdempotencyStore struct {
	mu         sync.Mutex
	claims     map[string]time.Time
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		claims:     make(map[string]time.Time),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.claims[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.claims[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.claims, key)
	r.mu.Unlock()
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryIdempotencyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

// Prune drops expired claims and counters.
func (r *MemoryIdempotencyStore) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for k, exp := range r.claims {
		if !now.Before(exp) {
			delete(r.claims, k)
			removed++
		}
	}
	for k, e := range r.rateLimits {
		if !now.Before(e.expiresAt) {
			delete(r.rateLimits, k)
			removed++
		}
	}
	return removed
}
