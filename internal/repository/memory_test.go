package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	repo := NewMemoryIdempotencyStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := repo.Claim(ctx, "evt", time.Minute)
	assert.True(t, ok)
	ok, _ = repo.Claim(ctx, "evt", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = repo.Claim(ctx, "evt", time.Minute)
	assert.True(t, ok, "claim expires after ttl")

	assert.NoError(t, repo.Release(ctx, "evt"))
	ok, _ = repo.Claim(ctx, "evt", time.Minute)
	assert.True(t, ok)

	allowed, _ := repo.CheckRateLimit(ctx, "rate", 2, time.Second)
	assert.True(t, allowed)
	allowed, _ = repo.CheckRateLimit(ctx, "rate", 2, time.Second)
	assert.True(t, allowed)
	allowed, _ = repo.CheckRateLimit(ctx, "rate", 2, time.Second)
	assert.False(t, allowed)

	now = now.Add(2 * time.Second)
	allowed, _ = repo.CheckRateLimit(ctx, "rate", 2, time.Second)
	assert.True(t, allowed)
}

func TestMemoryIdempotencyStore_Prune(t *testing.T) {
	repo := NewMemoryIdempotencyStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	repo.Claim(ctx, "short", time.Second)
	repo.Claim(ctx, "long", time.Hour)
	repo.CheckRateLimit(ctx, "rate", 1, time.Second)

	now = now.Add(time.Minute)
	assert.Equal(t, 2, repo.Prune())

	ok, _ := repo.Claim(ctx, "long", time.Hour)
	assert.False(t, ok)
}
