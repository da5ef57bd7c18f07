package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"manito/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIdempotencyStore uses the primary store until it errors, then
// serves from the fallback and probes the primary again once a minute.
type FailoverIdempotencyStore struct {
	primary   domain.IdempotencyStore
	fallback  domain.IdempotencyStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverIdempotencyStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) > recoveryInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverIdempotencyStore) markDown(op string, err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Str("op", op).Msg("Primary idempotency store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverIdempotencyStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary idempotency store recovered")
	}
}

func (r *FailoverIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Claim(ctx, key, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown("claim", err)
	}
	return r.fallback.Claim(ctx, key, ttl)
}

func (r *FailoverIdempotencyStore) Release(ctx context.Context, key string) error {
	// A claim may live in either store depending on when it was taken.
	fallbackErr := r.fallback.Release(ctx, key)
	if r.usePrimary() {
		if err := r.primary.Release(ctx, key); err != nil {
			r.markDown("release", err)
			return fallbackErr
		}
		r.markUp()
		return nil
	}
	return fallbackErr
}

func (r *FailoverIdempotencyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown("rate_limit", err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
