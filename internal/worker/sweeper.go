package worker

import (
	"context"
	"time"

	"manito/internal/domain"

	"github.com/rs/zerolog"
)

const sweepLockKey = "lock:expire_stale_pending"

type stalePendingExpirer interface {
	ExpireStalePending(ctx context.Context) (int, error)
}

// PendingSweeper periodically cancels bookings whose payment never settled.
// With a lock store, only one replica sweeps per interval.
type PendingSweeper struct {
	bookings stalePendingExpirer
	lock     domain.IdempotencyStore
	interval time.Duration
	logger   *zerolog.Logger
}

func NewPendingSweeper(bookings stalePendingExpirer, lock domain.IdempotencyStore, interval time.Duration, logger *zerolog.Logger) *PendingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingSweeper{bookings: bookings, lock: lock, interval: interval, logger: logger}
}

func (s *PendingSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Pending sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Pending sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PendingSweeper) sweep(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Claim(ctx, sweepLockKey, s.interval)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Sweep lock unavailable, sweeping anyway")
		} else if !acquired {
			return
		}
	}

	n, err := s.bookings.ExpireStalePending(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("expired", n).Msg("Stale booking sweep finished with errors")
		return
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("Expired stale pending bookings")
	}
}
