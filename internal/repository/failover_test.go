package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverIdempotencyStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverIdempotencyStore(primary, fallback, &logger)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Claim", ctx, "a", time.Hour).Return(true, nil).Once()

		ok, err := repo.Claim(ctx, "a", time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
		fallback.AssertNotCalled(t, "Claim", ctx, "a", time.Hour)
	})

	t.Run("PrimaryFailure", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "r", 2, time.Minute).Return(false, errors.New("redis down")).Once()
		fallback.On("CheckRateLimit", ctx, "r", 2, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "r", 2, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Claim", ctx, "b", time.Hour).Return(true, nil).Once()

		ok, err := repo.Claim(ctx, "b", time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
		primary.AssertNotCalled(t, "Claim", ctx, "b", time.Hour)
	})

	t.Run("ReleaseWhileDown", func(t *testing.T) {
		fallback.On("Release", ctx, "b").Return(nil).Once()

		assert.NoError(t, repo.Release(ctx, "b"))
		primary.AssertNotCalled(t, "Release", ctx, "b")
	})

	t.Run("Recovery", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Claim", ctx, "c", time.Hour).Return(false, nil).Once()

		ok, err := repo.Claim(ctx, "c", time.Hour)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, repo.isDown.Load())
	})

	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}
