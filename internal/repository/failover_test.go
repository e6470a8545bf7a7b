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

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimitRepository(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverRateLimitRepository(primary, fallback, &logger)
	ctx := context.Background()

	clock := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "a", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "a", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "b", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "b", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "b", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "c", 10, time.Minute).Return(false, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "c", 10, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		primary.AssertNotCalled(t, "CheckRateLimit", ctx, "c", 10, time.Minute)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		primary.On("CheckRateLimit", ctx, "d", 10, time.Minute).Return(false, errors.New("still fail")).Once()
		fallback.On("CheckRateLimit", ctx, "d", 10, time.Minute).Return(true, nil).Once()

		_, err := repo.CheckRateLimit(ctx, "d", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		primary.On("CheckRateLimit", ctx, "e", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "e", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("WithMemoryFallback", func(t *testing.T) {
		broken := NewRedisRateLimitRepository(nil)
		repo := NewFailoverRateLimitRepository(broken, NewMemoryRateLimitRepository(), nil)

		allowed, err := repo.CheckRateLimit(ctx, "f", 1, time.Hour)
		assert.NoError(t, err)
		assert.True(t, allowed)
		allowed, err = repo.CheckRateLimit(ctx, "f", 1, time.Hour)
		assert.NoError(t, err)
		assert.False(t, allowed)
	})
}
