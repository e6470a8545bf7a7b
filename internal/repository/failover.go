package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"labbooking/internal/domain"

	"github.com/rs/zerolog"
)

const failoverRetryAfter = time.Minute

// FailoverRateLimitRepository uses primary while it is healthy and switches
// to fallback on the first error, probing primary again after a minute.
type FailoverRateLimitRepository struct {
	primary   domain.RateLimitRepository
	fallback  domain.RateLimitRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverRateLimitRepository(primary, fallback domain.RateLimitRepository, logger *zerolog.Logger) *FailoverRateLimitRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRateLimitRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverRateLimitRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary rate limiter recovered")
			}
			return allowed, nil
		}
		if !r.isDown.Swap(true) {
			r.logger.Error().Err(err).Msg("primary rate limiter failed, falling back to memory")
		}
		r.markChecked()
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

func (r *FailoverRateLimitRepository) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) < failoverRetryAfter {
		return false
	}
	r.lastCheck = r.now()
	return true
}

func (r *FailoverRateLimitRepository) markChecked() {
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}
