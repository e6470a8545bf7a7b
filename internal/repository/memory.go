package repository

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryRateLimitRepository keeps one token bucket per client in process.
// A bucket holds limit tokens and refills at limit per window.
type MemoryRateLimitRepository struct {
	limiters sync.Map // map[string]*bucket
}

type bucket struct {
	limit   int
	window  time.Duration
	limiter *rate.Limiter
}

func NewMemoryRateLimitRepository() *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{}
}

func (r *MemoryRateLimitRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	return r.getBucket(key, limit, window).limiter.Allow(), nil
}

func (r *MemoryRateLimitRepository) getBucket(key string, limit int, window time.Duration) *bucket {
	if v, ok := r.limiters.Load(key); ok {
		if b, ok := v.(*bucket); ok && b.limit == limit && b.window == window {
			return b
		}
	}

	if window <= 0 {
		window = time.Minute
	}
	b := &bucket{
		limit:   limit,
		window:  window,
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
	}
	actual, loaded := r.limiters.LoadOrStore(key, b)
	if loaded {
		if existing, ok := actual.(*bucket); ok && existing.limit == limit && existing.window == window {
			return existing
		}
		r.limiters.Store(key, b)
	}
	return b
}
