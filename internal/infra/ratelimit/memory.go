package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"leasecore/internal/domain"
)

// memoryLimiter is a fixed-window counter keyed by caller-supplied keys.
// Suitable for single-process deployments; multi-instance setups should use
// the Redis limiter so OTP issue caps hold across replicas.
type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*window
	maxKeys int
}

type window struct {
	hits     int
	closesAt time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		buckets: make(map[string]*window),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, duration time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets[key]
	if ok && now.After(bucket.closesAt) {
		delete(m.buckets, key)
		ok = false
	}
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.sweep(now)
		}
		if len(m.buckets) >= m.maxKeys {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		bucket = &window{closesAt: now.Add(duration)}
		m.buckets[key] = bucket
	}

	if bucket.hits < limit {
		bucket.hits++
		return domain.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - bucket.hits,
			ResetAt:   bucket.closesAt,
		}, nil
	}

	return domain.RateLimitDecision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   bucket.closesAt,
	}, nil
}

func (m *memoryLimiter) sweep(now time.Time) {
	for key, bucket := range m.buckets {
		if now.After(bucket.closesAt) {
			delete(m.buckets, key)
		}
	}
}
