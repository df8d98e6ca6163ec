package domain

import (
	"context"
	"time"
)

// RateLimiter counts events per key over a rolling window. OTP issuance is
// limited per lease; different leases never contend with each other.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
