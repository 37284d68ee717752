package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting, used to throttle
// per-vendor history requests (spec §4.2 "finite lazy sequence" implies a
// bounded request rate upstream).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to serialize access to a
// shared primary vendor stream across server processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
