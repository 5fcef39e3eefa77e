package ratelimiter

import (
	"context"
	"time"
)

// Store keeps token bucket state per key.
type Store interface {
	// ConsumeTokens refills the bucket for the elapsed time, then takes tokens.
	// A negative remaining count means the request must be denied.
	ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config) (remaining int, resetAt time.Time, err error)

	Reset(ctx context.Context, key string) error
}

// refill returns the token count after the refill intervals elapsed since
// lastRefill, and whether any interval has passed. Both stores follow it.
func refill(tokens int, lastRefill, now time.Time, cfg Config) (int, bool) {
	intervals := int64(now.Sub(lastRefill) / cfg.RefillInterval)
	if intervals <= 0 {
		return tokens, false
	}
	// Cap to avoid overflow with a large capacity and a low rate.
	intervals = min(intervals, int64(cfg.Capacity/cfg.RefillRate+1))
	return min(tokens+int(intervals)*cfg.RefillRate, cfg.Capacity), true
}
