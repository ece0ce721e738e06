// Package ratelimit throttles API callers with a sliding window keyed by
// calling party, or by client address for anonymous requests.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Store counts requests per key within a trailing window.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error)
}
