package ratelimit

import "context"

// NopLimiter is a pass-through Limiter for tests. It runs operations
// immediately with no quota, no queueing, and no throttle retries.
type NopLimiter struct{}

// Execute runs op directly.
func (NopLimiter) Execute(ctx context.Context, _ string, op func(context.Context) error) error {
	return op(ctx)
}

// Close is a no-op.
func (NopLimiter) Close() error { return nil }
