// Package ratelimit provides the token-bucket gate bounding outbound
// publish calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a token bucket holding at most Rate tokens, refilled continuously
// at Rate/Per tokens per second.
type Bucket struct {
	limiter  *rate.Limiter
	capacity int
}

// NewBucket creates a bucket with the given capacity refilled over per.
// A zero or negative per defaults to one second.
func NewBucket(capacity int, per time.Duration) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if per <= 0 {
		per = time.Second
	}
	refill := rate.Limit(float64(capacity) / per.Seconds())
	return &Bucket{
		limiter:  rate.NewLimiter(refill, capacity),
		capacity: capacity,
	}
}

// Acquire blocks until n tokens are available, then deducts them atomically.
// It returns early with an error when the context is cancelled or when n
// exceeds the bucket capacity.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	if n > b.capacity {
		return fmt.Errorf("ratelimit: cannot acquire %d tokens from a bucket of %d", n, b.capacity)
	}
	return b.limiter.WaitN(ctx, n)
}

// AvailableTokens returns the continuously interpolated token count without
// consuming any, clamped to [0, capacity].
func (b *Bucket) AvailableTokens() float64 {
	tokens := b.limiter.Tokens()
	if tokens < 0 {
		return 0
	}
	if max := float64(b.capacity); tokens > max {
		return max
	}
	return tokens
}

// Capacity returns the configured bucket capacity.
func (b *Bucket) Capacity() int {
	return b.capacity
}
