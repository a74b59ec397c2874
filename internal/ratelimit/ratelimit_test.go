package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableTokensWithinBounds(t *testing.T) {
	b := NewBucket(5, time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Acquire(context.Background(), 1))
		tokens := b.AvailableTokens()
		assert.GreaterOrEqual(t, tokens, 0.0)
		assert.LessOrEqual(t, tokens, 5.0)
	}
}

func TestAcquireMultipleTokensAtomically(t *testing.T) {
	b := NewBucket(10, time.Second)

	before := b.AvailableTokens()
	require.NoError(t, b.Acquire(context.Background(), 4))
	after := b.AvailableTokens()

	// Allow for the refill that happens between the two reads.
	assert.InDelta(t, before-4, after, 0.5)
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	// 10 tokens per second so a depleted bucket refills one token in ~100ms.
	b := NewBucket(10, time.Second)
	require.NoError(t, b.Acquire(context.Background(), 10))

	start := time.Now()
	require.NoError(t, b.Acquire(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireBeyondCapacityFails(t *testing.T) {
	b := NewBucket(3, time.Second)
	assert.Error(t, b.Acquire(context.Background(), 4))
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	b := NewBucket(1, time.Hour)
	require.NoError(t, b.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Acquire(ctx, 1))
}
