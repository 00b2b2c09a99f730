package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 1.0, Capacity(0.2))
	assert.Equal(t, 2.0, Capacity(1))
	assert.Equal(t, 10.0, Capacity(5))
}

func TestTokenBucketCapacityTwo(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(1, clock.Now)
	ctx := context.Background()

	require.True(t, bucket.Acquire(ctx, 1, 0))
	require.True(t, bucket.Acquire(ctx, 1, 0))
	require.False(t, bucket.Acquire(ctx, 1, 0), "third immediate acquire must fail")

	clock.Advance(500 * time.Millisecond)
	require.False(t, bucket.Acquire(ctx, 1, 0), "half a token is not enough")

	clock.Advance(500 * time.Millisecond)
	require.True(t, bucket.Acquire(ctx, 1, 0), "a full second refills one token")
}

func TestTokenBucketFailedAcquireDoesNotDeduct(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(1, clock.Now)

	require.False(t, bucket.Acquire(context.Background(), 3, 0))
	assert.InDelta(t, 2.0, bucket.Tokens(), 1e-9)
}

func TestTokenBucketRefillCapped(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(2, clock.Now)
	require.True(t, bucket.Acquire(context.Background(), 4, 0))

	clock.Advance(time.Hour)
	assert.InDelta(t, 4.0, bucket.Tokens(), 1e-9)
}

func TestTokenBucketWaitsForRefill(t *testing.T) {
	bucket := NewTokenBucket(20)
	ctx := context.Background()
	require.True(t, bucket.Acquire(ctx, bucket.capacity, 0))

	start := time.Now()
	require.True(t, bucket.Acquire(ctx, 1, time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTokenBucketTimeout(t *testing.T) {
	bucket := NewTokenBucket(1)
	ctx := context.Background()
	require.True(t, bucket.Acquire(ctx, 2, 0))

	start := time.Now()
	require.False(t, bucket.Acquire(ctx, 2, 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucketConcurrentLastToken(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bucket := newTokenBucket(0.5, clock.Now) // capacity 1

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.Acquire(context.Background(), 1, 0) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTokenBucketContextCancel(t *testing.T) {
	bucket := NewTokenBucket(0.1)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, bucket.Acquire(ctx, 1, 0))
	cancel()
	assert.False(t, bucket.Acquire(ctx, 1, time.Minute))
}
