// Package ratelimit bounds outbound request rate with token buckets.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is satisfied by every bucket implementation.
type Limiter interface {
	// Acquire blocks until cost tokens are deducted (true) or timeout elapses
	// (false, nothing deducted).
	Acquire(ctx context.Context, cost float64, timeout time.Duration) bool
}

// TokenBucket is an in-process token bucket with lazy refill.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

// Capacity returns the bucket size used for a given refill rate.
func Capacity(rate float64) float64 {
	return math.Max(1, rate*2)
}

// NewTokenBucket builds a full bucket refilled at rate tokens per second.
func NewTokenBucket(rate float64) *TokenBucket {
	return newTokenBucket(rate, time.Now)
}

func newTokenBucket(rate float64, now func() time.Time) *TokenBucket {
	if rate <= 0 {
		panic("ratelimit: rate must be positive")
	}
	capacity := Capacity(rate)
	return &TokenBucket{
		capacity:   capacity,
		rate:       rate,
		tokens:     capacity,
		lastUpdate: now(),
		now:        now,
	}
}

// Acquire implements Limiter.
func (b *TokenBucket) Acquire(ctx context.Context, cost float64, timeout time.Duration) bool {
	deadline := b.now().Add(timeout)
	interval := pollInterval(b.rate)
	for {
		if b.tryTake(cost) {
			return true
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return false
		}
		if !sleepCtx(ctx, min(interval, remaining)) {
			return false
		}
	}
}

// Tokens reports the currently available tokens after refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) tryTake(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.lastUpdate = now
}

func pollInterval(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ Limiter = (*TokenBucket)(nil)
