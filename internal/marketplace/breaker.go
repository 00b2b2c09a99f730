package marketplace

import (
	"context"
	"sync"
	"time"
)

// BreakerOptions tune the 429 circuit breaker.
type BreakerOptions struct {
	Threshold   int
	Step        time.Duration
	MaxCooldown time.Duration
}

// Breaker counts consecutive rate-limited responses across all watches and
// holds callers back during a growing cooldown window.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOptions
	consecutive   int
	cooldownUntil time.Time
	now           func() time.Time
}

// NewBreaker constructs a Breaker, applying defaults for zero options.
func NewBreaker(opts BreakerOptions) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.Step <= 0 {
		opts.Step = 5 * time.Minute
	}
	if opts.MaxCooldown <= 0 {
		opts.MaxCooldown = 30 * time.Minute
	}
	return &Breaker{opts: opts, now: time.Now}
}

// Wait blocks until any active cooldown has expired.
func (b *Breaker) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		until := b.cooldownUntil
		now := b.now()
		b.mu.Unlock()

		if !until.After(now) {
			return nil
		}

		timer := time.NewTimer(until.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordRateLimited registers a 429 and returns the cooldown it started, if any.
func (b *Breaker) RecordRateLimited() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.consecutive < b.opts.Threshold {
		return 0
	}

	cooldown := time.Duration(b.consecutive) * b.opts.Step
	if cooldown > b.opts.MaxCooldown {
		cooldown = b.opts.MaxCooldown
	}
	b.cooldownUntil = b.now().Add(cooldown)
	return cooldown
}

// RecordSuccess resets the consecutive counter and clears any cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutive = 0
	b.cooldownUntil = time.Time{}
	b.mu.Unlock()
}

// BreakerState is a point-in-time view of the breaker.
type BreakerState struct {
	Consecutive   int       `json:"consecutive_rate_limited"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Open          bool      `json:"open"`
}

// State returns the current counters.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		Consecutive:   b.consecutive,
		CooldownUntil: b.cooldownUntil,
		Open:          b.cooldownUntil.After(b.now()),
	}
}
