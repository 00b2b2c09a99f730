package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration
}

// Scheduler runs polling cycles back to back with a randomised pause.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	jitter func(n int64) int64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Jitter < 0 || opts.Jitter >= opts.Interval {
		opts.Jitter = 0
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		jitter: rand.Int64N,
	}
}

// Run blocks, invoking tick and then sleeping interval±jitter, until ctx is
// cancelled. Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		started := time.Now().UTC()
		s.logger.Debug().Time("started", started).Msg("executing scheduled cycle")
		if err := tick(ctx, started); err != nil {
			s.logger.Error().Err(err).Time("started", started).Msg("cycle execution failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.NextDelay()
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// NextDelay returns a pause uniformly drawn from [interval-jitter, interval+jitter].
func (s *Scheduler) NextDelay() time.Duration {
	if s.opts.Jitter <= 0 {
		return s.opts.Interval
	}
	offset := time.Duration(s.jitter(int64(2*s.opts.Jitter)+1)) - s.opts.Jitter
	return s.opts.Interval + offset
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
