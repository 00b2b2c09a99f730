package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextDelayWithinJitter(t *testing.T) {
	s := New(Options{Interval: time.Minute, Jitter: 10 * time.Second}, zerolog.Nop())
	for range 200 {
		d := s.NextDelay()
		if d < 50*time.Second || d > 70*time.Second {
			t.Fatalf("间隔应在 [50s,70s] 内, 实际 %s", d)
		}
	}

	s.jitter = func(n int64) int64 { return 0 }
	if d := s.NextDelay(); d != 50*time.Second {
		t.Fatalf("最小抖动应为 50s, 实际 %s", d)
	}
	s.jitter = func(n int64) int64 { return n - 1 }
	if d := s.NextDelay(); d != 70*time.Second {
		t.Fatalf("最大抖动应为 70s, 实际 %s", d)
	}
}

func TestNewIgnoresOversizedJitter(t *testing.T) {
	s := New(Options{Interval: time.Second, Jitter: time.Hour}, zerolog.Nop())
	if d := s.NextDelay(); d != time.Second {
		t.Fatalf("非法抖动应被忽略, 实际 %s", d)
	}
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, started time.Time) error {
		if ticks.Add(1) >= 3 {
			cancel()
		}
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("应在 ctx 取消后返回: %v", err)
	}
	if ticks.Load() < 3 {
		t.Fatalf("出错后应继续调度, 实际 %d 次", ticks.Load())
	}
}
