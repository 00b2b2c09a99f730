package marketplace

import (
	"context"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(BreakerOptions{})
	b.now = func() time.Time { return now }

	if d := b.RecordRateLimited(); d != 0 {
		t.Fatalf("第一次 429 不应触发冷却, 实际 %s", d)
	}
	if d := b.RecordRateLimited(); d != 0 {
		t.Fatalf("第二次 429 不应触发冷却, 实际 %s", d)
	}
	cooldown := b.RecordRateLimited()
	if cooldown < 5*time.Minute {
		t.Fatalf("第三次 429 应触发 >=5 分钟冷却, 实际 %s", cooldown)
	}
	if !b.State().Open {
		t.Fatal("熔断器应处于打开状态")
	}

	b.RecordSuccess()
	state := b.State()
	if state.Consecutive != 0 || state.Open {
		t.Fatalf("成功后应重置: %#v", state)
	}
}

func TestBreakerCooldownGrowsAndCaps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(BreakerOptions{Threshold: 3, Step: 5 * time.Minute, MaxCooldown: 30 * time.Minute})
	b.now = func() time.Time { return now }

	var last time.Duration
	for i := 1; i <= 8; i++ {
		last = b.RecordRateLimited()
		if i == 4 && last != 20*time.Minute {
			t.Fatalf("第 4 次 429 冷却应为 20m, 实际 %s", last)
		}
	}
	if last != 30*time.Minute {
		t.Fatalf("冷却应封顶 30m, 实际 %s", last)
	}
}

func TestBreakerWaitReturnsAfterExpiry(t *testing.T) {
	b := NewBreaker(BreakerOptions{Threshold: 1, Step: 20 * time.Millisecond})
	b.RecordRateLimited()

	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait 不应报错: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Wait 应等待冷却结束")
	}
}
