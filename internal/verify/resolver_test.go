package verify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-watcher/internal/domain"
	"market-watcher/internal/storage/memory"
)

type countingLimiter struct {
	allow bool
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context, cost float64, timeout time.Duration) bool {
	l.calls.Add(1)
	return l.allow
}

type fakeInspector struct {
	calls  atomic.Int32
	delay  time.Duration
	result *domain.VerificationResult
	err    error
}

func (f *fakeInspector) Inspect(ctx context.Context, inspectURL string) (*domain.VerificationResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	return &out, nil
}

func TestResolveCachesResult(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	limiter := &countingLimiter{allow: true}
	inspector := &fakeInspector{result: &domain.VerificationResult{FloatValue: 0.3}}
	r := NewResolver(store, inspector, limiter, time.Second, zerolog.Nop())

	first, err := r.Resolve(ctx, inspectLink, 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.InDelta(t, 0.3, first.FloatValue, 1e-12)

	second, err := r.Resolve(ctx, inspectLink, 2)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.FloatValue, second.FloatValue)

	assert.Equal(t, int32(1), inspector.calls.Load(), "cache hit must not call the inspect service")
	assert.Equal(t, int32(1), limiter.calls.Load(), "cache hit must not consume tokens")

	rec, err := store.FindVerification(ctx, inspectLink)
	require.NoError(t, err)
	require.NotNil(t, rec.WatchID)
	assert.Equal(t, int64(2), *rec.WatchID)
}

func TestResolveSkipsWhenBudgetExhausted(t *testing.T) {
	store := memory.New()
	inspector := &fakeInspector{result: &domain.VerificationResult{FloatValue: 0.3}}
	r := NewResolver(store, inspector, &countingLimiter{allow: false}, time.Second, zerolog.Nop())

	result, err := r.Resolve(context.Background(), inspectLink, 1)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, inspector.calls.Load())

	_, err = store.FindVerification(context.Background(), inspectLink)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestResolveSkipsWhenInspectFails(t *testing.T) {
	store := memory.New()
	inspector := &fakeInspector{err: errors.New("boom")}
	r := NewResolver(store, inspector, &countingLimiter{allow: true}, time.Second, zerolog.Nop())

	result, err := r.Resolve(context.Background(), inspectLink, 1)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = store.FindVerification(context.Background(), inspectLink)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestResolveCollapsesConcurrentLookups(t *testing.T) {
	inspector := &fakeInspector{delay: 50 * time.Millisecond, result: &domain.VerificationResult{FloatValue: 0.1}}
	r := NewResolver(memory.New(), inspector, &countingLimiter{allow: true}, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := r.Resolve(context.Background(), inspectLink, 1)
			assert.NoError(t, err)
			assert.NotNil(t, result)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inspector.calls.Load())
}
