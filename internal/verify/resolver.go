package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"market-watcher/internal/domain"
	"market-watcher/internal/ratelimit"
	"market-watcher/internal/storage"
)

// Resolver serves verifications from the store and falls back to the
// inspect service under a shared rate limit.
type Resolver struct {
	store          storage.VerificationStore
	inspector      Inspector
	limiter        ratelimit.Limiter
	acquireTimeout time.Duration
	group          singleflight.Group
	logger         zerolog.Logger
	now            func() time.Time
}

// NewResolver wires the cache, the inspect client and the limiter together.
func NewResolver(store storage.VerificationStore, inspector Inspector, limiter ratelimit.Limiter, acquireTimeout time.Duration, logger zerolog.Logger) *Resolver {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Resolver{
		store:          store,
		inspector:      inspector,
		limiter:        limiter,
		acquireTimeout: acquireTimeout,
		logger:         logger.With().Str("component", "verification").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the verification for an inspect link. A nil result with a
// nil error means "skip for now": the limiter timed out or the inspect
// service kept failing. Only store failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, inspectURL string, watchID int64) (*domain.VerificationResult, error) {
	v, err, _ := r.group.Do(inspectURL, func() (any, error) {
		return r.resolve(ctx, inspectURL, watchID)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*domain.VerificationResult)
	if result == nil {
		return nil, nil
	}
	clone := *result
	return &clone, nil
}

func (r *Resolver) resolve(ctx context.Context, inspectURL string, watchID int64) (*domain.VerificationResult, error) {
	rec, err := r.store.FindVerification(ctx, inspectURL)
	switch {
	case err == nil:
		rec.LastInspected = r.now()
		rec.WatchID = &watchID
		if err := r.store.UpsertVerification(ctx, rec); err != nil {
			r.logger.Warn().Err(err).Str("inspect_url", inspectURL).Msg("refresh cached verification failed")
		}
		return &rec.Result, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find verification: %w", err)
	}

	if !r.limiter.Acquire(ctx, 1, r.acquireTimeout) {
		r.logger.Debug().Str("inspect_url", inspectURL).Msg("inspect budget exhausted; retry next cycle")
		return nil, nil
	}

	result, err := r.inspector.Inspect(ctx, inspectURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn().Err(err).Str("inspect_url", inspectURL).Msg("inspect failed; retry next cycle")
		return nil, nil
	}

	if err := r.store.UpsertVerification(ctx, domain.VerificationRecord{
		InspectURL:    inspectURL,
		Result:        *result,
		LastInspected: r.now(),
		WatchID:       &watchID,
	}); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	return result, nil
}
