// Package service runs the fetch → extract → dedup → verify → evaluate →
// alert pipeline over the tracked watches.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-watcher/internal/alerting"
	"market-watcher/internal/archive"
	"market-watcher/internal/dedup"
	"market-watcher/internal/domain"
	"market-watcher/internal/extract"
	"market-watcher/internal/logging"
	"market-watcher/internal/marketplace"
	"market-watcher/internal/scheduler"
	"market-watcher/internal/storage"
)

// Resolver returns the verification for an inspect reference, or nil when it
// cannot be obtained this cycle.
type Resolver interface {
	Resolve(ctx context.Context, inspectURL string, watchID int64) (*domain.VerificationResult, error)
}

// Dispatcher evaluates a verified snapshot and alerts on it.
type Dispatcher interface {
	MaybeAlert(ctx context.Context, watch domain.Watch, snap domain.ListingSnapshot, v *domain.VerificationResult) (alerting.Decision, error)
}

// Deps are the collaborators of a Service. Archiver, Locker and Scheduler are
// optional.
type Deps struct {
	Fetcher    marketplace.Fetcher
	Archiver   archive.Archiver
	Parser     *extract.Parser
	Snapshots  storage.SnapshotStore
	Watches    storage.WatchStore
	Control    storage.ControlStore
	Locker     storage.AdvisoryLocker
	Resolver   Resolver
	Dispatcher Dispatcher
	Scheduler  *scheduler.Scheduler
}

// Options tune the pipeline.
type Options struct {
	LockKey       int64
	WatchDelayMin time.Duration
	WatchDelayMax time.Duration
}

// CycleReport summarises one RunCycle.
type CycleReport struct {
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	Watches           int              `json:"watches"`
	Failed            map[int64]string `json:"failed,omitempty"`
	ListingsSeen      int              `json:"listings_seen"`
	NewSnapshots      int              `json:"new_snapshots"`
	Suppressed        int              `json:"suppressed"`
	Verified          int              `json:"verified"`
	VerificationSkips int              `json:"verification_skips"`
	AlertsSent        int              `json:"alerts_sent"`
	AlertFailures     int              `json:"alert_failures"`
	Rejected          int              `json:"rejected"`
	Aborted           bool             `json:"aborted"`
}

// Service orchestrates fetching, persistence, verification and alerting.
type Service struct {
	deps   Deps
	opts   Options
	dedup  *dedup.Deduplicator
	logger zerolog.Logger

	mu   sync.RWMutex
	last *CycleReport
}

// New constructs the pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if deps.Archiver == nil {
		deps.Archiver = archive.Nop{}
	}
	if deps.Parser == nil {
		deps.Parser = extract.NewParser(logger)
	}
	if opts.WatchDelayMax < opts.WatchDelayMin {
		opts.WatchDelayMax = opts.WatchDelayMin
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		dedup:  dedup.New(deps.Snapshots),
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// LastReport returns the report of the most recent cycle, if any.
func (s *Service) LastReport() (CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.Tick)
}

// Tick loads the watches and runs one cycle unless the worker is paused or
// another worker holds the advisory lock.
func (s *Service) Tick(ctx context.Context, started time.Time) error {
	enabled, err := s.enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		s.logger.Info().Msg("worker paused, skipping cycle")
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("started", started).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	watches, err := s.deps.Watches.ListWatches(ctx)
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}
	s.RunCycle(ctx, watches)
	return nil
}

// RunCycle processes every watch once. A failing watch is recorded in the
// report and never stops the others. When the worker is disabled mid-cycle
// the remaining work is abandoned and the report is marked aborted.
func (s *Service) RunCycle(ctx context.Context, watches []domain.Watch) CycleReport {
	report := CycleReport{
		StartedAt: time.Now().UTC(),
		Watches:   len(watches),
		Failed:    make(map[int64]string),
	}

	for i, watch := range watches {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		if err := s.runWatch(ctx, watch, &report); err != nil {
			report.Failed[watch.ID] = err.Error()
			logging.ForWatch(s.logger, watch.ID, watch.MarketHashName).Error().Err(err).Msg("watch failed")
		}
		if report.Aborted {
			break
		}
		if i < len(watches)-1 {
			if err := s.pause(ctx); err != nil {
				report.Aborted = true
				break
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.logger.Info().Int("watches", report.Watches).
		Int("failed", len(report.Failed)).
		Int("listings", report.ListingsSeen).
		Int("new", report.NewSnapshots).
		Int("verified", report.Verified).
		Int("alerts", report.AlertsSent).
		Bool("aborted", report.Aborted).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("cycle finished")

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

func (s *Service) runWatch(ctx context.Context, watch domain.Watch, report *CycleReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	logger := logging.ForWatch(s.logger, watch.ID, watch.MarketHashName)

	page, err := s.deps.Fetcher.Fetch(ctx, watch)
	if err != nil {
		return fmt.Errorf("fetch listings: %w", err)
	}

	if location, err := s.deps.Archiver.Archive(ctx, archive.Page{
		WatchID:   watch.ID,
		Item:      watch.MarketHashName,
		HTML:      page.HTML,
		FetchedAt: page.FetchedAt,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to archive page")
	} else if location != "" {
		logger.Debug().Str("location", location).Msg("page archived")
	}

	for listing := range s.deps.Parser.Parse(page.HTML) {
		enabled, err := s.enabled(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			logger.Info().Msg("worker disabled, aborting cycle")
			report.Aborted = true
			return nil
		}

		report.ListingsSeen++
		if err := s.processListing(ctx, logger, watch, listing, report); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processListing(ctx context.Context, logger zerolog.Logger, watch domain.Watch, listing extract.ParsedListing, report *CycleReport) error {
	snap, created, err := s.dedup.Record(ctx, domain.ListingSnapshot{
		WatchID:    watch.ID,
		ListingKey: listing.ListingKey,
		PriceCents: listing.PriceCents,
		ListingURL: listing.ListingURL,
		InspectURL: listing.InspectURL,
		Raw:        listing.Raw,
		ScrapedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if created {
		report.NewSnapshots++
	} else {
		report.Suppressed++
	}
	if !snap.Pending() {
		return nil
	}

	logger = logger.With().Int64("snapshot_id", snap.ID).Str("listing_key", snap.ListingKey).Logger()

	if snap.InspectURL == "" {
		logger.Debug().Msg("listing has no inspect link, rejecting")
		return s.reject(ctx, snap, report)
	}

	v := snap.Verification
	if v == nil {
		v, err = s.deps.Resolver.Resolve(ctx, snap.InspectURL, watch.ID)
		if err != nil {
			return fmt.Errorf("resolve verification: %w", err)
		}
		if v == nil {
			report.VerificationSkips++
			logger.Debug().Msg("verification unavailable, listing stays pending")
			return nil
		}
		snap.Verification = v
		if err := s.deps.Snapshots.UpdateSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("store verification: %w", err)
		}
	}
	report.Verified++

	decision, err := s.deps.Dispatcher.MaybeAlert(ctx, watch, snap, v)
	if err != nil {
		report.AlertFailures++
		logger.Error().Err(err).Msg("alert dispatch failed, listing stays pending")
		return nil
	}
	if !decision.Passed {
		logger.Debug().Str("reason", string(decision.Reason)).Msg("listing rejected")
		return s.reject(ctx, snap, report)
	}
	if decision.Sent {
		report.AlertsSent++
	}
	return nil
}

func (s *Service) reject(ctx context.Context, snap domain.ListingSnapshot, report *CycleReport) error {
	snap.Rejected = true
	if err := s.deps.Snapshots.UpdateSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("reject snapshot: %w", err)
	}
	report.Rejected++
	return nil
}

func (s *Service) enabled(ctx context.Context) (bool, error) {
	if s.deps.Control == nil {
		return true, nil
	}
	enabled, err := s.deps.Control.WorkerEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("read worker flag: %w", err)
	}
	return enabled, nil
}

func (s *Service) pause(ctx context.Context) error {
	lo, hi := s.opts.WatchDelayMin, s.opts.WatchDelayMax
	if hi <= 0 {
		return nil
	}
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int64N(int64(hi - lo)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
