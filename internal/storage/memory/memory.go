// Package memory is a process-local Repository used when no database is
// configured and in tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"market-watcher/internal/domain"
	"market-watcher/internal/storage"
)

type snapshotKey struct {
	watchID int64
	key     string
	price   int64
}

// Store keeps every record in maps guarded by one mutex, so each operation
// is atomic with respect to the others.
type Store struct {
	mu sync.Mutex

	nextWatchID    int64
	nextSnapshotID int64
	nextAlertID    int64

	watches       map[int64]domain.Watch
	snapshots     map[int64]domain.ListingSnapshot
	snapshotIndex map[snapshotKey]int64
	verifications map[string]domain.VerificationRecord
	alerts        map[int64]domain.Alert // by snapshot id
	disabled      bool
	locks         map[int64]bool

	now func() time.Time
}

// New returns an empty store with the worker enabled.
func New() *Store {
	return &Store{
		watches:       make(map[int64]domain.Watch),
		snapshots:     make(map[int64]domain.ListingSnapshot),
		snapshotIndex: make(map[snapshotKey]int64),
		verifications: make(map[string]domain.VerificationRecord),
		alerts:        make(map[int64]domain.Alert),
		locks:         make(map[int64]bool),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) ListWatches(ctx context.Context) ([]domain.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches := slices.Collect(maps.Values(s.watches))
	slices.SortFunc(watches, func(a, b domain.Watch) int { return cmp.Compare(a.ID, b.ID) })
	return watches, nil
}

func (s *Store) GetWatch(ctx context.Context, id int64) (domain.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watch, ok := s.watches[id]
	if !ok {
		return domain.Watch{}, fmt.Errorf("watch %d: %w", id, domain.ErrNotFound)
	}
	return watch, nil
}

func (s *Store) CreateWatch(ctx context.Context, watch domain.Watch) (domain.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.watches {
		if existing.AppID == watch.AppID && existing.MarketHashName == watch.MarketHashName {
			return domain.Watch{}, fmt.Errorf("watch for %d/%s already exists", watch.AppID, watch.MarketHashName)
		}
	}

	s.nextWatchID++
	watch.ID = s.nextWatchID
	watch.CreatedAt = s.now()
	s.watches[watch.ID] = watch
	return watch, nil
}

func (s *Store) DeleteWatch(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watches[id]; !ok {
		return fmt.Errorf("watch %d: %w", id, domain.ErrNotFound)
	}
	delete(s.watches, id)
	for snapID, snap := range s.snapshots {
		if snap.WatchID != id {
			continue
		}
		delete(s.snapshots, snapID)
		delete(s.snapshotIndex, snapshotKey{snap.WatchID, snap.ListingKey, snap.PriceCents})
		delete(s.alerts, snapID)
	}
	for ref, rec := range s.verifications {
		if rec.WatchID != nil && *rec.WatchID == id {
			rec.WatchID = nil
			s.verifications[ref] = rec
		}
	}
	return nil
}

func (s *Store) FindSnapshot(ctx context.Context, watchID int64, listingKey string, priceCents int64) (domain.ListingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.snapshotIndex[snapshotKey{watchID, listingKey, priceCents}]
	if !ok {
		return domain.ListingSnapshot{}, domain.ErrNotFound
	}
	return cloneSnapshot(s.snapshots[id]), nil
}

func (s *Store) InsertSnapshot(ctx context.Context, snap domain.ListingSnapshot) (domain.ListingSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watches[snap.WatchID]; !ok {
		return domain.ListingSnapshot{}, false, fmt.Errorf("watch %d: %w", snap.WatchID, domain.ErrNotFound)
	}

	key := snapshotKey{snap.WatchID, snap.ListingKey, snap.PriceCents}
	if id, ok := s.snapshotIndex[key]; ok {
		return cloneSnapshot(s.snapshots[id]), false, nil
	}

	s.nextSnapshotID++
	snap.ID = s.nextSnapshotID
	if snap.ScrapedAt.IsZero() {
		snap.ScrapedAt = s.now()
	}
	snap.Verification = nil
	snap.Alerted = false
	snap.Rejected = false
	snap = cloneSnapshot(snap)

	s.snapshots[snap.ID] = snap
	s.snapshotIndex[key] = snap.ID
	return cloneSnapshot(snap), true, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, snap domain.ListingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.snapshots[snap.ID]
	if !ok {
		return fmt.Errorf("snapshot %d: %w", snap.ID, domain.ErrNotFound)
	}
	stored.Verification = cloneVerification(snap.Verification)
	stored.Alerted = snap.Alerted
	stored.Rejected = snap.Rejected
	s.snapshots[snap.ID] = stored
	return nil
}

func (s *Store) ListRecentSnapshots(ctx context.Context, watchID int64, limit int) ([]domain.ListingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := make([]domain.ListingSnapshot, 0)
	for _, snap := range s.snapshots {
		if watchID == 0 || snap.WatchID == watchID {
			snaps = append(snaps, cloneSnapshot(snap))
		}
	}
	slices.SortFunc(snaps, func(a, b domain.ListingSnapshot) int {
		if c := b.ScrapedAt.Compare(a.ScrapedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *Store) ListSnapshotPrices(ctx context.Context, watchID int64, from, to time.Time, limit int) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]domain.PricePoint, 0)
	for _, snap := range s.snapshots {
		if snap.WatchID != watchID || snap.ScrapedAt.Before(from) || !snap.ScrapedAt.Before(to) {
			continue
		}
		points = append(points, domain.PricePoint{At: snap.ScrapedAt, PriceCents: snap.PriceCents, Alerted: snap.Alerted})
	}
	slices.SortFunc(points, func(a, b domain.PricePoint) int { return a.At.Compare(b.At) })
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

func (s *Store) FindVerification(ctx context.Context, inspectURL string) (domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.verifications[inspectURL]
	if !ok {
		return domain.VerificationRecord{}, domain.ErrNotFound
	}
	rec.Result = *cloneVerification(&rec.Result)
	return rec, nil
}

func (s *Store) UpsertVerification(ctx context.Context, rec domain.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.LastInspected.IsZero() {
		rec.LastInspected = s.now()
	}
	rec.Result = *cloneVerification(&rec.Result)
	s.verifications[rec.InspectURL] = rec
	return nil
}

func (s *Store) RecordAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[alert.SnapshotID]
	if !ok {
		return domain.Alert{}, fmt.Errorf("snapshot %d: %w", alert.SnapshotID, domain.ErrNotFound)
	}
	snap.Alerted = true
	s.snapshots[snap.ID] = snap

	if existing, ok := s.alerts[alert.SnapshotID]; ok {
		return existing, nil
	}

	s.nextAlertID++
	alert.ID = s.nextAlertID
	if alert.SentAt.IsZero() {
		alert.SentAt = s.now()
	}
	s.alerts[alert.SnapshotID] = alert
	return alert, nil
}

func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]storage.AlertView, 0, len(s.alerts))
	for _, alert := range s.alerts {
		snap := s.snapshots[alert.SnapshotID]
		views = append(views, storage.AlertView{
			Alert:          alert,
			WatchID:        snap.WatchID,
			MarketHashName: s.watches[snap.WatchID].MarketHashName,
			PriceCents:     snap.PriceCents,
			ListingURL:     snap.ListingURL,
		})
	}
	slices.SortFunc(views, func(a, b storage.AlertView) int {
		if c := b.SentAt.Compare(a.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func (s *Store) WorkerEnabled(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled, nil
}

func (s *Store) SetWorkerEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.disabled = !enabled
	s.mu.Unlock()
	return nil
}

// TryAdvisoryLock emulates a process-local advisory lock.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true
	return func() {
		s.mu.Lock()
		delete(s.locks, key)
		s.mu.Unlock()
	}, true, nil
}

func cloneSnapshot(snap domain.ListingSnapshot) domain.ListingSnapshot {
	snap.Raw = maps.Clone(snap.Raw)
	snap.Verification = cloneVerification(snap.Verification)
	return snap
}

func cloneVerification(v *domain.VerificationResult) *domain.VerificationResult {
	if v == nil {
		return nil
	}
	out := *v
	out.Stickers = slices.Clone(v.Stickers)
	if v.PaintSeed != nil {
		seed := *v.PaintSeed
		out.PaintSeed = &seed
	}
	if v.PaintIndex != nil {
		idx := *v.PaintIndex
		out.PaintIndex = &idx
	}
	return &out
}

var _ storage.Repository = (*Store)(nil)
