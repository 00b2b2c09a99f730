package storage

import (
	"context"
	"time"

	"market-watcher/internal/domain"
)

// AlertView joins an alert with the listing and watch it was raised for.
type AlertView struct {
	domain.Alert
	WatchID        int64
	MarketHashName string
	PriceCents     int64
	ListingURL     string
}

// WatchStore reads and edits tracked items.
type WatchStore interface {
	ListWatches(ctx context.Context) ([]domain.Watch, error)
	GetWatch(ctx context.Context, id int64) (domain.Watch, error)
	CreateWatch(ctx context.Context, watch domain.Watch) (domain.Watch, error)
	DeleteWatch(ctx context.Context, id int64) error
}

// SnapshotStore persists observed listings. InsertSnapshot is an atomic
// insert-if-absent on (watch id, listing key, price) and reports whether a
// row was created; the stored snapshot is returned either way.
type SnapshotStore interface {
	FindSnapshot(ctx context.Context, watchID int64, listingKey string, priceCents int64) (domain.ListingSnapshot, error)
	InsertSnapshot(ctx context.Context, snap domain.ListingSnapshot) (domain.ListingSnapshot, bool, error)
	UpdateSnapshot(ctx context.Context, snap domain.ListingSnapshot) error
	ListRecentSnapshots(ctx context.Context, watchID int64, limit int) ([]domain.ListingSnapshot, error)
	ListSnapshotPrices(ctx context.Context, watchID int64, from, to time.Time, limit int) ([]domain.PricePoint, error)
}

// VerificationStore caches inspect results keyed by inspect URL.
type VerificationStore interface {
	FindVerification(ctx context.Context, inspectURL string) (domain.VerificationRecord, error)
	UpsertVerification(ctx context.Context, rec domain.VerificationRecord) error
}

// AlertStore records emitted alerts. RecordAlert flips the snapshot's alerted
// flag and appends the alert atomically.
type AlertStore interface {
	RecordAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertView, error)
}

// ControlStore exposes the worker pause/resume switch.
type ControlStore interface {
	WorkerEnabled(ctx context.Context) (bool, error)
	SetWorkerEnabled(ctx context.Context, enabled bool) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the watcher needs from persistence.
type Repository interface {
	WatchStore
	SnapshotStore
	VerificationStore
	AlertStore
	ControlStore
	AdvisoryLocker
	Close()
}
