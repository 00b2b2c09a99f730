// Package dedup suppresses listings already seen at the same price.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"market-watcher/internal/domain"
	"market-watcher/internal/storage"
)

// Deduplicator decides novelty on the (watch id, listing key, price) triple.
type Deduplicator struct {
	store storage.SnapshotStore
}

// New wraps a snapshot store.
func New(store storage.SnapshotStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// IsNew reports whether no snapshot exists for the exact triple.
func (d *Deduplicator) IsNew(ctx context.Context, watchID int64, listingKey string, priceCents int64) (bool, error) {
	_, err := d.store.FindSnapshot(ctx, watchID, listingKey, priceCents)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("find snapshot: %w", err)
	}
	return false, nil
}

// Record stores the snapshot if its triple is unseen. It returns the stored
// snapshot and whether this call created it. A price change on a known
// listing key is a new snapshot.
func (d *Deduplicator) Record(ctx context.Context, snap domain.ListingSnapshot) (domain.ListingSnapshot, bool, error) {
	stored, created, err := d.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return domain.ListingSnapshot{}, false, fmt.Errorf("record snapshot: %w", err)
	}
	return stored, created, nil
}
