package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-watcher/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listWatchesSQL = `SELECT id, appid, market_hash_name, url, currency_id, rules, created_at
    FROM watchlist
    ORDER BY id;`

	getWatchSQL = `SELECT id, appid, market_hash_name, url, currency_id, rules, created_at
    FROM watchlist
    WHERE id = $1;`

	insertWatchSQL = `INSERT INTO watchlist (appid, market_hash_name, url, currency_id, rules)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id, created_at;`

	deleteWatchSQL = `DELETE FROM watchlist WHERE id = $1;`

	snapshotColumns = `id, watch_id, listing_key, price_cents, listing_url, inspect_url,
        raw, verification, alerted, rejected, scraped_at`

	findSnapshotSQL = `SELECT ` + snapshotColumns + `
    FROM listing_snapshot
    WHERE watch_id = $1 AND listing_key = $2 AND price_cents = $3;`

	insertSnapshotSQL = `INSERT INTO listing_snapshot (
        watch_id,
        listing_key,
        price_cents,
        listing_url,
        inspect_url,
        raw,
        scraped_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (watch_id, listing_key, price_cents) DO NOTHING
    RETURNING id;`

	updateSnapshotSQL = `UPDATE listing_snapshot
    SET verification = $2,
        alerted      = $3,
        rejected     = $4
    WHERE id = $1;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM listing_snapshot
    WHERE ($1::bigint = 0 OR watch_id = $1::bigint)
    ORDER BY scraped_at DESC, id DESC
    LIMIT $2;`

	listSnapshotPricesSQL = `SELECT scraped_at, price_cents, alerted
    FROM listing_snapshot
    WHERE watch_id = $1
      AND scraped_at >= $2
      AND scraped_at < $3
    ORDER BY scraped_at
    LIMIT NULLIF($4::int, 0);`

	findVerificationSQL = `SELECT inspect_url, result, last_inspected, watch_id
    FROM inspect_history
    WHERE inspect_url = $1;`

	upsertVerificationSQL = `INSERT INTO inspect_history (inspect_url, result, last_inspected, watch_id)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (inspect_url) DO UPDATE
    SET result         = EXCLUDED.result,
        last_inspected = EXCLUDED.last_inspected,
        watch_id       = EXCLUDED.watch_id;`

	markSnapshotAlertedSQL = `UPDATE listing_snapshot SET alerted = TRUE WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        snapshot_id,
        delivery_id,
        message,
        verification,
        sent_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (snapshot_id) DO UPDATE
    SET snapshot_id = EXCLUDED.snapshot_id
    RETURNING id, sent_at;`

	listRecentAlertsSQL = `SELECT
        a.id,
        a.snapshot_id,
        a.delivery_id,
        a.message,
        a.verification,
        a.sent_at,
        s.watch_id,
        w.market_hash_name,
        s.price_cents,
        s.listing_url
    FROM alerts a
    JOIN listing_snapshot s ON s.id = a.snapshot_id
    JOIN watchlist w ON w.id = s.watch_id
    ORDER BY a.sent_at DESC
    LIMIT $1;`

	workerEnabledSQL = `SELECT enabled FROM worker_settings WHERE id = 1;`

	setWorkerEnabledSQL = `INSERT INTO worker_settings (id, enabled, updated_at)
    VALUES (1, $1, NOW())
    ON CONFLICT (id) DO UPDATE
    SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListWatches returns every watch ordered by id.
func (s *Store) ListWatches(ctx context.Context) ([]domain.Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWatchesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list watches: %w", queryErr)
	}
	defer rows.Close()

	watches := make([]domain.Watch, 0)
	for rows.Next() {
		watch, scanErr := scanWatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		watches = append(watches, watch)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return watches, nil
}

// GetWatch loads one watch.
func (s *Store) GetWatch(ctx context.Context, id int64) (domain.Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Watch{}, err
	}
	watch, scanErr := scanWatch(pool.QueryRow(ctx, getWatchSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.Watch{}, fmt.Errorf("watch %d: %w", id, domain.ErrNotFound)
	}
	if scanErr != nil {
		return domain.Watch{}, fmt.Errorf("get watch: %w", scanErr)
	}
	return watch, nil
}

// CreateWatch inserts a watch and returns it with its id.
func (s *Store) CreateWatch(ctx context.Context, watch domain.Watch) (domain.Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Watch{}, err
	}

	rules, err := json.Marshal(watch.Rules)
	if err != nil {
		return domain.Watch{}, fmt.Errorf("encode rules: %w", err)
	}

	if scanErr := pool.QueryRow(ctx, insertWatchSQL,
		watch.AppID,
		watch.MarketHashName,
		watch.URL,
		watch.CurrencyID,
		rules,
	).Scan(&watch.ID, &watch.CreatedAt); scanErr != nil {
		return domain.Watch{}, fmt.Errorf("insert watch: %w", scanErr)
	}
	return watch, nil
}

// DeleteWatch removes a watch and, by cascade, its snapshots and alerts.
func (s *Store) DeleteWatch(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteWatchSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete watch: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("watch %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// FindSnapshot looks up the snapshot for an exact (watch, key, price) triple.
func (s *Store) FindSnapshot(ctx context.Context, watchID int64, listingKey string, priceCents int64) (domain.ListingSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.ListingSnapshot{}, err
	}
	snap, scanErr := scanSnapshot(pool.QueryRow(ctx, findSnapshotSQL, watchID, listingKey, priceCents))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.ListingSnapshot{}, domain.ErrNotFound
	}
	if scanErr != nil {
		return domain.ListingSnapshot{}, fmt.Errorf("find snapshot: %w", scanErr)
	}
	return snap, nil
}

// InsertSnapshot inserts the snapshot unless its triple already exists.
func (s *Store) InsertSnapshot(ctx context.Context, snap domain.ListingSnapshot) (domain.ListingSnapshot, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.ListingSnapshot{}, false, err
	}

	raw, err := json.Marshal(nonNilRaw(snap.Raw))
	if err != nil {
		return domain.ListingSnapshot{}, false, fmt.Errorf("encode raw: %w", err)
	}
	if snap.ScrapedAt.IsZero() {
		snap.ScrapedAt = time.Now().UTC()
	}

	scanErr := pool.QueryRow(ctx, insertSnapshotSQL,
		snap.WatchID,
		snap.ListingKey,
		snap.PriceCents,
		snap.ListingURL,
		snap.InspectURL,
		raw,
		snap.ScrapedAt,
	).Scan(&snap.ID)
	if scanErr == nil {
		return snap, true, nil
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.ListingSnapshot{}, false, fmt.Errorf("insert snapshot: %w", scanErr)
	}

	existing, err := s.FindSnapshot(ctx, snap.WatchID, snap.ListingKey, snap.PriceCents)
	if err != nil {
		return domain.ListingSnapshot{}, false, err
	}
	return existing, false, nil
}

// UpdateSnapshot persists the mutable fields of a snapshot.
func (s *Store) UpdateSnapshot(ctx context.Context, snap domain.ListingSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var verification []byte
	if snap.Verification != nil {
		if verification, err = json.Marshal(snap.Verification); err != nil {
			return fmt.Errorf("encode verification: %w", err)
		}
	}

	cmdTag, execErr := pool.Exec(ctx, updateSnapshotSQL, snap.ID, verification, snap.Alerted, snap.Rejected)
	if execErr != nil {
		return fmt.Errorf("update snapshot: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %d: %w", snap.ID, domain.ErrNotFound)
	}
	return nil
}

// ListRecentSnapshots lists the newest snapshots; watchID 0 means all watches.
func (s *Store) ListRecentSnapshots(ctx context.Context, watchID int64, limit int) ([]domain.ListingSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, watchID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]domain.ListingSnapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// ListSnapshotPrices returns the price history of a watch within [from, to).
// A zero limit returns every point.
func (s *Store) ListSnapshotPrices(ctx context.Context, watchID int64, from, to time.Time, limit int) ([]domain.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotPricesSQL, watchID, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshot prices: %w", queryErr)
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0)
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.At, &p.PriceCents, &p.Alerted); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// FindVerification returns the cached verification for an inspect URL.
func (s *Store) FindVerification(ctx context.Context, inspectURL string) (domain.VerificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.VerificationRecord{}, err
	}

	var (
		rec    domain.VerificationRecord
		result []byte
	)
	scanErr := pool.QueryRow(ctx, findVerificationSQL, inspectURL).Scan(
		&rec.InspectURL,
		&result,
		&rec.LastInspected,
		&rec.WatchID,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.VerificationRecord{}, domain.ErrNotFound
	}
	if scanErr != nil {
		return domain.VerificationRecord{}, fmt.Errorf("find verification: %w", scanErr)
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return domain.VerificationRecord{}, fmt.Errorf("decode verification: %w", err)
	}
	return rec, nil
}

// UpsertVerification stores or refreshes a verification record.
func (s *Store) UpsertVerification(ctx context.Context, rec domain.VerificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode verification: %w", err)
	}
	if rec.LastInspected.IsZero() {
		rec.LastInspected = time.Now().UTC()
	}

	if _, execErr := pool.Exec(ctx, upsertVerificationSQL, rec.InspectURL, result, rec.LastInspected, rec.WatchID); execErr != nil {
		return fmt.Errorf("upsert verification: %w", execErr)
	}
	return nil
}

// RecordAlert marks the snapshot alerted and appends the alert in one
// transaction. Re-recording the same snapshot returns the existing alert.
func (s *Store) RecordAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, err
	}

	verification, err := json.Marshal(alert.Verification)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("encode verification: %w", err)
	}
	if alert.SentAt.IsZero() {
		alert.SentAt = time.Now().UTC()
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		cmdTag, execErr := tx.Exec(ctx, markSnapshotAlertedSQL, alert.SnapshotID)
		if execErr != nil {
			return fmt.Errorf("mark snapshot alerted: %w", execErr)
		}
		if cmdTag.RowsAffected() == 0 {
			return fmt.Errorf("snapshot %d: %w", alert.SnapshotID, domain.ErrNotFound)
		}
		if scanErr := tx.QueryRow(ctx, insertAlertSQL,
			alert.SnapshotID,
			alert.DeliveryID,
			alert.Message,
			verification,
			alert.SentAt,
		).Scan(&alert.ID, &alert.SentAt); scanErr != nil {
			return fmt.Errorf("insert alert: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertView, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertView, 0, limit)
	for rows.Next() {
		var (
			view         AlertView
			verification []byte
		)
		if err := rows.Scan(
			&view.ID,
			&view.SnapshotID,
			&view.DeliveryID,
			&view.Message,
			&verification,
			&view.SentAt,
			&view.WatchID,
			&view.MarketHashName,
			&view.PriceCents,
			&view.ListingURL,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(verification, &view.Verification); err != nil {
			return nil, fmt.Errorf("decode alert verification: %w", err)
		}
		alerts = append(alerts, view)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// WorkerEnabled reports the pause/resume switch; a missing row means enabled.
func (s *Store) WorkerEnabled(ctx context.Context) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var enabled bool
	scanErr := pool.QueryRow(ctx, workerEnabledSQL).Scan(&enabled)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return true, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("read worker settings: %w", scanErr)
	}
	return enabled, nil
}

// SetWorkerEnabled flips the pause/resume switch.
func (s *Store) SetWorkerEnabled(ctx context.Context, enabled bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setWorkerEnabledSQL, enabled); execErr != nil {
		return fmt.Errorf("update worker settings: %w", execErr)
	}
	return nil
}

func scanWatch(row pgx.Row) (domain.Watch, error) {
	var (
		watch domain.Watch
		rules []byte
	)
	if err := row.Scan(
		&watch.ID,
		&watch.AppID,
		&watch.MarketHashName,
		&watch.URL,
		&watch.CurrencyID,
		&rules,
		&watch.CreatedAt,
	); err != nil {
		return domain.Watch{}, err
	}
	if err := json.Unmarshal(rules, &watch.Rules); err != nil {
		return domain.Watch{}, fmt.Errorf("decode rules for watch %d: %w", watch.ID, err)
	}
	return watch, nil
}

func scanSnapshot(row pgx.Row) (domain.ListingSnapshot, error) {
	var (
		snap         domain.ListingSnapshot
		raw          []byte
		verification []byte
	)
	if err := row.Scan(
		&snap.ID,
		&snap.WatchID,
		&snap.ListingKey,
		&snap.PriceCents,
		&snap.ListingURL,
		&snap.InspectURL,
		&raw,
		&verification,
		&snap.Alerted,
		&snap.Rejected,
		&snap.ScrapedAt,
	); err != nil {
		return domain.ListingSnapshot{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &snap.Raw); err != nil {
			return domain.ListingSnapshot{}, fmt.Errorf("decode raw for snapshot %d: %w", snap.ID, err)
		}
	}
	if len(verification) > 0 {
		snap.Verification = &domain.VerificationResult{}
		if err := json.Unmarshal(verification, snap.Verification); err != nil {
			return domain.ListingSnapshot{}, fmt.Errorf("decode verification for snapshot %d: %w", snap.ID, err)
		}
	}
	return snap, nil
}

func nonNilRaw(raw map[string]string) map[string]string {
	if raw == nil {
		return map[string]string{}
	}
	return raw
}

var _ Repository = (*Store)(nil)
