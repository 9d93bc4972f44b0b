package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSampleSQL = `INSERT INTO price_samples (
        symbol,
        kind,
        bucket_ts,
        price,
        volume
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (symbol, bucket_ts) DO UPDATE
    SET
        kind   = EXCLUDED.kind,
        price  = EXCLUDED.price,
        volume = EXCLUDED.volume;`

	listPriceSamplesBetweenSQL = `SELECT
        symbol,
        kind,
        bucket_ts,
        price,
        volume,
        created_at
    FROM price_samples
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listSymbolsSQL = `SELECT DISTINCT symbol, kind FROM price_samples ORDER BY symbol;`

	upsertDominanceSampleSQL = `INSERT INTO dominance_samples (
        bucket_ts,
        dominance_pct
    ) VALUES (
        $1,$2
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET dominance_pct = EXCLUDED.dominance_pct;`

	listDominanceBetweenSQL = `SELECT
        bucket_ts,
        dominance_pct,
        created_at
    FROM dominance_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentDominanceSQL = `SELECT
        bucket_ts,
        dominance_pct,
        created_at
    FROM dominance_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countDominanceSQL = `SELECT COUNT(*) FROM dominance_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        rule,
        symbol,
        bucket_ts,
        payload
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (rule, symbol, bucket_ts) DO NOTHING
    RETURNING id, rule, symbol, bucket_ts, payload, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        rule,
        symbol,
        bucket_ts,
        payload,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations for per-asset series persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListPriceSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error)
	ListSymbols(ctx context.Context) (map[string]string, error)
}

// DominanceSampleStore defines operations for BTC.D persistence.
type DominanceSampleStore interface {
	UpsertDominanceSample(ctx context.Context, sample DominanceSample) error
	ListDominanceBetween(ctx context.Context, from, to time.Time) ([]DominanceSample, error)
	ListRecentDominance(ctx context.Context, limit int) ([]DominanceSample, error)
	CountDominanceSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing and database-level dedup.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and alerts.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
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

// UpsertPriceSample persists or updates one price/volume observation.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Symbol,
		sample.Kind,
		sample.Bucket,
		sample.Price.String(),
		sample.Volume.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListPriceSamplesBetween lists one asset's samples within a time window.
func (s *Store) ListPriceSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceSamplesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListSymbols returns every persisted symbol mapped to its kind.
func (s *Store) ListSymbols(ctx context.Context) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSymbolsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list symbols: %w", queryErr)
	}
	defer rows.Close()

	symbols := make(map[string]string)
	for rows.Next() {
		var symbol, kind string
		if err := rows.Scan(&symbol, &kind); err != nil {
			return nil, err
		}
		symbols[symbol] = kind
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return symbols, nil
}

// UpsertDominanceSample persists or updates one BTC.D observation.
func (s *Store) UpsertDominanceSample(ctx context.Context, sample DominanceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertDominanceSampleSQL,
		sample.Bucket,
		sample.DominancePct.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert dominance sample: %w", execErr)
	}
	return nil
}

// ListDominanceBetween lists BTC.D samples within a time window.
func (s *Store) ListDominanceBetween(ctx context.Context, from, to time.Time) ([]DominanceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDominanceBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list dominance between: %w", queryErr)
	}
	defer rows.Close()

	return collectDominance(rows, 0)
}

// ListRecentDominance lists the most recent BTC.D samples, newest first.
func (s *Store) ListRecentDominance(ctx context.Context, limit int) ([]DominanceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDominanceSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent dominance: %w", queryErr)
	}
	defer rows.Close()

	return collectDominance(rows, limit)
}

// CountDominanceSamples counts stored BTC.D samples.
func (s *Store) CountDominanceSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countDominanceSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count dominance samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission. The boolean reports whether a row was
// actually written; a duplicate dedup key leaves the table untouched.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	payload, err := json.Marshal(alert.Payload)
	if err != nil {
		return AlertRecord{}, false, fmt.Errorf("marshal alert payload: %w", err)
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Rule,
		alert.Symbol,
		alert.Bucket,
		payload,
	)

	rec, scanErr := scanAlertRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return AlertRecord{}, false, nil
		}
		return AlertRecord{}, false, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		symbol    string
		kind      string
		bucket    time.Time
		priceStr  string
		volumeStr string
		createdAt time.Time
	)

	if err := rows.Scan(&symbol, &kind, &bucket, &priceStr, &volumeStr, &createdAt); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse volume: %w", err)
	}

	return PriceSample{
		Symbol:    symbol,
		Kind:      kind,
		Bucket:    bucket,
		Price:     price,
		Volume:    volume,
		CreatedAt: createdAt,
	}, nil
}

func collectDominance(rows pgx.Rows, sizeHint int) ([]DominanceSample, error) {
	samples := make([]DominanceSample, 0, sizeHint)
	for rows.Next() {
		var (
			bucket    time.Time
			pctStr    string
			createdAt time.Time
		)
		if err := rows.Scan(&bucket, &pctStr, &createdAt); err != nil {
			return nil, err
		}
		pct, err := decimal.NewFromString(pctStr)
		if err != nil {
			return nil, fmt.Errorf("parse dominance pct: %w", err)
		}
		samples = append(samples, DominanceSample{Bucket: bucket, DominancePct: pct, CreatedAt: createdAt})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanAlertRow(row pgx.Row) (AlertRecord, error) {
	var (
		rec     AlertRecord
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.Rule, &rec.Symbol, &rec.Bucket, &payload, &rec.CreatedAt); err != nil {
		return AlertRecord{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return AlertRecord{}, fmt.Errorf("decode alert payload: %w", err)
		}
	}
	return rec, nil
}
