package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sentinel-oracle/internal/detector"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertVerdictSQL = `INSERT INTO verdicts (
        asset,
        observed_at,
        price,
        z_score,
        mean,
        std_dev,
        samples,
        is_anomalous,
        severity,
        reason
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (asset, observed_at) DO NOTHING;`

	verdictColumns = `id,
        asset,
        observed_at,
        price,
        z_score,
        mean,
        std_dev,
        samples,
        is_anomalous,
        severity,
        reason,
        created_at`

	listVerdictsBetweenSQL = `SELECT ` + verdictColumns + `
    FROM verdicts
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentVerdictsSQL = `SELECT ` + verdictColumns + `
    FROM verdicts
    WHERE asset = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	insertActionSQL = `INSERT INTO ledger_actions (
        action_id,
        asset,
        kind,
        reason,
        status,
        tx_hash,
        error,
        requested_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentActionsSQL = `SELECT
        id,
        action_id,
        asset,
        kind,
        reason,
        status,
        tx_hash,
        error,
        requested_at,
        created_at
    FROM ledger_actions
    WHERE ($1::text = '' OR asset = $1)
    ORDER BY created_at DESC
    LIMIT $2;`

	deleteVerdictsBeforeSQL = `DELETE FROM verdicts WHERE observed_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// VerdictStore persists classifier outcomes.
type VerdictStore interface {
	InsertVerdict(ctx context.Context, rec VerdictRecord) error
	ListVerdictsBetween(ctx context.Context, asset string, from, to time.Time) ([]VerdictRecord, error)
	ListRecentVerdicts(ctx context.Context, asset string, limit int) ([]VerdictRecord, error)
	DeleteVerdictsBefore(ctx context.Context, olderThan time.Time) error
}

// ActionStore audits ledger dispatches.
type ActionStore interface {
	RecordAction(ctx context.Context, rec ActionRecord) (ActionRecord, error)
	ListRecentActions(ctx context.Context, asset string, limit int) ([]ActionRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to verdicts and ledger actions.
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
		// 解锁失败时连接释放后会话结束，锁随之释放
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

// Publish persists the verdict so the store can act as a status sink.
func (s *Store) Publish(ctx context.Context, v detector.Verdict) error {
	return s.InsertVerdict(ctx, VerdictFromDetector(v))
}

// InsertVerdict persists a verdict; a duplicate (asset, observed_at) is ignored.
func (s *Store) InsertVerdict(ctx context.Context, rec VerdictRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertVerdictSQL,
		rec.Asset,
		rec.ObservedAt,
		rec.Price.String(),
		decimalArg(rec.ZScore),
		decimalArg(rec.Mean),
		decimalArg(rec.StdDev),
		rec.Samples,
		rec.IsAnomalous,
		rec.Severity,
		rec.Reason,
	)
	if execErr != nil {
		return fmt.Errorf("insert verdict: %w", execErr)
	}
	return nil
}

// ListVerdictsBetween lists verdicts for asset within [from, to).
func (s *Store) ListVerdictsBetween(ctx context.Context, asset string, from, to time.Time) ([]VerdictRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listVerdictsBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list verdicts between: %w", queryErr)
	}
	defer rows.Close()

	return collectVerdicts(rows, 0)
}

// ListRecentVerdicts lists the most recent verdicts ordered by descending observation time.
func (s *Store) ListRecentVerdicts(ctx context.Context, asset string, limit int) ([]VerdictRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVerdictsSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent verdicts: %w", queryErr)
	}
	defer rows.Close()

	return collectVerdicts(rows, limit)
}

// DeleteVerdictsBefore deletes historical verdicts.
func (s *Store) DeleteVerdictsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteVerdictsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete verdicts before: %w", execErr)
	}
	return nil
}

// RecordAction persists a ledger dispatch outcome.
func (s *Store) RecordAction(ctx context.Context, rec ActionRecord) (ActionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ActionRecord{}, err
	}

	row := pool.QueryRow(ctx, insertActionSQL,
		rec.ActionID,
		rec.Asset,
		rec.Kind,
		rec.Reason,
		rec.Status,
		rec.TxHash,
		rec.Error,
		rec.RequestedAt,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return ActionRecord{}, fmt.Errorf("insert ledger action: %w", scanErr)
	}
	return rec, nil
}

// ListRecentActions lists the most recent ledger actions; an empty asset lists all.
func (s *Store) ListRecentActions(ctx context.Context, asset string, limit int) ([]ActionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentActionsSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent actions: %w", queryErr)
	}
	defer rows.Close()

	actions := make([]ActionRecord, 0, limit)
	for rows.Next() {
		var (
			rec    ActionRecord
			txHash sql.NullString
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ActionID,
			&rec.Asset,
			&rec.Kind,
			&rec.Reason,
			&rec.Status,
			&txHash,
			&errMsg,
			&rec.RequestedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if txHash.Valid {
			v := txHash.String
			rec.TxHash = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			rec.Error = &v
		}
		actions = append(actions, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return actions, nil
}

func collectVerdicts(rows pgx.Rows, capacity int) ([]VerdictRecord, error) {
	records := make([]VerdictRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanVerdict(rows pgx.Rows) (VerdictRecord, error) {
	var (
		rec       VerdictRecord
		priceStr  string
		zStr      sql.NullString
		meanStr   sql.NullString
		stdDevStr sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Asset,
		&rec.ObservedAt,
		&priceStr,
		&zStr,
		&meanStr,
		&stdDevStr,
		&rec.Samples,
		&rec.IsAnomalous,
		&rec.Severity,
		&rec.Reason,
		&rec.CreatedAt,
	); err != nil {
		return VerdictRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return VerdictRecord{}, fmt.Errorf("parse price: %w", err)
	}
	rec.Price = price

	if rec.ZScore, err = parseNullDecimal(zStr); err != nil {
		return VerdictRecord{}, fmt.Errorf("parse z_score: %w", err)
	}
	if rec.Mean, err = parseNullDecimal(meanStr); err != nil {
		return VerdictRecord{}, fmt.Errorf("parse mean: %w", err)
	}
	if rec.StdDev, err = parseNullDecimal(stdDevStr); err != nil {
		return VerdictRecord{}, fmt.Errorf("parse std_dev: %w", err)
	}
	return rec, nil
}

func parseNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

var (
	_ VerdictStore   = (*Store)(nil)
	_ ActionStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
