// Package postgres implements store.BarStore on top of PostgreSQL via
// sqlx and lib/pq, following the teacher's repository pattern
// (internal/persistence/postgres/trades_repo.go): a thin struct
// wrapping *sqlx.DB, context-scoped timeouts, and pq.Error inspection
// for constraint violations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/store"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

// materializedViews maps a canonical timeframe string to the Postgres
// continuous-aggregate view name the deployment is expected to have
// created (spec §6: "aggregates per timeframe {5m, 1h, 1d}").
var materializedViews = map[string]string{
	"5m": "bars_5m",
	"1h": "bars_1h",
	"1d": "bars_1d",
}

// Store is a PostgreSQL-backed store.BarStore.
type Store struct {
	db        *sqlx.DB
	timeout   time.Duration
	batchSize int
}

// New wraps an already-connected *sqlx.DB. batchSize <= 0 uses
// store.DefaultBatchSize.
func New(db *sqlx.DB, timeout time.Duration, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = store.DefaultBatchSize
	}
	return &Store{db: db, timeout: timeout, batchSize: batchSize}
}

type barRow struct {
	TsMs   int64   `db:"ts_ms"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

func (s *Store) InsertOneMinute(ctx context.Context, market, provider, symbol string, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for start := 0; start < len(bars); start += s.batchSize {
		end := start + s.batchSize
		if end > len(bars) {
			end = len(bars)
		}
		if err := s.insertBatch(ctx, market, provider, symbol, bars[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertBatch(ctx context.Context, market, provider, symbol string, batch []bar.Bar) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapTransient("begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO bars_1m (market, provider, symbol, ts_ms, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market, provider, symbol, ts_ms) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return wrapTransient("prepare upsert", err)
	}
	defer stmt.Close()

	for _, b := range batch {
		if _, err := stmt.ExecContext(ctx, market, provider, symbol, b.TsMs, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return &store.Error{Code: store.CodeCorrupt, Msg: fmt.Sprintf("pq error %s on upsert", pqErr.Code), Cause: err}
			}
			return wrapTransient("upsert bar", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapTransient("commit", err)
	}
	return nil
}

func (s *Store) FetchOneMinute(ctx context.Context, q store.Query) ([]bar.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ts_ms, open, high, low, close, volume FROM bars_1m
		WHERE market = $1 AND provider = $2 AND symbol = $3`
	args := []interface{}{q.Market, q.Provider, q.Symbol}

	if q.SinceMs != nil {
		args = append(args, *q.SinceMs)
		query += fmt.Sprintf(" AND ts_ms >= $%d", len(args))
	}
	if q.UntilMs != nil {
		args = append(args, *q.UntilMs)
		query += fmt.Sprintf(" AND ts_ms < $%d", len(args))
	}
	query += " ORDER BY ts_ms ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapTransient("fetch 1m bars", err)
	}
	return rowsToBars(rows), nil
}

func (s *Store) FetchAggregate(ctx context.Context, q store.Query, tf timeframe.Timeframe) ([]bar.Bar, error) {
	view, ok := materializedViews[tf.String()]
	if !ok {
		return nil, &store.Error{Code: store.CodeNotMaterialized, Msg: fmt.Sprintf("no view for %s", tf)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT ts_ms, open, high, low, close, volume FROM %s
		WHERE market = $1 AND provider = $2 AND symbol = $3`, view)
	args := []interface{}{q.Market, q.Provider, q.Symbol}

	if q.SinceMs != nil {
		args = append(args, *q.SinceMs)
		query += fmt.Sprintf(" AND ts_ms >= $%d", len(args))
	}
	if q.UntilMs != nil {
		args = append(args, *q.UntilMs)
		query += fmt.Sprintf(" AND ts_ms < $%d", len(args))
	}
	query += " ORDER BY ts_ms ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapTransient("fetch aggregate", err)
	}
	return rowsToBars(rows), nil
}

func (s *Store) FindMissingOneMinuteRanges(ctx context.Context, market, provider, symbol string, earliestMs, latestMs int64) ([]store.Range, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var existing []int64
	query := `SELECT ts_ms FROM bars_1m WHERE market = $1 AND provider = $2 AND symbol = $3
		AND ts_ms >= $4 AND ts_ms <= $5 ORDER BY ts_ms ASC`
	if err := s.db.SelectContext(ctx, &existing, query, market, provider, symbol, earliestMs, latestMs); err != nil {
		return nil, wrapTransient("scan existing ts_ms", err)
	}
	return store.FindGaps(existing, earliestMs, latestMs), nil
}

func wrapTransient(msg string, err error) error {
	log.Warn().Err(err).Str("op", msg).Msg("store operation failed, treating as transient")
	return &store.Error{Code: store.CodeUnavailable, Msg: msg, Cause: err}
}

func rowsToBars(rows []barRow) []bar.Bar {
	out := make([]bar.Bar, len(rows))
	for i, r := range rows {
		out[i] = bar.Bar{TsMs: r.TsMs, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out
}
