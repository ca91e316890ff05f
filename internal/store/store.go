// Package store defines the persistent 1m bar store contract (spec
// §4.2): idempotent upserts, ranged reads, materialized-aggregate
// reads, and gap discovery for the backfill coordinator.
package store

import (
	"context"
	"fmt"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

// DefaultBatchSize is the default insert_1m batch size (spec §4.2).
const DefaultBatchSize = 1000

// Query bounds a read from the store. Since is inclusive, Until is
// exclusive (spec §4.5 projection rule also applies here).
type Query struct {
	Market   string
	Provider string
	Symbol   string
	SinceMs  *int64
	UntilMs  *int64
	Limit    int
}

// Range is a closed interval [StartMs, EndMs] of missing 1m ts_ms values.
type Range struct {
	StartMs int64
	EndMs   int64
}

// Code identifies a store failure mode from the spec §4.2/§7 taxonomy.
type Code string

const (
	// CodeUnavailable is transient; writers retry with backoff, readers
	// do not auto-retry (caller policy, spec §4.2).
	CodeUnavailable Code = "StoreUnavailable"
	// CodeCorrupt is fatal and surfaces up unchanged.
	CodeCorrupt Code = "StoreCorrupt"
	// CodeNotMaterialized is the FetchAggregate sentinel for a
	// timeframe without a materialized view.
	CodeNotMaterialized Code = "NotMaterialized"
)

// Error wraps a store failure with its taxonomy code.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("store: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsNotMaterialized reports whether err is the NotMaterialized sentinel.
func IsNotMaterialized(err error) bool {
	var se *Error
	if e, ok := err.(*Error); ok {
		se = e
	}
	return se != nil && se.Code == CodeNotMaterialized
}

// BarStore is the persistent 1m bar store plus pre-materialized
// coarser-timeframe views.
type BarStore interface {
	// InsertOneMinute idempotently upserts bars on the primary key
	// (market, provider, symbol, ts_ms), batched at DefaultBatchSize.
	InsertOneMinute(ctx context.Context, market, provider, symbol string, bars []bar.Bar) error

	// FetchOneMinute returns 1m bars ordered ascending, half-open on Until.
	FetchOneMinute(ctx context.Context, q Query) ([]bar.Bar, error)

	// FetchAggregate queries a pre-materialized view for tf. Returns a
	// *Error with Code == CodeNotMaterialized if the deployment has not
	// created a view for tf; the caller falls back to resampling 1m bars.
	FetchAggregate(ctx context.Context, q Query, tf timeframe.Timeframe) ([]bar.Bar, error)

	// FindMissingOneMinuteRanges returns contiguous gaps (inclusive of
	// both endpoints, 1m granularity) in [earliestMs, latestMs] where no
	// row exists, sorted ascending and non-overlapping.
	FindMissingOneMinuteRanges(ctx context.Context, market, provider, symbol string, earliestMs, latestMs int64) ([]Range, error)
}
