// Package resample aggregates a 1m bar stream into any coarser
// timeframe (spec §4.1).
package resample

import (
	"time"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

// Clock returns the current wall-clock time; overridable in tests so
// partial-bucket behavior is deterministic.
type Clock func() time.Time

// Resampler aggregates ascending, deduped 1m bars into coarser buckets.
type Resampler struct {
	now Clock
}

// New creates a Resampler using the real wall clock.
func New() *Resampler {
	return &Resampler{now: time.Now}
}

// NewWithClock creates a Resampler with an injected clock, for tests.
func NewWithClock(now Clock) *Resampler {
	return &Resampler{now: now}
}

// Resample groups 1m bars into tf buckets and emits one OHLCV bar per
// group using the aggregation rules in spec §3. Input must already be
// sorted ascending by TsMs; duplicate timestamps are deduped keeping
// the last. The most recent output bucket is emitted even if it has
// not closed yet (partial) — callers mark staleness themselves.
func (r *Resampler) Resample(bars1m []bar.Bar, tf timeframe.Timeframe) []bar.Bar {
	if len(bars1m) == 0 {
		return nil
	}
	deduped := bar.DedupKeepLast(bars1m)

	out := make([]bar.Bar, 0, len(deduped)/int(tf.Multiplier)+1)
	var current bar.Bar
	var bucketStart int64 = -1

	flush := func() {
		if bucketStart >= 0 {
			out = append(out, current)
		}
	}

	for _, b := range deduped {
		start := timeframe.BucketStart(b.TsMs, tf)
		if start != bucketStart {
			flush()
			bucketStart = start
			current = bar.Bar{
				TsMs:   start,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			continue
		}
		if b.High > current.High {
			current.High = b.High
		}
		if b.Low < current.Low {
			current.Low = b.Low
		}
		current.Close = b.Close
		current.Volume += b.Volume
	}
	flush()

	return out
}

// IsClosed reports whether the bucket starting at tsMs for tf has
// already ended relative to now.
func (r *Resampler) IsClosed(tsMs int64, tf timeframe.Timeframe) bool {
	groupEnd := tsMs + tf.Ms()
	return r.now().UnixMilli() >= groupEnd
}
