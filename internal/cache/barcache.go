// Package-level bar cache: the fastest-path read in the orchestrator's
// layered fetch (spec §4.5 stage 1) and the write-through target once a
// fetch from a slower layer succeeds.
package cache

import (
	"time"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// Defaults per spec §6. cache_ttl_1m_stale is this repo's own addition
// (SPEC_FULL.md Open Question decision): the bucket containing "now"
// gets the long DefaultTTLOneMinuteRecent, while every older bucket gets
// the shorter DefaultTTLOneMinuteStale since it is cheap to rebuild from
// the store.
const (
	DefaultTTLOneMinuteRecent = 24 * time.Hour
	DefaultTTLOneMinuteStale  = time.Hour
	DefaultTTLResample1m      = 60 * time.Second
	DefaultTTLResample1h      = 5 * time.Minute
	DefaultTTLResample1d      = time.Hour
)

// BarCache is the bar-shaped view over a KV, adding bucket addressing,
// dedup-on-write and bar (de)serialization so callers never touch raw bytes.
type BarCache struct {
	kv  KV
	now func() time.Time
}

// NewBarCache wraps kv. If now is nil, time.Now is used.
func NewBarCache(kv KV, now func() time.Time) *BarCache {
	if now == nil {
		now = time.Now
	}
	return &BarCache{kv: kv, now: now}
}

// GetOneMinute returns the cached bars for the hour-bucket containing tsMs.
func (c *BarCache) GetOneMinute(market, provider, symbol string, tsMs int64) ([]bar.Bar, bool) {
	raw, ok := c.kv.Get(OneMinuteKey(market, provider, symbol, tsMs))
	if !ok {
		return nil, false
	}
	bars, err := DecodeBars(raw)
	if err != nil {
		return nil, false
	}
	return bars, true
}

// PutOneMinute merges newBars into whatever is already cached for the
// bucket tsMs falls in and rewrites the bucket, so repeated
// write-throughs within the same hour accumulate instead of clobbering.
func (c *BarCache) PutOneMinute(market, provider, symbol string, tsMs int64, newBars []bar.Bar) {
	key := OneMinuteKey(market, provider, symbol, tsMs)
	existing, _ := c.GetOneMinute(market, provider, symbol, tsMs)
	merged := bar.MergePreferLater(existing, newBars)

	bucketStart := (tsMs / OneMinuteBucketMs) * OneMinuteBucketMs
	ttl := DefaultTTLOneMinuteStale
	if c.now().UnixMilli()-bucketStart < OneMinuteBucketMs {
		ttl = DefaultTTLOneMinuteRecent
	}

	encoded, err := EncodeBars(merged)
	if err != nil {
		return
	}
	c.kv.Set(key, encoded, ttl)
}

// GetResampled returns a cached resample result, if present.
func (c *BarCache) GetResampled(market, provider, symbol, tf string, sinceMs, untilMs int64, limit int) ([]bar.Bar, bool) {
	raw, ok := c.kv.Get(ResampleKey(market, provider, symbol, tf, sinceMs, untilMs, limit))
	if !ok {
		return nil, false
	}
	bars, err := DecodeBars(raw)
	if err != nil {
		return nil, false
	}
	return bars, true
}

// PutResampled caches a resample result with a TTL chosen by timeframe
// granularity: finer timeframes churn faster and get a shorter TTL.
func (c *BarCache) PutResampled(market, provider, symbol, tf string, sinceMs, untilMs int64, limit int, bars []bar.Bar) {
	encoded, err := EncodeBars(bars)
	if err != nil {
		return
	}
	c.kv.Set(ResampleKey(market, provider, symbol, tf, sinceMs, untilMs, limit), encoded, ttlForTimeframe(tf))
}

// InvalidateResampled drops a single cached resample result, used when
// a live update makes a previously cached range stale before its TTL.
func (c *BarCache) InvalidateResampled(market, provider, symbol, tf string, sinceMs, untilMs int64, limit int) {
	c.kv.Del(ResampleKey(market, provider, symbol, tf, sinceMs, untilMs, limit))
}

func ttlForTimeframe(tf string) time.Duration {
	switch {
	case len(tf) == 0:
		return DefaultTTLResample1m
	case tf[len(tf)-1] == 'd' || tf[len(tf)-1] == 'w':
		return DefaultTTLResample1d
	case tf[len(tf)-1] == 'h':
		return DefaultTTLResample1h
	default:
		return DefaultTTLResample1m
	}
}
