// Package orchestrator implements the layered fetch pipeline of spec
// §4.5: cache, materialized aggregate, 1m-store-plus-resample, and
// plugin fetch, each stage writing through to the layers above it so
// the next identical request is answered by a faster layer. Grounded
// on the teacher's internal/data/hot.go read-through-then-backfill
// shape, generalized from "trade data" to "bar data at any timeframe."
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/cache"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/resample"
	"github.com/churst90/accessible-trader-sub001/internal/store"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

// AggregateStalenessWindow bounds how far in the past a request's
// newest bar may be while still worth resampling fresh 1m data instead
// of trusting only the materialized aggregate (spec §4.5 stage 3).
const AggregateStalenessWindow = 2 * time.Hour

// MaxPluginPagesPerCall caps the paging loop's latency (spec §4.5 stage 4).
const MaxPluginPagesPerCall = 20

// Request describes one fetch() call.
type Request struct {
	Market    string
	Provider  string
	Symbol    string
	Timeframe timeframe.Timeframe
	SinceMs   *int64
	UntilMs   *int64
	// Limit is optional: nil means unbounded, a pointed-to 0 means the
	// caller explicitly asked for zero bars (spec §8 boundary behavior).
	Limit  *int
	UserID string
}

func limitValue(l *int) int {
	if l == nil {
		return 0
	}
	return *l
}

// Result is the fetch() outcome: bars plus whether the result is
// incomplete because an upstream stage (typically the plugin) failed or
// plugin paging stopped at MaxPluginPagesPerCall.
type Result struct {
	Bars    []bar.Bar
	Partial bool
}

// Orchestrator ties cache, store and plugin registry together behind
// the single Fetch operation.
type Orchestrator struct {
	cache    *cache.BarCache
	store    store.BarStore
	registry *plugin.Registry
	now      func() time.Time
}

// New builds an Orchestrator. now defaults to time.Now when nil.
func New(c *cache.BarCache, s store.BarStore, r *plugin.Registry, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{cache: c, store: s, registry: r, now: now}
}

// Fetch implements spec §4.5's pipeline end to end.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (Result, error) {
	if req.Timeframe.IsOneMinute() {
		return o.fetchOneMinute(ctx, req)
	}
	return o.fetchAggregateTimeframe(ctx, req)
}

func (o *Orchestrator) fetchOneMinute(ctx context.Context, req Request) (Result, error) {
	since, until := windowBounds(req)
	var collected []bar.Bar
	for ts := bucketFloor(since); ts < until; ts += cache.OneMinuteBucketMs {
		if bars, ok := o.cache.GetOneMinute(req.Market, req.Provider, req.Symbol, ts); ok {
			collected = append(collected, bars...)
		}
	}
	bar.SortAscending(collected)
	collected = bar.DedupKeepLast(collected)
	if coversWindow(collected, since, until) {
		return Result{Bars: project(collected, req)}, nil
	}

	storeBars, err := o.store.FetchOneMinute(ctx, store.Query{Market: req.Market, Provider: req.Provider, Symbol: req.Symbol, SinceMs: &since, UntilMs: &until})
	if err != nil {
		log.Warn().Err(err).Msg("1m store read failed, falling through to plugin")
	} else {
		collected = bar.MergePreferLater(collected, storeBars)
	}

	if coversWindow(collected, since, until) {
		o.writeThroughOneMinute(req, collected)
		return Result{Bars: project(collected, req)}, nil
	}

	pluginBars, partial, err := o.fetchFromPlugin(ctx, req, since, until)
	if err != nil && len(collected) == 0 {
		return Result{}, err
	}
	collected = bar.MergePreferLater(collected, pluginBars)
	o.writeThroughOneMinute(req, collected)

	return Result{Bars: project(collected, req), Partial: partial}, nil
}

func (o *Orchestrator) fetchAggregateTimeframe(ctx context.Context, req Request) (Result, error) {
	tfStr := req.Timeframe.String()
	since, until := windowBounds(req)

	if bars, ok := o.cache.GetResampled(req.Market, req.Provider, req.Symbol, tfStr, since, until, limitValue(req.Limit)); ok {
		return Result{Bars: bars}, nil
	}

	aggBars, err := o.store.FetchAggregate(ctx, store.Query{Market: req.Market, Provider: req.Provider, Symbol: req.Symbol, SinceMs: &since, UntilMs: &until, Limit: limitValue(req.Limit)}, req.Timeframe)
	aggHit := err == nil && coversWindow(aggBars, since, until)
	if err != nil && !store.IsNotMaterialized(err) {
		log.Warn().Err(err).Msg("aggregate read failed, falling through")
	}
	if aggHit {
		o.cache.PutResampled(req.Market, req.Provider, req.Symbol, tfStr, since, until, limitValue(req.Limit), aggBars)
		return Result{Bars: project(aggBars, req)}, nil
	}

	recentEnough := until >= o.now().Add(-AggregateStalenessWindow).UnixMilli() || len(aggBars) == 0
	if recentEnough {
		oneMinReq := req
		oneMinReq.Timeframe = timeframe.OneMinute
		oneMinReq.SinceMs = &since
		oneMinReq.UntilMs = &until
		oneMinReq.Limit = nil

		oneMinResult, err := o.fetchOneMinute(ctx, oneMinReq)
		if err == nil && len(oneMinResult.Bars) > 0 {
			resampler := resample.New()
			resampled := resampler.Resample(oneMinResult.Bars, req.Timeframe)
			out := project(resampled, req)
			o.cache.PutResampled(req.Market, req.Provider, req.Symbol, tfStr, since, until, limitValue(req.Limit), out)
			return Result{Bars: out, Partial: oneMinResult.Partial}, nil
		}
	}

	if len(aggBars) > 0 {
		out := project(aggBars, req)
		o.cache.PutResampled(req.Market, req.Provider, req.Symbol, tfStr, since, until, limitValue(req.Limit), out)
		return Result{Bars: out, Partial: true}, nil
	}
	return Result{}, &store.Error{Code: store.CodeNotMaterialized, Msg: "no aggregate or 1m data available for " + tfStr}
}

// fetchFromPlugin implements the paging loop of spec §4.5 stage 4.
func (o *Orchestrator) fetchFromPlugin(ctx context.Context, req Request, since, until int64) ([]bar.Bar, bool, error) {
	borrowed, err := o.registry.Get(ctx, req.Market, req.Provider, req.UserID, false)
	if err != nil {
		return nil, true, err
	}
	defer borrowed.Release()

	var out []bar.Bar
	cursor := since
	chunkLimit := borrowed.MaxHistoricalPageSize()
	limit := limitValue(req.Limit)
	if limit > 0 && limit < chunkLimit {
		chunkLimit = limit
	}

	for pageNum := 0; ; pageNum++ {
		if pageNum == MaxPluginPagesPerCall {
			return out, true, nil
		}
		page, err := borrowed.FetchHistorical1m(ctx, req.Symbol, cursor, chunkLimit)
		if err != nil {
			if pe, ok := plugin.AsPluginError(err); ok && pe.Temporary() {
				log.Warn().Err(err).Msg("plugin fetch failed transiently, returning partial result")
			} else {
				log.Warn().Err(err).Msg("plugin fetch failed, returning partial result")
			}
			return out, true, nil
		}
		if len(page) == 0 {
			break
		}
		bar.SortAscending(page)
		out = append(out, page...)
		last := page[len(page)-1]
		if last.TsMs+1 <= cursor || last.TsMs >= until {
			break
		}
		cursor = last.TsMs + 1
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, false, nil
}

func (o *Orchestrator) writeThroughOneMinute(req Request, bars []bar.Bar) {
	if len(bars) == 0 {
		return
	}
	if err := o.store.InsertOneMinute(context.Background(), req.Market, req.Provider, req.Symbol, bars); err != nil {
		log.Warn().Err(err).Msg("write-through to store failed")
	}
	byBucket := make(map[int64][]bar.Bar)
	for _, b := range bars {
		bucket := (b.TsMs / cache.OneMinuteBucketMs) * cache.OneMinuteBucketMs
		byBucket[bucket] = append(byBucket[bucket], b)
	}
	for bucket, bucketBars := range byBucket {
		o.cache.PutOneMinute(req.Market, req.Provider, req.Symbol, bucket, bucketBars)
	}
}

func windowBounds(req Request) (int64, int64) {
	since := int64(0)
	if req.SinceMs != nil {
		since = *req.SinceMs
	}
	until := time.Now().UnixMilli()
	if req.UntilMs != nil {
		until = *req.UntilMs
	}
	return since, until
}

func bucketFloor(tsMs int64) int64 {
	return (tsMs / cache.OneMinuteBucketMs) * cache.OneMinuteBucketMs
}

func coversWindow(bars []bar.Bar, since, until int64) bool {
	if len(bars) == 0 {
		return since >= until
	}
	return bars[0].TsMs <= since && bars[len(bars)-1].TsMs >= until-timeframe.OneMinute.Ms()
}

// project applies the since/until/limit rules of spec §4.5 stage 6.
func project(bars []bar.Bar, req Request) []bar.Bar {
	since, until := windowBounds(req)
	out := make([]bar.Bar, 0, len(bars))
	for _, b := range bars {
		if req.SinceMs != nil && b.TsMs < since {
			continue
		}
		if req.UntilMs != nil && b.TsMs >= until {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsMs < out[j].TsMs })

	if req.Limit == nil {
		return out
	}
	limit := *req.Limit
	if limit <= 0 {
		return out[:0]
	}
	if len(out) <= limit {
		return out
	}
	if req.SinceMs == nil && req.UntilMs == nil {
		return out[len(out)-limit:]
	}
	return out[:limit]
}
