// Package memstore is an in-memory store.BarStore used by tests; the
// engine binary always uses the Postgres store. It implements the same upsert,
// range-read and gap-discovery contract as the Postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/store"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

type assetKey struct {
	market, provider, symbol string
}

// Store is a mutex-guarded map-of-maps BarStore.
type Store struct {
	mu   sync.RWMutex
	bars map[assetKey]map[int64]bar.Bar
	agg  map[assetKey]map[string]map[int64]bar.Bar
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		bars: make(map[assetKey]map[int64]bar.Bar),
		agg:  make(map[assetKey]map[string]map[int64]bar.Bar),
	}
}

func (s *Store) InsertOneMinute(_ context.Context, market, provider, symbol string, bars []bar.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assetKey{market, provider, symbol}
	m, ok := s.bars[key]
	if !ok {
		m = make(map[int64]bar.Bar)
		s.bars[key] = m
	}
	for _, b := range bars {
		m[b.TsMs] = b
	}
	return nil
}

// SeedAggregate lets tests pre-populate a materialized view for tf.
func (s *Store) SeedAggregate(market, provider, symbol string, tf timeframe.Timeframe, bars []bar.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assetKey{market, provider, symbol}
	byTf, ok := s.agg[key]
	if !ok {
		byTf = make(map[string]map[int64]bar.Bar)
		s.agg[key] = byTf
	}
	m := make(map[int64]bar.Bar, len(bars))
	for _, b := range bars {
		m[b.TsMs] = b
	}
	byTf[tf.String()] = m
}

func (s *Store) FetchOneMinute(_ context.Context, q store.Query) ([]bar.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.bars[assetKey{q.Market, q.Provider, q.Symbol}]
	return filterSortLimit(m, q), nil
}

func (s *Store) FetchAggregate(_ context.Context, q store.Query, tf timeframe.Timeframe) ([]bar.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTf, ok := s.agg[assetKey{q.Market, q.Provider, q.Symbol}]
	if !ok {
		return nil, &store.Error{Code: store.CodeNotMaterialized, Msg: "no view for " + tf.String()}
	}
	m, ok := byTf[tf.String()]
	if !ok {
		return nil, &store.Error{Code: store.CodeNotMaterialized, Msg: "no view for " + tf.String()}
	}
	return filterSortLimit(m, q), nil
}

func (s *Store) FindMissingOneMinuteRanges(_ context.Context, market, provider, symbol string, earliestMs, latestMs int64) ([]store.Range, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.bars[assetKey{market, provider, symbol}]
	existing := make([]int64, 0, len(m))
	for ts := range m {
		if ts >= earliestMs && ts <= latestMs {
			existing = append(existing, ts)
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })
	return store.FindGaps(existing, earliestMs, latestMs), nil
}

func filterSortLimit(m map[int64]bar.Bar, q store.Query) []bar.Bar {
	out := make([]bar.Bar, 0, len(m))
	for _, b := range m {
		if q.SinceMs != nil && b.TsMs < *q.SinceMs {
			continue
		}
		if q.UntilMs != nil && b.TsMs >= *q.UntilMs {
			continue
		}
		out = append(out, b)
	}
	bar.SortAscending(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
