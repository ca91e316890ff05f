// Package backfill implements the gap-filling coordinator of spec
// §4.6: per-asset serialization, a global concurrency cap on outbound
// plugin calls, newest-first gap processing, and bounded work per run.
// Grounded on the teacher's lock-striped mutex-map pattern used across
// internal/provider for per-venue serialization, generalized to
// per-(provider,symbol) asset keys.
package backfill

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/store"
)

// State is the backfill task's state machine (spec §4.6).
type State string

const (
	StateIdle      State = "Idle"
	StatePlanning  State = "Planning"
	StateFetching  State = "Fetching"
	StateThrottled State = "Throttled"
	StateDone      State = "Done"
	StateFailed    State = "Failed"
)

// Config holds the coordinator's tuning (spec §6 defaults).
type Config struct {
	DefaultBackfillPeriod time.Duration
	MaxChunksPerRun       int
	ChunkDelay            time.Duration
	MaxConcurrentAPI      int
}

func DefaultConfig() Config {
	return Config{
		DefaultBackfillPeriod: 30 * 24 * time.Hour,
		MaxChunksPerRun:       100,
		ChunkDelay:            1500 * time.Millisecond,
		MaxConcurrentAPI:      10,
	}
}

type assetKey struct {
	provider, symbol string
}

// Coordinator runs backfill tasks for assets, grounded on a
// plugin.Registry for historical fetches and a store.BarStore for gap
// discovery and persistence.
type Coordinator struct {
	cfg      Config
	registry *plugin.Registry
	store    store.BarStore

	assetMu sync.Map // assetKey -> *sync.Mutex
	sem     chan struct{}
	now     func() time.Time
}

// New builds a Coordinator.
func New(cfg Config, registry *plugin.Registry, s store.BarStore, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		store:    s,
		sem:      make(chan struct{}, cfg.MaxConcurrentAPI),
		now:      now,
	}
}

// Run executes one backfill pass for (market, provider, symbol).
// Concurrent Runs for the same (provider, symbol) serialize; Runs for
// different assets proceed in parallel, gated by the shared semaphore.
func (c *Coordinator) Run(ctx context.Context, market, provider, symbol string) (State, error) {
	lockIface, _ := c.assetMu.LoadOrStore(assetKey{provider, symbol}, &sync.Mutex{})
	mu := lockIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	state := StatePlanning
	log.Info().Str("provider", provider).Str("symbol", symbol).Str("state", string(state)).Msg("backfill transition")

	nowMs := c.now().UnixMilli()
	targetOldestMs := nowMs - c.cfg.DefaultBackfillPeriod.Milliseconds()

	gaps, err := c.store.FindMissingOneMinuteRanges(ctx, market, provider, symbol, targetOldestMs, nowMs)
	if err != nil {
		return c.transitionFailed(provider, symbol, err)
	}
	if len(gaps) == 0 {
		return c.transitionDone(provider, symbol)
	}

	reverseNewestFirst(gaps)

	state = StateFetching
	log.Info().Str("provider", provider).Str("symbol", symbol).Str("state", string(state)).Int("gap_count", len(gaps)).Msg("backfill transition")

	chunksUsed := 0
	for _, gap := range gaps {
		if chunksUsed >= c.cfg.MaxChunksPerRun {
			log.Info().Str("provider", provider).Str("symbol", symbol).Msg("backfill run reached max chunks, deferring remaining work")
			break
		}
		used, err := c.fillGap(ctx, market, provider, symbol, gap, c.cfg.MaxChunksPerRun-chunksUsed)
		chunksUsed += used
		if err != nil {
			if errors.Is(err, errAuthAbort) {
				return c.transitionFailed(provider, symbol, err)
			}
			log.Warn().Err(err).Str("provider", provider).Str("symbol", symbol).Msg("gap fill encountered an error, continuing to next gap")
		}
	}

	return c.transitionDone(provider, symbol)
}

var errAuthAbort = errors.New("backfill: plugin auth error, aborting task")

// fillGap fetches backward from gap.EndMs toward gap.StartMs in
// plugin-sized chunks, returning the number of chunks it consumed.
func (c *Coordinator) fillGap(ctx context.Context, market, provider, symbol string, gap store.Range, chunkBudget int) (int, error) {
	borrowed, err := c.registry.Get(ctx, market, provider, "", false)
	if err != nil {
		return 0, err
	}
	defer borrowed.Release()

	currentEnd := gap.EndMs
	chunksUsed := 0

	for currentEnd >= gap.StartMs && chunksUsed < chunkBudget {
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return chunksUsed, ctx.Err()
		}

		cursor := currentEnd - int64(borrowed.MaxHistoricalPageSize()-1)*60_000
		if cursor < gap.StartMs {
			cursor = gap.StartMs
		}

		bars, err := c.fetchWithRetry(ctx, borrowed, symbol, cursor, borrowed.MaxHistoricalPageSize())
		<-c.sem
		chunksUsed++

		if err != nil {
			if pe, ok := plugin.AsPluginError(err); ok && pe.Code == plugin.CodeAuth {
				return chunksUsed, errAuthAbort
			}
			return chunksUsed, err
		}
		if len(bars) == 0 {
			// Provider has no older data for this cursor; the rest of
			// the gap is unavailable (spec §4.6 termination rule).
			break
		}

		filtered := filterRange(bars, gap.StartMs, currentEnd)
		if len(filtered) > 0 {
			if err := c.store.InsertOneMinute(ctx, market, provider, symbol, filtered); err != nil {
				log.Warn().Err(err).Msg("backfill insert failed")
			}
		}

		bar.SortAscending(bars)
		currentEnd = bars[0].TsMs - 60_000

		time.Sleep(c.cfg.ChunkDelay)
	}
	return chunksUsed, nil
}

// fetchWithRetry retries PluginNetworkError up to 3 times with
// exponential backoff and obeys PluginRateLimited's retry-after hint
// (spec §4.6).
func (c *Coordinator) fetchWithRetry(ctx context.Context, p plugin.Historical, symbol string, sinceMs int64, limit int) ([]bar.Bar, error) {
	const maxRetries = 3
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		bars, err := p.FetchHistorical1m(ctx, symbol, sinceMs, limit)
		if err == nil {
			return bars, nil
		}
		pe, ok := plugin.AsPluginError(err)
		if !ok {
			return nil, err
		}
		switch pe.Code {
		case plugin.CodeRateLimited:
			wait := pe.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case plugin.CodeNetwork:
			if attempt >= maxRetries {
				return nil, err
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		default:
			return nil, err
		}
	}
}

func (c *Coordinator) transitionDone(provider, symbol string) (State, error) {
	log.Info().Str("provider", provider).Str("symbol", symbol).Str("state", string(StateDone)).Msg("backfill transition")
	return StateDone, nil
}

func (c *Coordinator) transitionFailed(provider, symbol string, err error) (State, error) {
	log.Warn().Err(err).Str("provider", provider).Str("symbol", symbol).Str("state", string(StateFailed)).Msg("backfill transition")
	return StateFailed, err
}

func reverseNewestFirst(gaps []store.Range) {
	// FindGaps returns ranges in ascending order; reverse in place so
	// the coordinator fills recent history before older history.
	for i, j := 0, len(gaps)-1; i < j; i, j = i+1, j-1 {
		gaps[i], gaps[j] = gaps[j], gaps[i]
	}
}

func filterRange(bars []bar.Bar, startMs, endMs int64) []bar.Bar {
	out := make([]bar.Bar, 0, len(bars))
	for _, b := range bars {
		if b.TsMs >= startMs && b.TsMs <= endMs {
			out = append(out, b)
		}
	}
	return out
}
