package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/store/memstore"
)

type gapFillerPlugin struct {
	minTsMs     int64
	maxPageSize int
}

func (g *gapFillerPlugin) PluginKey() string                  { return "fake" }
func (g *gapFillerPlugin) SupportedMarkets() []string          { return []string{"crypto"} }
func (g *gapFillerPlugin) ListConfigurableProviders() []string { return []string{"fake"} }
func (g *gapFillerPlugin) Close() error                        { return nil }
func (g *gapFillerPlugin) GetSymbols(context.Context, string) ([]string, error) { return nil, nil }
func (g *gapFillerPlugin) GetInstrumentDetails(context.Context, string) (plugin.InstrumentDetails, error) {
	return plugin.InstrumentDetails{}, nil
}
func (g *gapFillerPlugin) MaxHistoricalPageSize() int {
	if g.maxPageSize > 0 {
		return g.maxPageSize
	}
	return 10
}
func (g *gapFillerPlugin) FetchHistorical1m(_ context.Context, _ string, sinceMs int64, limit int) ([]bar.Bar, error) {
	if sinceMs < g.minTsMs {
		sinceMs = g.minTsMs
	}
	var out []bar.Bar
	for ts := sinceMs; len(out) < limit; ts += 60_000 {
		out = append(out, bar.Bar{TsMs: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	return out, nil
}
func (g *gapFillerPlugin) SupportsNativePush(plugin.StreamType) bool { return false }
func (g *gapFillerPlugin) Watch(context.Context, string, plugin.StreamType) (<-chan plugin.Payload, error) {
	ch := make(chan plugin.Payload)
	close(ch)
	return ch, nil
}

func TestCoordinator_Run_FillsGapAndReachesDone(t *testing.T) {
	s := memstore.New()
	s.InsertOneMinute(context.Background(), "crypto", "fake", "BTC/USDT", []bar.Bar{{TsMs: 0}})

	fp := &gapFillerPlugin{minTsMs: 0, maxPageSize: 5}
	reg := plugin.New(plugin.DefaultConfig(), plugin.AnonymousResolver, []plugin.Identity{fp},
		map[string]plugin.Factory{"fake": func(string, *plugin.Credentials, bool) (plugin.Plugin, error) { return fp, nil }},
		map[string]string{"crypto": "fake"})
	defer reg.Close()

	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	cfg.DefaultBackfillPeriod = 10 * time.Minute
	now := func() time.Time { return time.UnixMilli(9 * 60_000) }
	c := New(cfg, reg, s, now)

	state, err := c.Run(context.Background(), "crypto", "fake", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	gaps, err := s.FindMissingOneMinuteRanges(context.Background(), "crypto", "fake", "BTC/USDT", 0, 9*60_000)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestCoordinator_Run_NoGapsIsDoneImmediately(t *testing.T) {
	s := memstore.New()
	var bars []bar.Bar
	for ts := int64(0); ts <= 10*60_000; ts += 60_000 {
		bars = append(bars, bar.Bar{TsMs: ts})
	}
	s.InsertOneMinute(context.Background(), "crypto", "fake", "BTC/USDT", bars)

	reg := plugin.New(plugin.DefaultConfig(), plugin.AnonymousResolver, nil, map[string]plugin.Factory{}, map[string]string{})
	defer reg.Close()

	cfg := DefaultConfig()
	cfg.DefaultBackfillPeriod = 10 * time.Minute
	c := New(cfg, reg, s, func() time.Time { return time.UnixMilli(10 * 60_000) })

	state, err := c.Run(context.Background(), "crypto", "fake", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
}

func TestCoordinator_Run_AuthErrorAborts(t *testing.T) {
	s := memstore.New()
	fp := &authFailPlugin{}
	reg := plugin.New(plugin.DefaultConfig(), plugin.AnonymousResolver, []plugin.Identity{fp},
		map[string]plugin.Factory{"fake": func(string, *plugin.Credentials, bool) (plugin.Plugin, error) { return fp, nil }},
		map[string]string{"crypto": "fake"})
	defer reg.Close()

	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	cfg.DefaultBackfillPeriod = time.Minute
	c := New(cfg, reg, s, func() time.Time { return time.UnixMilli(60_000) })

	state, err := c.Run(context.Background(), "crypto", "fake", "BTC/USDT")
	require.Error(t, err)
	assert.Equal(t, StateFailed, state)
}

type authFailPlugin struct{ gapFillerPlugin }

func (a *authFailPlugin) FetchHistorical1m(context.Context, string, int64, int) ([]bar.Bar, error) {
	return nil, &plugin.Error{Code: plugin.CodeAuth, Provider: "fake", Message: "bad key"}
}
