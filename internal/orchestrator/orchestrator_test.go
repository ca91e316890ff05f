package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/cache"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/store/memstore"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

type fakePlugin struct {
	bars []bar.Bar
	err  error
}

func (f *fakePlugin) PluginKey() string                     { return "fake" }
func (f *fakePlugin) SupportedMarkets() []string             { return []string{"crypto"} }
func (f *fakePlugin) ListConfigurableProviders() []string    { return []string{"fake"} }
func (f *fakePlugin) Close() error                           { return nil }
func (f *fakePlugin) GetSymbols(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakePlugin) GetInstrumentDetails(context.Context, string) (plugin.InstrumentDetails, error) {
	return plugin.InstrumentDetails{}, nil
}
func (f *fakePlugin) MaxHistoricalPageSize() int { return 500 }
func (f *fakePlugin) FetchHistorical1m(_ context.Context, _ string, sinceMs int64, limit int) ([]bar.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []bar.Bar
	for _, b := range f.bars {
		if b.TsMs >= sinceMs {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakePlugin) SupportsNativePush(plugin.StreamType) bool { return false }
func (f *fakePlugin) Watch(context.Context, string, plugin.StreamType) (<-chan plugin.Payload, error) {
	ch := make(chan plugin.Payload)
	close(ch)
	return ch, nil
}

func newHarness(t *testing.T, bars []bar.Bar) *Orchestrator {
	t.Helper()
	c := cache.NewBarCache(cache.NewMemKV(1000), nil)
	s := memstore.New()
	fp := &fakePlugin{bars: bars}
	reg := plugin.New(plugin.DefaultConfig(), plugin.AnonymousResolver, []plugin.Identity{fp},
		map[string]plugin.Factory{"fake": func(string, *plugin.Credentials, bool) (plugin.Plugin, error) { return fp, nil }},
		map[string]string{"crypto": "fake"})
	t.Cleanup(func() { reg.Close() })
	return New(c, s, reg, func() time.Time { return time.UnixMilli(10 * 60_000) })
}

func TestFetch_OneMinute_FallsThroughToPlugin(t *testing.T) {
	bars := []bar.Bar{
		{TsMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{TsMs: 60_000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	}
	o := newHarness(t, bars)

	since, until := int64(0), int64(120_000)
	res, err := o.Fetch(context.Background(), Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		Timeframe: timeframe.OneMinute, SinceMs: &since, UntilMs: &until,
	})
	require.NoError(t, err)
	require.Len(t, res.Bars, 2)
	assert.False(t, res.Partial)
}

func TestFetch_OneMinute_CacheHitAvoidsPlugin(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}
	o := newHarness(t, bars)

	since, until := int64(0), int64(60_000)
	_, err := o.Fetch(context.Background(), Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		Timeframe: timeframe.OneMinute, SinceMs: &since, UntilMs: &until,
	})
	require.NoError(t, err)

	o.registry = nil // prove the second call never touches the plugin
	res, err := o.Fetch(context.Background(), Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		Timeframe: timeframe.OneMinute, SinceMs: &since, UntilMs: &until,
	})
	require.NoError(t, err)
	require.Len(t, res.Bars, 1)
}

func TestFetch_Resampled_ViaOneMinute(t *testing.T) {
	var bars []bar.Bar
	for i := int64(0); i < 5; i++ {
		bars = append(bars, bar.Bar{TsMs: i * 60_000, Open: float64(i), High: float64(i) + 1, Low: float64(i), Close: float64(i) + 1, Volume: 1})
	}
	o := newHarness(t, bars)

	since, until := int64(0), int64(300_000)
	res, err := o.Fetch(context.Background(), Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		Timeframe: timeframe.MustParse("5m"), SinceMs: &since, UntilMs: &until,
	})
	require.NoError(t, err)
	require.Len(t, res.Bars, 1)
	assert.Equal(t, 0.0, res.Bars[0].Open)
	assert.Equal(t, 5.0, res.Bars[0].High)
	assert.Equal(t, 5.0, res.Bars[0].Volume)
}

func TestFetch_PluginFailure_ReturnsPartialWithoutData(t *testing.T) {
	c := cache.NewBarCache(cache.NewMemKV(1000), nil)
	s := memstore.New()
	fp := &fakePlugin{err: &plugin.Error{Code: plugin.CodeNetwork, Provider: "fake", Message: "down"}}
	reg := plugin.New(plugin.DefaultConfig(), plugin.AnonymousResolver, []plugin.Identity{fp},
		map[string]plugin.Factory{"fake": func(string, *plugin.Credentials, bool) (plugin.Plugin, error) { return fp, nil }},
		map[string]string{"crypto": "fake"})
	defer reg.Close()
	o := New(c, s, reg, nil)

	since, until := int64(0), int64(60_000)
	res, err := o.Fetch(context.Background(), Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		Timeframe: timeframe.OneMinute, SinceMs: &since, UntilMs: &until,
	})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Empty(t, res.Bars)
}

func intPtr(i int) *int { return &i }

func TestProject_LimitKeepsMostRecentWhenUnbounded(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0}, {TsMs: 60_000}, {TsMs: 120_000}}
	out := project(bars, Request{Limit: intPtr(2)})
	require.Len(t, out, 2)
	assert.Equal(t, int64(60_000), out[0].TsMs)
	assert.Equal(t, int64(120_000), out[1].TsMs)
}

func TestProject_LimitKeepsFirstAfterSinceWhenBounded(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0}, {TsMs: 60_000}, {TsMs: 120_000}}
	since := int64(0)
	out := project(bars, Request{SinceMs: &since, Limit: intPtr(2)})
	require.Len(t, out, 2)
	assert.Equal(t, int64(0), out[0].TsMs)
	assert.Equal(t, int64(60_000), out[1].TsMs)
}

func TestProject_ExplicitZeroLimitYieldsEmptyResult(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0}, {TsMs: 60_000}}
	out := project(bars, Request{Limit: intPtr(0)})
	assert.Empty(t, out)
}

func TestProject_NilLimitIsUnbounded(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0}, {TsMs: 60_000}}
	out := project(bars, Request{})
	assert.Len(t, out, 2)
}
