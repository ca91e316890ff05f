package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// stubPlugin is a minimal Plugin used across registry tests.
type stubPlugin struct {
	key       string
	providers []string
	closed    atomic.Bool
}

func (s *stubPlugin) PluginKey() string                     { return s.key }
func (s *stubPlugin) SupportedMarkets() []string             { return []string{"crypto"} }
func (s *stubPlugin) ListConfigurableProviders() []string    { return s.providers }
func (s *stubPlugin) Close() error                           { s.closed.Store(true); return nil }
func (s *stubPlugin) GetSymbols(context.Context, string) ([]string, error) {
	return []string{"BTC/USDT"}, nil
}
func (s *stubPlugin) GetInstrumentDetails(context.Context, string) (InstrumentDetails, error) {
	return InstrumentDetails{}, nil
}
func (s *stubPlugin) FetchHistorical1m(context.Context, string, int64, int) ([]bar.Bar, error) {
	return nil, nil
}
func (s *stubPlugin) MaxHistoricalPageSize() int                     { return 500 }
func (s *stubPlugin) SupportsNativePush(StreamType) bool             { return false }
func (s *stubPlugin) Watch(context.Context, string, StreamType) (<-chan Payload, error) {
	ch := make(chan Payload)
	close(ch)
	return ch, nil
}

func newStub(key string, providers ...string) *stubPlugin {
	return &stubPlugin{key: key, providers: providers}
}

func TestRegistry_GetConstructsOnce(t *testing.T) {
	s := newStub("binance", "binance")
	var constructCount int32
	factories := map[string]Factory{
		"binance": func(providerID string, creds *Credentials, testnet bool) (Plugin, error) {
			atomic.AddInt32(&constructCount, 1)
			return s, nil
		},
	}
	r := New(DefaultConfig(), AnonymousResolver, []Identity{s}, factories, map[string]string{"crypto": "binance"})
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := r.Get(context.Background(), "crypto", "binance", "", false)
			require.NoError(t, err)
			defer b.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&constructCount))
}

func TestRegistry_UnknownMarketUnresolvable(t *testing.T) {
	r := New(DefaultConfig(), AnonymousResolver, nil, map[string]Factory{}, map[string]string{})
	defer r.Close()

	_, err := r.Get(context.Background(), "forex", "oanda", "", false)
	require.Error(t, err)
	pe, ok := AsPluginError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInternal, pe.Code)
}

func TestRegistry_ProviderNotConfigurable(t *testing.T) {
	s := newStub("binance", "binance")
	factories := map[string]Factory{"binance": func(string, *Credentials, bool) (Plugin, error) { return s, nil }}
	r := New(DefaultConfig(), AnonymousResolver, []Identity{s}, factories, map[string]string{"crypto": "binance"})
	defer r.Close()

	_, err := r.Get(context.Background(), "crypto", "not-binance", "", false)
	require.Error(t, err)
}

func TestRegistry_IdleEviction(t *testing.T) {
	s := newStub("binance", "binance")
	factories := map[string]Factory{"binance": func(string, *Credentials, bool) (Plugin, error) { return s, nil }}
	cfg := Config{IdleTTL: 10 * time.Millisecond, IdleSweepInterval: 5 * time.Millisecond, EvictionGrace: 20 * time.Millisecond}
	r := New(cfg, AnonymousResolver, []Identity{s}, factories, map[string]string{"crypto": "binance"})
	defer r.Close()

	b, err := r.Get(context.Background(), "crypto", "binance", "", false)
	require.NoError(t, err)
	b.Release()

	require.Eventually(t, func() bool { return s.closed.Load() }, time.Second, 5*time.Millisecond)
}

func TestFingerprint_Stable(t *testing.T) {
	c := &Credentials{APIKey: "k", APISecret: "s"}
	assert.Equal(t, Fingerprint(c), Fingerprint(c))
	assert.Equal(t, "anonymous", Fingerprint(nil))
	assert.NotEqual(t, Fingerprint(c), Fingerprint(&Credentials{APIKey: "k2", APISecret: "s"}))
}

func TestWrap_PassesThroughExistingPluginError(t *testing.T) {
	orig := &Error{Code: CodeBadSymbol, Provider: "binance", Message: "no such symbol"}
	assert.Same(t, orig, Wrap("binance", orig))
}

func TestError_Temporary(t *testing.T) {
	assert.True(t, (&Error{Code: CodeNetwork}).Temporary())
	assert.True(t, (&Error{Code: CodeRateLimited}).Temporary())
	assert.False(t, (&Error{Code: CodeAuth}).Temporary())
}

func TestWrapWithBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	s := newStub("binance", "binance")
	failing := &failingHistorical{stubPlugin: s}
	wrapped := WrapWithBreaker("binance", failing)

	for i := 0; i < 10; i++ {
		_, err := wrapped.FetchHistorical1m(context.Background(), "BTC/USDT", 0, 10)
		require.Error(t, err)
	}

	_, err := wrapped.FetchHistorical1m(context.Background(), "BTC/USDT", 0, 10)
	require.Error(t, err)
	pe, ok := AsPluginError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNetwork, pe.Code)
	assert.Equal(t, int32(10), failing.calls.Load(), "breaker should short-circuit once open")
}

type failingHistorical struct {
	*stubPlugin
	calls atomic.Int32
}

func (f *failingHistorical) FetchHistorical1m(ctx context.Context, symbol string, sinceMs int64, limit int) ([]bar.Bar, error) {
	f.calls.Add(1)
	return nil, &Error{Code: CodeNetwork, Provider: "binance", Message: "boom"}
}
