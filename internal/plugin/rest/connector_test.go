package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/net/ratelimit"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
)

func testSpec(baseURL string) VenueSpec {
	spec := Binance
	spec.BaseURL = baseURL
	return spec
}

func TestConnector_FetchHistorical1m_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[0,"1.0","2.0","0.5","1.5","10.0",59]]`))
	}))
	defer srv.Close()

	factory := NewFactory(testSpec(srv.URL), ratelimit.NewLimiter(100, 100), time.Second)
	p, err := factory("binance", nil, false)
	require.NoError(t, err)
	defer p.Close()

	bars, err := p.FetchHistorical1m(context.Background(), "BTCUSDT", 0, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(0), bars[0].TsMs)
}

func TestConnector_FetchHistorical1m_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	factory := NewFactory(testSpec(srv.URL), ratelimit.NewLimiter(100, 100), time.Second)
	p, err := factory("binance", nil, false)
	require.NoError(t, err)

	_, err = p.FetchHistorical1m(context.Background(), "BTCUSDT", 0, 10)
	require.Error(t, err)
	pe, ok := plugin.AsPluginError(err)
	require.True(t, ok)
	assert.Equal(t, plugin.CodeRateLimited, pe.Code)
	assert.Equal(t, 2*time.Second, pe.RetryAfter)
}

func TestConnector_FetchHistorical1m_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	factory := NewFactory(testSpec(srv.URL), ratelimit.NewLimiter(100, 100), time.Second)
	p, _ := factory("binance", nil, false)

	_, err := p.FetchHistorical1m(context.Background(), "BTCUSDT", 0, 10)
	pe, ok := plugin.AsPluginError(err)
	require.True(t, ok)
	assert.Equal(t, plugin.CodeAuth, pe.Code)
}

func TestConnector_SupportsNativePush(t *testing.T) {
	factory := NewFactory(Binance, ratelimit.NewLimiter(1, 1), time.Second)
	p, _ := factory("binance", nil, false)
	assert.True(t, p.SupportsNativePush(plugin.StreamOHLCV))
	assert.False(t, p.SupportsNativePush(plugin.StreamTrades))

	factory2 := NewFactory(Coinbase, ratelimit.NewLimiter(1, 1), time.Second)
	p2, _ := factory2("coinbase", nil, false)
	assert.False(t, p2.SupportsNativePush(plugin.StreamOHLCV))
}
