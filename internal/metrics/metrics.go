// Package metrics exposes the engine's Prometheus instrumentation,
// grounded on the teacher's MetricsRegistry
// (internal/interfaces/http/metrics.go): a struct of vectors built in
// one constructor and registered once, with small Record* helper
// methods instead of scattering prometheus.New* calls across packages.
// The engine's other packages do not call the Record* helpers; the
// registry is served on /metrics by internal/httpapi.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this engine exports.
type Registry struct {
	reg *prometheus.Registry

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	PluginCallDuration *prometheus.HistogramVec
	PluginCallErrors   *prometheus.CounterVec

	BackfillChunks  *prometheus.CounterVec
	BackfillState   *prometheus.GaugeVec

	FeedRestarts  *prometheus.CounterVec
	ActiveFeeds   prometheus.Gauge

	ClientOverflows prometheus.Counter
	ActiveClients   prometheus.Gauge
}

// New builds and registers every metric against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{reg: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_cache_hits_total",
			Help: "Cache hits by layer (kv_1m, kv_resample).",
		}, []string{"layer"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_cache_misses_total",
			Help: "Cache misses by layer.",
		}, []string{"layer"}),
		PluginCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_plugin_call_duration_seconds",
			Help:    "Latency of plugin historical/streaming calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		PluginCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_plugin_call_errors_total",
			Help: "Plugin call failures by error taxonomy code.",
		}, []string{"provider", "code"}),
		BackfillChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_backfill_chunks_total",
			Help: "Backfill chunks fetched by outcome.",
		}, []string{"outcome"}),
		BackfillState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketdata_backfill_state",
			Help: "1 if an asset's backfill coordinator is currently in the given state.",
		}, []string{"market", "provider", "symbol", "state"}),
		FeedRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_feed_restarts_total",
			Help: "Streaming feed restarts by stream type.",
		}, []string{"stream_type"}),
		ActiveFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_active_feeds",
			Help: "Number of currently running streaming feeds.",
		}),
		ClientOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_client_overflows_total",
			Help: "Clients dropped for falling behind their outbound queue.",
		}),
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_active_clients",
			Help: "Number of currently subscribed clients.",
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses,
		m.PluginCallDuration, m.PluginCallErrors,
		m.BackfillChunks, m.BackfillState,
		m.FeedRestarts, m.ActiveFeeds,
		m.ClientOverflows, m.ActiveClients,
	)
	return m
}

// CallTimer measures one plugin call's duration on Stop.
type CallTimer struct {
	m         *Registry
	provider  string
	operation string
	start     time.Time
}

func (m *Registry) StartPluginCall(provider, operation string) *CallTimer {
	return &CallTimer{m: m, provider: provider, operation: operation, start: time.Now()}
}

func (t *CallTimer) Stop() {
	t.m.PluginCallDuration.WithLabelValues(t.provider, t.operation).Observe(time.Since(t.start).Seconds())
}

func (m *Registry) RecordCacheHit(layer string)  { m.CacheHits.WithLabelValues(layer).Inc() }
func (m *Registry) RecordCacheMiss(layer string) { m.CacheMisses.WithLabelValues(layer).Inc() }

func (m *Registry) RecordPluginError(provider, code string) {
	m.PluginCallErrors.WithLabelValues(provider, code).Inc()
}

func (m *Registry) RecordBackfillChunk(outcome string) {
	m.BackfillChunks.WithLabelValues(outcome).Inc()
}

func (m *Registry) SetBackfillState(market, provider, symbol, state string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.BackfillState.WithLabelValues(market, provider, symbol, state).Set(v)
}

func (m *Registry) RecordFeedRestart(streamType string) {
	m.FeedRestarts.WithLabelValues(streamType).Inc()
}

// Handler exposes the registry over /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
