package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/churst90/accessible-trader-sub001/internal/backfill"
	"github.com/churst90/accessible-trader-sub001/internal/cache"
	"github.com/churst90/accessible-trader-sub001/internal/config"
	"github.com/churst90/accessible-trader-sub001/internal/metrics"
	"github.com/churst90/accessible-trader-sub001/internal/net/ratelimit"
	"github.com/churst90/accessible-trader-sub001/internal/orchestrator"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/plugin/rest"
	"github.com/churst90/accessible-trader-sub001/internal/store"
	"github.com/churst90/accessible-trader-sub001/internal/store/postgres"
	"github.com/churst90/accessible-trader-sub001/internal/streaming"
	"github.com/churst90/accessible-trader-sub001/internal/subscription"
)

// venues maps a plugin_key to the REST connector spec that implements
// it; adding a new exchange means adding one entry here plus its
// VenueSpec in internal/plugin/rest.
var venues = map[string]rest.VenueSpec{
	"binance":  rest.Binance,
	"kraken":   rest.Kraken,
	"coinbase": rest.Coinbase,
	"okx":      rest.OKX,
}

// app bundles every wired component a cmd/engine subcommand needs.
type app struct {
	cfg          config.Config
	bus          cache.Bus
	barCache     *cache.BarCache
	store        store.BarStore
	registry     *plugin.Registry
	orchestrator *orchestrator.Orchestrator
	backfill     *backfill.Coordinator
	streaming    *streaming.Manager
	subs         *subscription.Service
	metrics      *metrics.Registry
	closers      []func() error
}

func buildApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	var kv cache.KV
	var bus cache.Bus
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		kv = cache.NewRedisKV(rdb)
		bus = cache.NewRedisBus(rdb)
		a.closers = append(a.closers, rdb.Close)
	} else {
		kv = cache.NewMemKV(cfg.Cache.MaxEntries)
		bus = cache.NewStubBus()
	}
	a.bus = bus
	a.barCache = cache.NewBarCache(kv, nil)

	var barStore store.BarStore
	if cfg.Database.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		barStore = postgres.New(db, 10*time.Second, 1000)
		a.closers = append(a.closers, func() error { return db.Close() })
	} else {
		return nil, fmt.Errorf("database.dsn is required")
	}
	a.store = barStore

	factories := make(map[string]plugin.Factory, len(cfg.Providers))
	classes := make([]plugin.Identity, 0, len(cfg.Providers))
	marketMap := make(map[string]string, len(cfg.Providers))
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		spec, ok := venues[p.PluginKey]
		if !ok {
			return nil, fmt.Errorf("unknown plugin_key %q for provider %q", p.PluginKey, p.Provider)
		}
		if !seen[p.PluginKey] {
			seen[p.PluginKey] = true
			rps := p.RateLimitRPS
			if rps <= 0 {
				rps = 10
			}
			burst := p.RateLimitBurst
			if burst <= 0 {
				burst = rps2burst(rps)
			}
			limiter := ratelimit.NewLimiter(rps, burst)
			restFactory := rest.NewFactory(spec, limiter, cfg.Client.CallTimeout)
			factories[p.PluginKey] = func(providerID string, creds *plugin.Credentials, testnet bool) (plugin.Plugin, error) {
				inst, err := restFactory(providerID, creds, testnet)
				if err != nil {
					return nil, err
				}
				return plugin.WrapWithBreaker(providerID, inst), nil
			}
			classes = append(classes, connectorIdentity{spec: spec})
		}
		marketMap[p.Market] = p.PluginKey
	}

	a.registry = plugin.New(plugin.Config{
		IdleTTL:           cfg.Registry.IdleTTL,
		IdleSweepInterval: cfg.Registry.IdleSweepInterval,
		EvictionGrace:     cfg.Registry.EvictionGrace,
	}, plugin.AnonymousResolver, classes, factories, marketMap)

	a.orchestrator = orchestrator.New(a.barCache, a.store, a.registry, nil)
	a.backfill = backfill.New(backfill.Config{
		DefaultBackfillPeriod: cfg.Backfill.DefaultBackfillPeriod,
		MaxChunksPerRun:       cfg.Backfill.MaxChunksPerRun,
		ChunkDelay:            cfg.Backfill.ChunkDelay,
		MaxConcurrentAPI:      cfg.Backfill.MaxConcurrentAPI,
	}, a.registry, a.store, nil)
	a.streaming = streaming.New(streaming.Config{
		StreamGrace:        cfg.Streaming.StreamGrace,
		MaxRestartAttempts: cfg.Streaming.MaxRestartAttempts,
	}, a.registry, a.bus)
	a.subs = subscription.New(subscription.Config{
		ClientQueueCapacity: cfg.Client.QueueCapacity,
		ClientSendTimeout:   cfg.Client.SendTimeout,
	}, a.orchestrator, a.streaming, a.bus)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	_ = a.registry.Close()
	_ = a.bus.Close()
}

// connectorIdentity adapts a rest.VenueSpec to plugin.Identity for the
// registry's class list without constructing a live connector.
type connectorIdentity struct {
	spec rest.VenueSpec
}

func (c connectorIdentity) PluginKey() string                  { return c.spec.PluginKey }
func (c connectorIdentity) SupportedMarkets() []string          { return []string{"crypto"} }
func (c connectorIdentity) ListConfigurableProviders() []string { return c.spec.Providers }

func rps2burst(rps float64) int {
	b := int(rps * 2)
	if b < 1 {
		b = 1
	}
	return b
}
