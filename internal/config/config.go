// Package config loads the engine's YAML configuration, grounded on
// the teacher's internal/application.LoadXConfig pattern (os.ReadFile
// plus yaml.Unmarshal into a defaulted struct) from
// internal/application/config.go, consolidated into one document since
// this engine has a single deployable process rather than the
// teacher's many independently-tunable subsystems.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's full runtime configuration (spec §6 defaults).
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	Cache     CacheTTLConfig  `yaml:"cache"`
	Streaming StreamingConfig `yaml:"streaming"`
	Client    ClientConfig    `yaml:"client"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Providers []ProviderConfig `yaml:"providers"`
}

// RegistryConfig tunes the plugin instance cache (spec §4.4).
type RegistryConfig struct {
	IdleTTL          time.Duration `yaml:"idle_ttl"`
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval"`
	EvictionGrace    time.Duration `yaml:"eviction_grace"`
}

// BackfillConfig tunes the gap-fill coordinator (spec §4.6).
type BackfillConfig struct {
	DefaultBackfillPeriod time.Duration `yaml:"default_backfill_period"`
	MaxChunksPerRun       int           `yaml:"max_chunks_per_run"`
	ChunkDelay            time.Duration `yaml:"chunk_delay"`
	MaxConcurrentAPI      int           `yaml:"max_concurrent_api"`
}

// CacheTTLConfig holds the bar cache settings (spec §4.3). Only
// MaxEntries is passed on (to the in-process KV); the TTL fields are
// parsed but not passed to cache.BarCache, which uses its Default*
// constants.
type CacheTTLConfig struct {
	TTL1mRecent     time.Duration `yaml:"ttl_1m_recent"`
	TTL1mStale      time.Duration `yaml:"ttl_1m_stale"`
	TTLResample1m   time.Duration `yaml:"ttl_resample_1m"`
	TTLResample1h   time.Duration `yaml:"ttl_resample_1h"`
	TTLResample1d   time.Duration `yaml:"ttl_resample_1d"`
	MaxEntries      int           `yaml:"max_entries"`
}

// StreamingConfig tunes the feed manager (spec §4.7). StreamGrace and
// MaxRestartAttempts are passed to streaming.Manager; the Poll* fields
// are parsed but not passed to it, and polling cadence comes from
// streaming.PollIntervals.
type StreamingConfig struct {
	PollOHLCV          time.Duration `yaml:"poll_ohlcv"`
	PollTrades         time.Duration `yaml:"poll_trades"`
	PollBook           time.Duration `yaml:"poll_book"`
	PollUserOrders     time.Duration `yaml:"poll_user_orders"`
	StreamGrace        time.Duration `yaml:"stream_grace"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// ClientConfig tunes the subscription service's client-facing side (spec §4.8/§6).
type ClientConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	CallTimeout   time.Duration `yaml:"plugin_call_timeout"`
}

// DatabaseConfig configures the Postgres continuous-aggregate store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

// RedisConfig configures the shared cache/bus backend.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// HTTPConfig configures the ops/health HTTP server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ProviderConfig names one configurable (market, provider) pairing and
// its base connection settings; credentials are resolved separately by
// a plugin.CredentialResolver, never stored here.
type ProviderConfig struct {
	Market      string `yaml:"market"`
	Provider    string `yaml:"provider"`
	PluginKey   string `yaml:"plugin_key"`
	Testnet     bool   `yaml:"testnet"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int   `yaml:"rate_limit_burst"`
}

// Default returns spec §6's documented defaults.
func Default() Config {
	return Config{
		Registry: RegistryConfig{IdleTTL: 15 * time.Minute, IdleSweepInterval: 5 * time.Minute, EvictionGrace: 10 * time.Second},
		Backfill: BackfillConfig{DefaultBackfillPeriod: 30 * 24 * time.Hour, MaxChunksPerRun: 100, ChunkDelay: 1500 * time.Millisecond, MaxConcurrentAPI: 10},
		Cache: CacheTTLConfig{
			TTL1mRecent: 24 * time.Hour, TTL1mStale: time.Hour,
			TTLResample1m: 60 * time.Second, TTLResample1h: 5 * time.Minute, TTLResample1d: time.Hour,
			MaxEntries: 200_000,
		},
		Streaming: StreamingConfig{
			PollOHLCV: 60 * time.Second, PollTrades: 5 * time.Second, PollBook: 2 * time.Second, PollUserOrders: 15 * time.Second,
			StreamGrace: 30 * time.Second, MaxRestartAttempts: 10,
		},
		Client:   ClientConfig{QueueCapacity: 1024, SendTimeout: 5 * time.Second, CallTimeout: 30 * time.Second},
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		HTTP:     HTTPConfig{Addr: ":8090"},
	}
}

// Load reads and merges a YAML document onto Default(), grounded on the
// teacher's LoadXConfig(path string) (*Config, error) shape
// (internal/application/config.go).
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants Load alone can't enforce via types.
func (c *Config) Validate() error {
	if c.Backfill.MaxChunksPerRun <= 0 {
		return fmt.Errorf("backfill.max_chunks_per_run must be positive")
	}
	if c.Backfill.MaxConcurrentAPI <= 0 {
		return fmt.Errorf("backfill.max_concurrent_api must be positive")
	}
	if c.Client.QueueCapacity <= 0 {
		return fmt.Errorf("client.queue_capacity must be positive")
	}
	for _, p := range c.Providers {
		if p.Market == "" || p.Provider == "" || p.PluginKey == "" {
			return fmt.Errorf("provider entry missing market/provider/plugin_key: %+v", p)
		}
	}
	return nil
}
