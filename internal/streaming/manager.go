// Package streaming implements the feed manager of spec §4.7: at most
// one feed (native push or polling) per (SubscriptionKey, stream_type),
// refcounted, with grace-period teardown and exponential-backoff
// restart. Grounded on the teacher's stream package's lifecycle
// pattern (Start/Stop, health state), recomposed around plugin.Plugin
// instead of a Kafka/Pulsar broker.
package streaming

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/cache"
	"github.com/churst90/accessible-trader-sub001/internal/key"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/resample"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

// FeedState mirrors a feed task's lifecycle for ops visibility.
type FeedState string

const (
	FeedStarting FeedState = "Starting"
	FeedRunning  FeedState = "Running"
	FeedGrace    FeedState = "Grace"
	FeedFailed   FeedState = "Failed"
	FeedDead     FeedState = "Dead"
)

// PollIntervals are the spec §6 per-stream-type polling cadences.
var PollIntervals = map[plugin.StreamType]time.Duration{
	plugin.StreamOHLCV:      60 * time.Second,
	plugin.StreamTrades:     5 * time.Second,
	plugin.StreamBook:       2 * time.Second,
	plugin.StreamUserOrders: 15 * time.Second,
}

// Config holds the manager's tuning (spec §6 defaults).
type Config struct {
	StreamGrace        time.Duration
	MaxRestartAttempts int
}

func DefaultConfig() Config {
	return Config{StreamGrace: 30 * time.Second, MaxRestartAttempts: 10}
}

type feedHandle struct {
	refcount   int
	state      FeedState
	cancel     context.CancelFunc
	graceTimer *time.Timer
	restarts   int
}

type feedKey struct {
	key.SubscriptionKey
	StreamType plugin.StreamType
}

// Manager owns every active feed task.
type Manager struct {
	mu       sync.Mutex
	feeds    map[feedKey]*feedHandle
	registry *plugin.Registry
	bus      cache.Bus
	cfg      Config
}

// New builds a Manager.
func New(cfg Config, registry *plugin.Registry, bus cache.Bus) *Manager {
	return &Manager{feeds: make(map[feedKey]*feedHandle), registry: registry, bus: bus, cfg: cfg}
}

// Start increments the feed's refcount, launching the underlying task
// on the 0→1 transition (spec §4.7).
func (m *Manager) Start(ctx context.Context, sk key.SubscriptionKey, streamType plugin.StreamType, userID string) error {
	fk := feedKey{sk, streamType}

	m.mu.Lock()
	h, ok := m.feeds[fk]
	if ok {
		if h.graceTimer != nil {
			h.graceTimer.Stop()
			h.graceTimer = nil
			h.state = FeedRunning
		}
		h.refcount++
		m.mu.Unlock()
		return nil
	}
	h = &feedHandle{refcount: 1, state: FeedStarting}
	m.feeds[fk] = h
	m.mu.Unlock()

	feedCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go m.runFeed(feedCtx, fk, userID, h)
	return nil
}

// Stop decrements the feed's refcount, entering a grace period on the
// 1→0 transition and tearing down only after the grace period elapses
// without a new subscriber.
func (m *Manager) Stop(sk key.SubscriptionKey, streamType plugin.StreamType) {
	fk := feedKey{sk, streamType}

	m.mu.Lock()
	h, ok := m.feeds[fk]
	if !ok {
		m.mu.Unlock()
		return
	}
	h.refcount--
	if h.refcount > 0 {
		m.mu.Unlock()
		return
	}
	h.state = FeedGrace
	h.graceTimer = time.AfterFunc(m.cfg.StreamGrace, func() { m.teardown(fk) })
	m.mu.Unlock()
}

func (m *Manager) teardown(fk feedKey) {
	m.mu.Lock()
	h, ok := m.feeds[fk]
	if !ok || h.refcount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.feeds, fk)
	m.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	log.Info().Str("key", fk.SubscriptionKey.String()).Str("stream", string(fk.StreamType)).Msg("feed torn down after grace period")
}

// runFeed drives one feed task until it is cancelled or marked dead.
func (m *Manager) runFeed(ctx context.Context, fk feedKey, userID string, h *feedHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := m.runOnce(ctx, fk, userID, h)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}

		m.mu.Lock()
		h.state = FeedFailed
		h.restarts++
		restarts := h.restarts
		m.mu.Unlock()

		if restarts >= m.cfg.MaxRestartAttempts {
			m.mu.Lock()
			h.state = FeedDead
			delete(m.feeds, fk)
			m.mu.Unlock()
			m.publishError(fk, err)
			log.Warn().Err(err).Str("key", fk.SubscriptionKey.String()).Msg("feed marked dead after exhausting restart attempts")
			return
		}

		backoff := time.Duration(1<<uint(restarts-1)) * time.Second
		if backoff > 60*time.Second {
			backoff = 60 * time.Second
		}
		log.Warn().Err(err).Str("key", fk.SubscriptionKey.String()).Dur("backoff", backoff).Msg("feed failed, restarting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runOnce(ctx context.Context, fk feedKey, userID string, h *feedHandle) error {
	borrowed, err := m.registry.Get(ctx, fk.Market, fk.Provider, userID, false)
	if err != nil {
		return err
	}
	defer borrowed.Release()

	m.mu.Lock()
	h.state = FeedRunning
	m.mu.Unlock()

	if borrowed.SupportsNativePush(fk.StreamType) {
		return m.runNative(ctx, fk, borrowed.Plugin)
	}
	if fk.StreamType != plugin.StreamOHLCV {
		return &plugin.Error{Code: plugin.CodeFeatureUnsupported, Provider: fk.Provider, Message: "no polling fallback for non-OHLCV streams"}
	}
	return m.runPolling(ctx, fk, borrowed.Plugin)
}

func (m *Manager) runNative(ctx context.Context, fk feedKey, p plugin.Plugin) error {
	payloads, err := p.Watch(ctx, fk.Symbol, fk.StreamType)
	if err != nil {
		return err
	}
	channel := cache.FeedChannel(fk.Market, fk.Provider, fk.Symbol, string(fk.StreamType))
	for payload := range payloads {
		encoded, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		if err := m.bus.Publish(ctx, channel, encoded); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("native feed publish failed")
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return &plugin.Error{Code: plugin.CodeNetwork, Provider: fk.Provider, Message: "native feed channel closed"}
}

// runPolling fetches new 1m bars each tick and publishes one update per
// bar: closed bars advance lastSeenTs so they are never refetched, and
// the still-open bucket is republished with closed:false on every tick
// (spec §4.7 payload normalization) until its bucket boundary passes.
func (m *Manager) runPolling(ctx context.Context, fk feedKey, p plugin.Historical) error {
	interval := PollIntervals[fk.StreamType]
	channel := cache.FeedChannel(fk.Market, fk.Provider, fk.Symbol, string(fk.StreamType))
	tf, err := timeframe.Parse(fk.Timeframe)
	if err != nil {
		tf, _ = timeframe.Parse("1m")
	}
	resampler := resample.New()
	var lastSeenTs int64
	var openBar *bar.Bar

	for {
		jittered := jitter(interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jittered):
		}

		bars, err := p.FetchHistorical1m(ctx, fk.Symbol, lastSeenTs+1, p.MaxHistoricalPageSize())
		if err != nil {
			if pe, ok := plugin.AsPluginError(err); ok && !pe.Temporary() {
				return err
			}
			log.Warn().Err(err).Str("key", fk.SubscriptionKey.String()).Msg("poll failed transiently")
			continue
		}
		if len(bars) > 0 {
			bar.SortAscending(bars)
			for _, b := range bars {
				if resampler.IsClosed(b.TsMs, tf) {
					m.publishUpdate(ctx, channel, b, true)
					lastSeenTs = b.TsMs
					openBar = nil
					continue
				}
				bCopy := b
				openBar = &bCopy
			}
		}
		if openBar != nil {
			if resampler.IsClosed(openBar.TsMs, tf) {
				m.publishUpdate(ctx, channel, *openBar, true)
				lastSeenTs = openBar.TsMs
				openBar = nil
				continue
			}
			m.publishUpdate(ctx, channel, *openBar, false)
		}
	}
}

func (m *Manager) publishUpdate(ctx context.Context, channel string, b bar.Bar, closed bool) {
	update := map[string]interface{}{
		"ohlc":   [][]float64{{float64(b.TsMs), b.Open, b.High, b.Low, b.Close}},
		"volume": [][]float64{{float64(b.TsMs), b.Volume}},
		"closed": closed,
	}
	encoded, _ := json.Marshal(update)
	if err := m.bus.Publish(ctx, channel, encoded); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("polling feed publish failed")
	}
}

func (m *Manager) publishError(fk feedKey, cause error) {
	channel := cache.FeedChannel(fk.Market, fk.Provider, fk.Symbol, string(fk.StreamType))
	frame := map[string]string{"type": "error", "code": "FeedDead", "message": cause.Error()}
	encoded, _ := json.Marshal(frame)
	_ = m.bus.Publish(context.Background(), channel, encoded)
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.1
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

// State reports a feed's current lifecycle state, for ops/health endpoints.
func (m *Manager) State(sk key.SubscriptionKey, streamType plugin.StreamType) (FeedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.feeds[feedKey{sk, streamType}]
	if !ok {
		return "", false
	}
	return h.state, true
}
