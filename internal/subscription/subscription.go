// Package subscription implements the client-facing view registry of
// spec §4.8: per-client subscription state, initial-window dispatch,
// live forwarding from the cache bus, and backpressure handling.
// Grounded on the teacher's subscription/registration bookkeeping
// style (map + mutex + per-entry state struct) used throughout
// internal/provider, recomposed around transport.ClientSender instead
// of an exchange connection.
package subscription

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/cache"
	"github.com/churst90/accessible-trader-sub001/internal/key"
	"github.com/churst90/accessible-trader-sub001/internal/orchestrator"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/streaming"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
	"github.com/churst90/accessible-trader-sub001/internal/transport"
)

// Config holds the service's tuning (spec §6 defaults).
type Config struct {
	ClientQueueCapacity int
	ClientSendTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{ClientQueueCapacity: 1024, ClientSendTimeout: 5 * time.Second}
}

type viewKey struct {
	clientID string
	key.SubscriptionKey
	StreamType plugin.StreamType
}

type view struct {
	client          transport.ClientSender
	lastForwardedTs int64
	cancelListener  context.CancelFunc
	queue           chan []byte
	mu              sync.Mutex
}

// Service tracks every (client, SubscriptionKey, stream_type) view and
// owns the forwarding pipeline between the cache bus and each client.
type Service struct {
	mu           sync.Mutex
	views        map[viewKey]*view
	orchestrator *orchestrator.Orchestrator
	streaming    *streaming.Manager
	bus          cache.Bus
	cfg          Config
}

// New builds a Service.
func New(cfg Config, orch *orchestrator.Orchestrator, sm *streaming.Manager, bus cache.Bus) *Service {
	return &Service{views: make(map[viewKey]*view), orchestrator: orch, streaming: sm, bus: bus, cfg: cfg}
}

// Subscribe implements spec §4.8's subscribe algorithm.
func (s *Service) Subscribe(ctx context.Context, clientID string, client transport.ClientSender, sk key.SubscriptionKey, streamType plugin.StreamType, sinceMs *int64, userID string) error {
	vk := viewKey{clientID: clientID, SubscriptionKey: sk, StreamType: streamType}

	v := &view{client: client, queue: make(chan []byte, s.cfg.ClientQueueCapacity)}
	s.mu.Lock()
	s.views[vk] = v
	s.mu.Unlock()

	_ = s.sendWithTimeout(ctx, client, transport.Frame{Type: "status", Payload: "initial data fetching"})

	if streamType == plugin.StreamOHLCV {
		tf, err := timeframe.Parse(sk.Timeframe)
		if err != nil {
			return s.fail(ctx, vk, "InvalidTimeframe", err.Error())
		}
		result, err := s.orchestrator.Fetch(ctx, orchestrator.Request{
			Market: sk.Market, Provider: sk.Provider, Symbol: sk.Symbol,
			Timeframe: tf, SinceMs: sinceMs, UserID: userID,
		})
		if err != nil {
			return s.fail(ctx, vk, "StoreUnavailable", err.Error())
		}
		if len(result.Bars) > 0 {
			v.lastForwardedTs = result.Bars[len(result.Bars)-1].TsMs
		}
		_ = s.sendWithTimeout(ctx, client, transport.Frame{Type: "data", Payload: toDataPayload(result.Bars, true)})
	}

	if err := s.streaming.Start(ctx, sk, streamType, userID); err != nil {
		return s.fail(ctx, vk, "PluginFeatureUnsupported", err.Error())
	}

	listenerCtx, cancel := context.WithCancel(context.Background())
	v.cancelListener = cancel
	channel := cache.FeedChannel(sk.Market, sk.Provider, sk.Symbol, string(streamType))
	sub, err := s.bus.Subscribe(listenerCtx, channel, func(_ context.Context, msg *cache.Message) error {
		s.enqueue(vk, v, msg.Payload)
		return nil
	})
	if err != nil {
		cancel()
		return s.fail(ctx, vk, "CacheUnavailable", err.Error())
	}

	go s.forwardLoop(listenerCtx, vk, v, sub)
	return nil
}

// Unsubscribe implements spec §4.8's unsubscribe/transport-close path.
func (s *Service) Unsubscribe(clientID string, sk key.SubscriptionKey, streamType plugin.StreamType) {
	vk := viewKey{clientID: clientID, SubscriptionKey: sk, StreamType: streamType}
	s.mu.Lock()
	v, ok := s.views[vk]
	if ok {
		delete(s.views, vk)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if v.cancelListener != nil {
		v.cancelListener()
	}
	s.streaming.Stop(sk, streamType)
}

// enqueue places a payload on the client's bounded queue. On overflow
// the slowest client is dropped entirely (spec §4.8 backpressure rule).
func (s *Service) enqueue(vk viewKey, v *view, payload []byte) {
	select {
	case v.queue <- payload:
	default:
		log.Warn().Str("client", vk.clientID).Str("key", vk.SubscriptionKey.String()).Msg("ClientOverflow: dropping slow client")
		s.mu.Lock()
		delete(s.views, vk)
		s.mu.Unlock()
		if v.cancelListener != nil {
			v.cancelListener()
		}
		s.streaming.Stop(vk.SubscriptionKey, vk.StreamType)
		_ = v.client.Close()
	}
}

// forwardLoop drains the per-client queue in FIFO order, filtering out
// items at or before the last-forwarded timestamp.
func (s *Service) forwardLoop(ctx context.Context, vk viewKey, v *view, sub cache.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.client.Closed():
			s.Unsubscribe(vk.clientID, vk.SubscriptionKey, vk.StreamType)
			return
		case payload, ok := <-v.queue:
			if !ok {
				return
			}
			var raw map[string]interface{}
			if err := json.Unmarshal(payload, &raw); err != nil {
				continue
			}
			ts := latestTsMs(raw)
			v.mu.Lock()
			if ts <= v.lastForwardedTs {
				v.mu.Unlock()
				continue
			}
			v.lastForwardedTs = ts
			v.mu.Unlock()

			sendCtx, cancel := context.WithTimeout(ctx, s.cfg.ClientSendTimeout)
			err := v.client.Send(sendCtx, transport.Frame{Type: "update", Payload: raw})
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("client", vk.clientID).Msg("client send failed, dropping view")
				s.Unsubscribe(vk.clientID, vk.SubscriptionKey, vk.StreamType)
				_ = v.client.Close()
				return
			}
		}
	}
}

func (s *Service) fail(ctx context.Context, vk viewKey, code, message string) error {
	s.mu.Lock()
	v, ok := s.views[vk]
	delete(s.views, vk)
	s.mu.Unlock()
	if ok {
		_ = s.sendWithTimeout(ctx, v.client, transport.Frame{Type: "error", Code: code, Message: message})
	}
	return &FailureError{Code: code, Message: message}
}

func (s *Service) sendWithTimeout(ctx context.Context, client transport.ClientSender, frame transport.Frame) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.ClientSendTimeout)
	defer cancel()
	return client.Send(sendCtx, frame)
}

// FailureError carries a wire-protocol taxonomy code back to the caller.
type FailureError struct {
	Code    string
	Message string
}

func (e *FailureError) Error() string { return e.Code + ": " + e.Message }

func toDataPayload(bars []bar.Bar, initial bool) map[string]interface{} {
	ohlc := make([][]float64, len(bars))
	volume := make([][]float64, len(bars))
	for i, b := range bars {
		ohlc[i] = []float64{float64(b.TsMs), b.Open, b.High, b.Low, b.Close}
		volume[i] = []float64{float64(b.TsMs), b.Volume}
	}
	return map[string]interface{}{"ohlc": ohlc, "volume": volume, "initial_batch": initial}
}

func latestTsMs(raw map[string]interface{}) int64 {
	ohlc, ok := raw["ohlc"].([]interface{})
	if !ok || len(ohlc) == 0 {
		return 0
	}
	last, ok := ohlc[len(ohlc)-1].([]interface{})
	if !ok || len(last) == 0 {
		return 0
	}
	ts, _ := last[0].(float64)
	return int64(ts)
}
