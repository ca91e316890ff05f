// Package plugin defines the provider-adapter contract (spec §4.4) and
// the instance cache that constructs, shares and evicts plugin
// instances. The capability split (Identity/Lifecycle/ReferenceData/
// Historical/Streaming) mirrors the teacher's provider.ExchangeProvider
// (internal/provider/exchange.go), trimmed of the scoring-era
// derivatives/order-book surface and recomposed around the bar-fetch
// contract this engine actually needs.
package plugin

import (
	"context"
	"time"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// StreamType enumerates the feed kinds a plugin may push or be polled for.
type StreamType string

const (
	StreamOHLCV      StreamType = "ohlcv"
	StreamTrades     StreamType = "trades"
	StreamBook       StreamType = "book"
	StreamUserOrders StreamType = "user_orders"
)

// InstrumentDetails describes precision and trading limits for a symbol.
type InstrumentDetails struct {
	PricePrecision  int
	AmountPrecision int
	MinAmount       float64
	MaxAmount       float64
	MinPrice        float64
	MaxPrice        float64
}

// Credentials are resolved per-user by the engine's CredentialResolver
// and handed to a plugin constructor; nil means anonymous/public access.
type Credentials struct {
	APIKey    string
	APISecret string
	Extra     map[string]string
}

// Identity reports what a plugin class and instance can do.
type Identity interface {
	PluginKey() string
	SupportedMarkets() []string
	ListConfigurableProviders() []string
}

// Lifecycle is implemented by every plugin instance.
type Lifecycle interface {
	Close() error
}

// ReferenceData exposes symbol and instrument metadata.
type ReferenceData interface {
	GetSymbols(ctx context.Context, market string) ([]string, error)
	GetInstrumentDetails(ctx context.Context, symbol string) (InstrumentDetails, error)
}

// Historical fetches paged 1m OHLCV history. A page may contain fewer
// than limit bars even when more exist (plugin-side paging); an empty
// page with no error means no more data is available behind cursor.
type Historical interface {
	FetchHistorical1m(ctx context.Context, symbol string, sinceMs int64, limit int) ([]bar.Bar, error)
	MaxHistoricalPageSize() int
}

// Payload is a single normalized item delivered by a Watch sequence.
type Payload struct {
	StreamType StreamType
	Bar        *bar.Bar
	Raw        []byte
	ReceivedAt time.Time
}

// Streaming is optional; plugins that can't push live data simply
// report false from SupportsNativePush for every stream type. The
// streaming manager then polls via Historical for StreamOHLCV; other
// stream types without native push fail with CodeFeatureUnsupported.
type Streaming interface {
	SupportsNativePush(streamType StreamType) bool
	Watch(ctx context.Context, symbol string, streamType StreamType) (<-chan Payload, error)
}

// Plugin is the full capability set a registered provider adapter
// implements. Streaming is optional — an adapter with no live feeds
// can still satisfy Plugin by returning false from every
// SupportsNativePush call and a closed/nil channel from Watch.
type Plugin interface {
	Identity
	Lifecycle
	ReferenceData
	Historical
	Streaming
}

// Factory constructs a Plugin instance bound to one provider_id.
type Factory func(providerID string, creds *Credentials, testnet bool) (Plugin, error)
