package plugin

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// BreakerHistorical wraps a Historical implementation with a
// sony/gobreaker circuit breaker, replacing the teacher's hand-rolled
// CircuitBreaker (internal/provider/circuit_breaker.go) with the
// ecosystem library per this repo's dependency policy. Opens once at
// least 10 calls have been made within the current one-minute interval
// and at least half of them failed, same shape as the teacher's
// FailureThreshold/MinRequests config.
type BreakerHistorical struct {
	inner    Historical
	provider string
	cb       *gobreaker.CircuitBreaker
}

// NewBreakerHistorical builds a breaker-wrapped Historical for provider.
func NewBreakerHistorical(provider string, inner Historical) *BreakerHistorical {
	st := gobreaker.Settings{
		Name:        "plugin:" + provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}
	return &BreakerHistorical{inner: inner, provider: provider, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerHistorical) FetchHistorical1m(ctx context.Context, symbol string, sinceMs int64, limit int) ([]bar.Bar, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchHistorical1m(ctx, symbol, sinceMs, limit)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &Error{Code: CodeNetwork, Provider: b.provider, Message: "circuit open", Cause: err}
		}
		return nil, Wrap(b.provider, err)
	}
	return res.([]bar.Bar), nil
}

func (b *BreakerHistorical) MaxHistoricalPageSize() int {
	return b.inner.MaxHistoricalPageSize()
}

// State reports the breaker's current state for health/ops reporting.
func (b *BreakerHistorical) State() gobreaker.State {
	return b.cb.State()
}

// breakerPlugin wraps a Plugin so every FetchHistorical1m call goes
// through its provider's circuit breaker while every other method
// forwards straight to the wrapped instance.
type breakerPlugin struct {
	Plugin
	breaker *BreakerHistorical
}

// WrapWithBreaker returns inner with FetchHistorical1m routed through
// a circuit breaker of its own, named after provider; each call builds a
// new breaker. Used by factory construction so every plugin instance,
// regardless of venue, gets the same failure isolation.
func WrapWithBreaker(provider string, inner Plugin) Plugin {
	return &breakerPlugin{Plugin: inner, breaker: NewBreakerHistorical(provider, inner)}
}

func (p *breakerPlugin) FetchHistorical1m(ctx context.Context, symbol string, sinceMs int64, limit int) ([]bar.Bar, error) {
	return p.breaker.FetchHistorical1m(ctx, symbol, sinceMs, limit)
}

func (p *breakerPlugin) MaxHistoricalPageSize() int {
	return p.breaker.MaxHistoricalPageSize()
}
