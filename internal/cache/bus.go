package cache

import (
	"context"
	"time"
)

// Message is a single published feed update, grounded on the shape of
// the teacher's stream.Message (internal/stream/bus.go) but trimmed to
// what spec §5's pub/sub coupling actually needs: a channel, a payload,
// and a publish time for staleness checks downstream.
type Message struct {
	Channel   string
	Payload   []byte
	Timestamp time.Time
}

// Handler processes one delivered Message. A returned error is logged
// by the bus implementation but never stops delivery to other
// subscribers.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the sole cross-process coupling mechanism between a streaming
// feed writer and the subscription service's fan-out readers (spec
// §4.3/§5): publish a bar/trade/book update once, every subscribed
// client view process picks it up independently.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	Close() error
}

// Subscription lets the caller stop receiving without tearing down the
// whole bus connection.
type Subscription interface {
	Unsubscribe() error
}
