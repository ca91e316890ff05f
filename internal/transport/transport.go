// Package transport defines the narrow boundary between the
// subscription service and whatever physical connection carries
// frames to a client (spec §6's wire protocol). SPEC_FULL.md resolves
// the client-transport Open Question by keeping this interface small
// and shipping one reference implementation over gorilla/websocket,
// the teacher's transport library of choice.
package transport

import "context"

// Frame is one JSON message of the client wire protocol (spec §6).
type Frame struct {
	Type    string      `json:"type"`
	Market  string      `json:"market,omitempty"`
	Provider string     `json:"provider,omitempty"`
	Symbol  string      `json:"symbol,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	Stream  string      `json:"stream,omitempty"`
	Since   *int64      `json:"since,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ClientSender is the minimal capability the subscription service
// needs from a transport: push a frame, with a deadline, and know when
// the client is gone. A concrete transport (websocket, SSE, in-process
// test double) implements this without the subscription service ever
// seeing connection-level details.
type ClientSender interface {
	Send(ctx context.Context, frame Frame) error
	Closed() <-chan struct{}
	Close() error
}
