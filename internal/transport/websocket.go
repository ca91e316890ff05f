package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketSender adapts a *websocket.Conn to ClientSender, grounded
// on the teacher's Kraken WebSocketClient dial/read-loop shape
// (internal/providers/kraken/websocket.go) applied to the server side
// instead of a provider client. A ping ticker enforces spec §6's
// heartbeat: two missed pongs close the connection.
type WebSocketSender struct {
	conn       *websocket.Conn
	sendMu     sync.Mutex
	closed     chan struct{}
	closeOnce  sync.Once
	missedPong int
}

// NewWebSocketSender wraps an already-upgraded connection and starts
// its ping/pong heartbeat loop.
func NewWebSocketSender(conn *websocket.Conn) *WebSocketSender {
	w := &WebSocketSender{conn: conn, closed: make(chan struct{})}
	conn.SetPongHandler(func(string) error {
		w.missedPong = 0
		return nil
	})
	go w.heartbeatLoop()
	return w
}

func (w *WebSocketSender) Send(ctx context.Context, frame Frame) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, encoded)
}

func (w *WebSocketSender) Closed() <-chan struct{} { return w.closed }

func (w *WebSocketSender) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.conn.Close()
}

func (w *WebSocketSender) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.closed:
			return
		case <-ticker.C:
			w.missedPong++
			if w.missedPong > 2 {
				log.Warn().Msg("client missed 2 pongs, closing connection")
				w.Close()
				return
			}
			w.sendMu.Lock()
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.sendMu.Unlock()
			if err != nil {
				w.Close()
				return
			}
		}
	}
}
