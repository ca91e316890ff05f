// Package httpapi exposes the engine's ops surface (/healthz,
// /metrics) and the client websocket upgrade endpoint, grounded on the
// teacher's Server type (internal/interfaces/http/server.go):
// gorilla/mux router, request-ID and structured-logging middleware,
// a listen-then-serve constructor, graceful Shutdown. Routes are
// rebuilt around this engine's subscription service instead of the
// teacher's read-only scan/candidates API.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/churst90/accessible-trader-sub001/internal/key"
	"github.com/churst90/accessible-trader-sub001/internal/metrics"
	"github.com/churst90/accessible-trader-sub001/internal/plugin"
	"github.com/churst90/accessible-trader-sub001/internal/subscription"
	"github.com/churst90/accessible-trader-sub001/internal/transport"
)

// Config holds the HTTP server's own tuning, independent of the
// domain-level config.Config so this package stays importable without
// pulling in the whole engine wiring graph.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{Addr: "127.0.0.1:8090", ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second}
}

// Server is the ops + client-facing HTTP/WS surface.
type Server struct {
	router  *mux.Router
	server  *http.Server
	cfg     Config
	subs    *subscription.Service
	metrics *metrics.Registry
	upgrader websocket.Upgrader
}

// New builds a Server bound to cfg.Addr; it does not start listening.
func New(cfg Config, subs *subscription.Service, m *metrics.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		subs:    subs,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = mux.NewRouter()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleWebSocket upgrades the connection and dispatches to the
// subscription service per spec §4.8/§6's subscribe message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sender := transport.NewWebSocketSender(conn)
	clientID := uuid.New().String()

	go s.readLoop(clientID, sender, conn)
}

// readLoop decodes client subscribe/unsubscribe frames for the
// lifetime of the connection.
func (s *Server) readLoop(clientID string, sender *transport.WebSocketSender, conn *websocket.Conn) {
	defer sender.Close()
	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		sk := key.SubscriptionKey{Market: frame.Market, Provider: frame.Provider, Symbol: frame.Symbol, Timeframe: frame.Timeframe}
		streamType := plugin.StreamType(frame.Stream)
		if streamType == "" {
			streamType = plugin.StreamOHLCV
		}

		switch frame.Type {
		case "subscribe":
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := s.subs.Subscribe(ctx, clientID, sender, sk, streamType, frame.Since, "")
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("client", clientID).Msg("subscribe failed")
			}
		case "unsubscribe":
			s.subs.Unsubscribe(clientID, sk, streamType)
		}
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapper, r)
		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves until Shutdown is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	return s.server.Serve(listener)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
