// Package httpapi exposes spec.md §6's inbound HTTP surface: queue status,
// response listing/posting/acking, dead-letter maintenance, and a live
// event feed over SSE and WebSocket.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/store"
)

// Server hosts the queue/response/dead-letter/event HTTP endpoints.
type Server struct {
	store         *store.Store
	conversations *conversation.Tracker
	events        *bus.Bus
	token         string
	logger        *slog.Logger

	limiter  *keyedLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
}

// New builds a Server. rateLimitRPM <= 0 disables rate limiting.
func New(st *store.Store, conversations *conversation.Tracker, events *bus.Bus, token string, rateLimitRPM int) *Server {
	s := &Server{
		store:         st,
		conversations: conversations,
		events:        events,
		token:         token,
		logger:        slog.Default().With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if rateLimitRPM > 0 {
		s.limiter = newKeyedLimiter(rate.Limit(float64(rateLimitRPM)/60.0), rateLimitRPM)
	}
	return s
}

// BuildMux registers every route once and caches the result.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	s.registerQueueRoutes(mux)
	s.registerResponseRoutes(mux)
	s.registerTeamRoutes(mux)
	s.registerEventRoutes(mux)
	s.mux = mux
	return mux
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(rateLimitKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && extractBearerToken(r) != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
