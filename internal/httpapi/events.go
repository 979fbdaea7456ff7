package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corelay/corelay/internal/bus"
)

func (s *Server) registerEventRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", s.authMiddleware(s.handleEventsSSE))
	mux.HandleFunc("GET /api/events/ws", s.authMiddleware(s.handleEventsWS))
}

// handleEventsSSE streams every bus event as a Server-Sent Event until the
// client disconnects.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan bus.Event, 32)
	subID := "sse-" + uuid.NewString()
	s.events.Subscribe(subID, func(e bus.Event) {
		select {
		case ch <- e:
		default:
			s.logger.Warn("sse subscriber slow, dropping event", "sub", subID, "event", e.Name)
		}
	})
	defer s.events.Unsubscribe(subID)

	ctx := r.Context()
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e := <-ch:
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, payload)
			flusher.Flush()
		}
	}
}

// handleEventsWS mirrors the SSE feed over a WebSocket connection for
// clients that prefer a persistent bidirectional socket (corelay never
// reads from it, only writes).
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan bus.Event, 32)
	subID := "ws-" + uuid.NewString()
	s.events.Subscribe(subID, func(e bus.Event) {
		select {
		case ch <- e:
		default:
			s.logger.Warn("ws subscriber slow, dropping event", "sub", subID, "event", e.Name)
		}
	})
	defer s.events.Unsubscribe(subID)

	// Drain client->server reads solely to detect disconnects; corelay's
	// WebSocket event feed is outbound-only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case e := <-ch:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
