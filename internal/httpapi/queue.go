package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/corelay/corelay/internal/store"
)

func (s *Server) registerQueueRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/queue/status", s.authMiddleware(s.handleQueueStatus))
	mux.HandleFunc("GET /api/queue/dead", s.authMiddleware(s.handleDeadList))
	mux.HandleFunc("POST /api/queue/dead/{id}/retry", s.authMiddleware(s.handleDeadRetry))
	mux.HandleFunc("DELETE /api/queue/dead/{id}", s.authMiddleware(s.handleDeadDelete))
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context(), s.conversations.ActiveCount())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeadList(w http.ResponseWriter, r *http.Request) {
	dead, err := s.store.DeadMessages(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dead)
}

func (s *Server) handleDeadRetry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.store.RetryDead(r.Context(), id); err != nil {
		writeDeadLetterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleDeadDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.store.DeleteDead(r.Context(), id); err != nil {
		writeDeadLetterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func writeDeadLetterError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	if asNotFound(err, &notFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func asNotFound(err error, target **store.NotFoundError) bool {
	nf, ok := err.(*store.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
