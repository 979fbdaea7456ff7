package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/corelay/corelay/internal/store"
)

const defaultResponsesLimit = 50

func (s *Server) registerResponseRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/responses", s.authMiddleware(s.handleResponsesList))
	mux.HandleFunc("GET /api/responses/pending", s.authMiddleware(s.handleResponsesPending))
	mux.HandleFunc("POST /api/responses", s.authMiddleware(s.rateLimited(s.handleResponsesCreate)))
	mux.HandleFunc("POST /api/responses/{id}/ack", s.authMiddleware(s.handleResponsesAck))
}

// responseView is the wire shape spec.md §6 names for GET /api/responses
// and GET /api/responses/pending.
type responseView struct {
	ID              int64             `json:"id,omitempty"`
	Channel         string            `json:"channel"`
	Sender          string            `json:"sender"`
	SenderID        string            `json:"senderId"`
	Message         string            `json:"message"`
	OriginalMessage string            `json:"originalMessage"`
	Timestamp       string            `json:"timestamp"`
	MessageID       string            `json:"messageId"`
	Agent           string            `json:"agent"`
	Files           []string          `json:"files,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func toResponseView(r *store.Response) responseView {
	return responseView{
		ID:              r.ID,
		Channel:         r.Channel,
		Sender:          r.SenderDisplay,
		SenderID:        r.SenderID,
		Message:         r.Text,
		OriginalMessage: r.OriginalText,
		Timestamp:       r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		MessageID:       r.ClientMessageID,
		Agent:           r.AgentID,
		Files:           r.Files,
		Metadata:        r.Metadata,
	}
}

func (s *Server) handleResponsesList(w http.ResponseWriter, r *http.Request) {
	limit := defaultResponsesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	responses, err := s.store.RecentResponses(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	views := make([]responseView, 0, len(responses))
	for _, resp := range responses {
		v := toResponseView(resp)
		v.ID = 0 // recent-responses listing omits the surrogate id, per spec.md §6
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleResponsesPending(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel is required"})
		return
	}
	responses, err := s.store.PendingResponses(r.Context(), channel)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	views := make([]responseView, 0, len(responses))
	for _, resp := range responses {
		views = append(views, toResponseView(resp))
	}
	writeJSON(w, http.StatusOK, views)
}

type createResponseRequest struct {
	Channel  string            `json:"channel"`
	Sender   string            `json:"sender"`
	SenderID string            `json:"senderId"`
	Message  string            `json:"message"`
	Agent    string            `json:"agent"`
	Files    []string          `json:"files"`
	Metadata map[string]string `json:"metadata"`
}

// handleResponsesCreate implements POST /api/responses: a proactive
// outbound response an operator or external job wants delivered to a
// channel, bypassing the inbound message/dispatch pipeline entirely.
func (s *Server) handleResponsesCreate(w http.ResponseWriter, r *http.Request) {
	var req createResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Channel == "" || req.Sender == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel, sender, and message are required"})
		return
	}
	agent := req.Agent
	if agent == "" {
		agent = "system"
	}
	resp, err := s.store.EnqueueResponse(r.Context(), store.EnqueueResponseInput{
		ClientMessageID: uuid.NewString(),
		Channel:         req.Channel,
		SenderDisplay:   req.Sender,
		SenderID:        req.SenderID,
		Text:            req.Message,
		OriginalText:    req.Message,
		AgentID:         agent,
		Files:           req.Files,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toResponseView(resp))
}

func (s *Server) handleResponsesAck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.store.AckResponse(r.Context(), id); err != nil {
		if _, ok := err.(*store.NotFoundError); ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
