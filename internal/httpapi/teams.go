package httpapi

import (
	"net/http"

	"github.com/corelay/corelay/internal/store"
)

func (s *Server) registerTeamRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/teams/{id}/tasks", s.authMiddleware(s.handleTeamTasks))
}

// teamTaskView is the wire shape GET /api/teams/{id}/tasks returns: one
// row per in-flight or completed hand-off within the team, the
// observability mirror spec.md §4.5's supplement describes.
type teamTaskView struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	Owner          string `json:"owner"`
	BlockedBy      string `json:"blockedBy,omitempty"`
	Status         string `json:"status"`
	Result         string `json:"result,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func toTeamTaskView(t *store.TeamTask) teamTaskView {
	v := teamTaskView{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Subject:        t.Subject,
		Owner:          t.OwnerAgentID,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if t.BlockedBy != nil {
		v.BlockedBy = *t.BlockedBy
	}
	if t.Result != nil {
		v.Result = *t.Result
	}
	return v
}

func (s *Server) handleTeamTasks(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("id")
	tasks, err := s.store.TeamTasks(r.Context(), teamID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	views := make([]teamTaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTeamTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}
