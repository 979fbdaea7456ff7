package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "corelay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	tracker := conversation.NewTracker(30*time.Minute, 20)
	b := bus.New()
	s := New(st, tracker, b, "", 0)
	return s, st
}

func TestQueueStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/queue/status", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status store.QueueStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestResponsesCreateAndListRoundtrip(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.BuildMux()

	body := strings.NewReader(`{"channel":"discord","sender":"alice","message":"hello world"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/responses", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/responses?limit=10", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []responseView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Message != "hello world" {
		t.Fatalf("got %+v", views)
	}
}

func TestResponsesCreateMissingFieldsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/responses", strings.NewReader(`{"channel":"discord"}`))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResponsesPendingRequiresChannel(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/responses/pending", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResponsesAckUnknownIDReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/responses/9999/ack", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeadLetterRetryUnknownIDReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/dead/9999/retry", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTeamTasksEndpointReflectsStoreState(t *testing.T) {
	s, st := newTestServer(t)

	if _, err := st.CreateTeamTask(context.Background(), store.CreateTeamTaskInput{
		TeamID:         "dev",
		ConversationID: "conv-1",
		Subject:        "review the patch",
		OwnerAgentID:   "reviewer",
		BlockedBy:      "lead",
	}); err != nil {
		t.Fatalf("CreateTeamTask: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/teams/dev/tasks", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []teamTaskView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Owner != "reviewer" || views[0].Status != store.TeamTaskStatusInProgress {
		t.Fatalf("got %+v", views)
	}

	if err := st.CompleteTeamTask(context.Background(), "conv-1", "reviewer", "looks good"); err != nil {
		t.Fatalf("CompleteTeamTask: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/teams/dev/tasks", nil)
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Status != store.TeamTaskStatusCompleted || views[0].Result != "looks good" {
		t.Fatalf("got %+v", views)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "corelay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	tracker := conversation.NewTracker(30*time.Minute, 20)
	s := New(st, tracker, bus.New(), "secret-token", 0)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/status", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}
