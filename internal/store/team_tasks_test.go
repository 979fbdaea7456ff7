package store

import (
	"context"
	"testing"
)

func TestCreateAndListTeamTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTeamTask(ctx, CreateTeamTaskInput{
		TeamID:         "dev",
		ConversationID: "conv-1",
		Subject:        "review the patch",
		OwnerAgentID:   "reviewer",
		BlockedBy:      "lead",
	})
	if err != nil {
		t.Fatalf("CreateTeamTask: %v", err)
	}
	if task.Status != TeamTaskStatusInProgress {
		t.Fatalf("expected in_progress, got %q", task.Status)
	}
	if task.BlockedBy == nil || *task.BlockedBy != "lead" {
		t.Fatalf("expected blocked_by=lead, got %v", task.BlockedBy)
	}

	tasks, err := s.TeamTasks(ctx, "dev")
	if err != nil {
		t.Fatalf("TeamTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].OwnerAgentID != "reviewer" {
		t.Fatalf("expected owner reviewer, got %q", tasks[0].OwnerAgentID)
	}

	other, err := s.TeamTasks(ctx, "support")
	if err != nil {
		t.Fatalf("TeamTasks(support): %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no tasks for unrelated team, got %d", len(other))
	}
}

func TestCompleteTeamTaskMarksCompletedWithResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTeamTask(ctx, CreateTeamTaskInput{
		TeamID:         "dev",
		ConversationID: "conv-1",
		Subject:        "review the patch",
		OwnerAgentID:   "reviewer",
		BlockedBy:      "lead",
	}); err != nil {
		t.Fatalf("CreateTeamTask: %v", err)
	}

	if err := s.CompleteTeamTask(ctx, "conv-1", "reviewer", "looks good"); err != nil {
		t.Fatalf("CompleteTeamTask: %v", err)
	}

	tasks, err := s.TeamTasks(ctx, "dev")
	if err != nil {
		t.Fatalf("TeamTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != TeamTaskStatusCompleted {
		t.Fatalf("expected completed, got %q", tasks[0].Status)
	}
	if tasks[0].Result == nil || *tasks[0].Result != "looks good" {
		t.Fatalf("expected result to be recorded, got %v", tasks[0].Result)
	}
}

func TestCompleteTeamTaskNoOpWhenOwnerHasNoTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The conversation's first step (the leader's own work) never had a
	// hand-off task created for it; completing it must not error.
	if err := s.CompleteTeamTask(ctx, "conv-1", "lead", "done"); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}
