package store

import (
	"context"
	"database/sql"
)

// CreateTeamTask inserts an in_progress team task row: a hand-off from
// BlockedBy to OwnerAgentID within a team conversation.
func (s *Store) CreateTeamTask(ctx context.Context, in CreateTeamTaskInput) (*TeamTask, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO team_tasks (
			team_id, conversation_id, subject, owner_agent_id, blocked_by,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.TeamID, in.ConversationID, in.Subject, in.OwnerAgentID, nullableStr(strPtr(in.BlockedBy)),
		TeamTaskStatusInProgress, ts, ts,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetTeamTask(ctx, id)
}

// GetTeamTask fetches a single team task row by surrogate id.
func (s *Store) GetTeamTask(ctx context.Context, id int64) (*TeamTask, error) {
	row := s.db.QueryRowContext(ctx, teamTaskSelectSQL+` WHERE id = ?`, id)
	return scanTeamTask(row)
}

// CompleteTeamTask marks the most recent in_progress task owned by
// ownerAgentID within conversationID as completed, recording result. It is
// a no-op, not an error, when the owner has no in-progress task in this
// conversation — the conversation's first (non-handoff) step never had one.
func (s *Store) CompleteTeamTask(ctx context.Context, conversationID, ownerAgentID, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE team_tasks SET status = ?, result = ?, updated_at = ?
		WHERE conversation_id = ? AND owner_agent_id = ? AND status = ?`,
		TeamTaskStatusCompleted, result, now(),
		conversationID, ownerAgentID, TeamTaskStatusInProgress,
	)
	return err
}

// TeamTasks lists every task recorded for teamID, oldest first, the view
// GET /api/teams/{id}/tasks returns.
func (s *Store) TeamTasks(ctx context.Context, teamID string) ([]*TeamTask, error) {
	rows, err := s.db.QueryContext(ctx, teamTaskSelectSQL+` WHERE team_id = ? ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TeamTask
	for rows.Next() {
		t, err := scanTeamTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const teamTaskSelectSQL = `SELECT
	id, team_id, conversation_id, subject, owner_agent_id, blocked_by,
	status, result, created_at, updated_at
	FROM team_tasks`

func scanTeamTask(row rowScanner) (*TeamTask, error) {
	var t TeamTask
	var blockedBy, result sql.NullString
	if err := row.Scan(
		&t.ID, &t.TeamID, &t.ConversationID, &t.Subject, &t.OwnerAgentID, &blockedBy,
		&t.Status, &result, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.BlockedBy = nullableOut(blockedBy)
	t.Result = nullableOut(result)
	return &t, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
