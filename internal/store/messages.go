package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnqueueMessage appends a pending row with retry_count=0 and no claimer.
// Fails with *DuplicateIDError if the client message id already exists.
func (s *Store) EnqueueMessage(ctx context.Context, in EnqueueMessageInput) (*Message, error) {
	filesJSON, err := marshalFiles(in.Files)
	if err != nil {
		return nil, err
	}
	ts := now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			client_message_id, channel, sender_display, sender_id, text_body,
			target_agent_id, files, conversation_id, from_agent_id,
			status, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		in.ClientMessageID, in.Channel, in.SenderDisplay, in.SenderID, in.Text,
		nullableStr(in.TargetAgentID), filesJSON, nullableStr(in.ConversationID), nullableStr(in.FromAgentID),
		StatusPending, ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateIDError{ClientMessageID: in.ClientMessageID}
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify()
	}
	return msg, nil
}

// GetMessage fetches a single message row by surrogate id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelectSQL+" WHERE id = ?", id)
	return scanMessage(row)
}

// ClaimNext atomically claims the oldest pending message targeting agentID
// (or untargeted, when agentID is DefaultAgentTarget), inside a single
// BEGIN IMMEDIATE transaction. Returns (nil, nil) if nothing matches.
func (s *Store) ClaimNext(ctx context.Context, agentID string) (*Message, error) {
	var claimed *Message
	err := s.withImmediateTx(ctx, func(tx dbTx) error {
		var query string
		var args []any
		if agentID == DefaultAgentTarget {
			query = messageSelectSQL + ` WHERE status = ? AND (target_agent_id IS NULL OR target_agent_id = ?) ORDER BY created_at ASC LIMIT 1`
			args = []any{StatusPending, DefaultAgentTarget}
		} else {
			query = messageSelectSQL + ` WHERE status = ? AND target_agent_id = ? ORDER BY created_at ASC LIMIT 1`
			args = []any{StatusPending, agentID}
		}
		row := tx.QueryRowContext(ctx, query, args...)
		msg, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		ts := now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ?, claimer_agent_id = ?, updated_at = ? WHERE id = ?`,
			StatusProcessing, agentID, ts, msg.ID,
		); err != nil {
			return err
		}
		msg.Status = StatusProcessing
		msg.ClaimerAgentID = &agentID
		msg.UpdatedAt = ts
		claimed = msg
		return nil
	})
	return claimed, err
}

// CompleteMessage marks a claimed message completed.
func (s *Store) CompleteMessage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, now(), id,
	)
	return err
}

// FailMessage records an invocation error, incrementing retry_count. Past
// MAX_RETRIES the message becomes dead-lettered; otherwise it returns to
// pending with no claimer, per spec.md §4.1's contract.
func (s *Store) FailMessage(ctx context.Context, id int64, errText string, maxRetries int) error {
	return s.withImmediateTx(ctx, func(tx dbTx) error {
		row := tx.QueryRowContext(ctx, `SELECT retry_count FROM messages WHERE id = ?`, id)
		var retryCount int
		if err := row.Scan(&retryCount); err != nil {
			return err
		}
		retryCount++

		status := StatusPending
		var claimer any = nil
		if retryCount >= maxRetries {
			status = StatusDead
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ?, retry_count = ?, claimer_agent_id = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			status, retryCount, claimer, errText, now(), id,
		)
		return err
	})
}

// PendingAgents returns the distinct COALESCE(target_agent_id, "default")
// values over pending rows, the list the dispatcher wakes per tick.
func (s *Store) PendingAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT COALESCE(target_agent_id, ?) FROM messages WHERE status = ?`,
		DefaultAgentTarget, StatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeadMessages lists every message currently in status=dead.
func (s *Store) DeadMessages(ctx context.Context) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelectSQL+` WHERE status = ? ORDER BY updated_at DESC`, StatusDead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RetryDead flips a dead message back to pending with retry_count reset.
func (s *Store) RetryDead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, retry_count = 0, claimer_agent_id = NULL, last_error = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending, now(), id, StatusDead,
	)
	if err != nil {
		return err
	}
	return requireOneRowAffected(res, "message", id)
}

// DeleteDead permanently removes a dead message row.
func (s *Store) DeleteDead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND status = ?`, id, StatusDead)
	if err != nil {
		return err
	}
	return requireOneRowAffected(res, "message", id)
}

// RecoverStale resets any processing row whose updated_at predates
// thresholdSeconds ago back to pending with no claimer (spec.md §4.1,
// §8 property 8). Returns the number of rows recovered.
func (s *Store) RecoverStale(ctx context.Context, thresholdSeconds int) (int, error) {
	cutoff := now().Add(-secondsToDuration(thresholdSeconds))
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, claimer_agent_id = NULL, updated_at = ? WHERE status = ? AND updated_at < ?`,
		StatusPending, now(), StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PruneCompleted deletes completed messages older than retentionSeconds.
func (s *Store) PruneCompleted(ctx context.Context, retentionSeconds int) (int, error) {
	cutoff := now().Add(-secondsToDuration(retentionSeconds))
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE status = ? AND updated_at < ?`, StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const messageSelectSQL = `SELECT
	id, client_message_id, channel, sender_display, sender_id, text_body,
	target_agent_id, files, conversation_id, from_agent_id,
	status, retry_count, last_error, claimer_agent_id, created_at, updated_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var targetAgentID, conversationID, fromAgentID, lastError, claimerAgentID sql.NullString
	var filesJSON string
	if err := row.Scan(
		&m.ID, &m.ClientMessageID, &m.Channel, &m.SenderDisplay, &m.SenderID, &m.Text,
		&targetAgentID, &filesJSON, &conversationID, &fromAgentID,
		&m.Status, &m.RetryCount, &lastError, &claimerAgentID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.TargetAgentID = nullableOut(targetAgentID)
	m.ConversationID = nullableOut(conversationID)
	m.FromAgentID = nullableOut(fromAgentID)
	m.LastError = nullableOut(lastError)
	m.ClaimerAgentID = nullableOut(claimerAgentID)
	files, err := unmarshalFiles(filesJSON)
	if err != nil {
		return nil, err
	}
	m.Files = files
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalFiles(files []string) (string, error) {
	if files == nil {
		files = []string{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("marshal files: %w", err)
	}
	return string(b), nil
}

func unmarshalFiles(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var files []string
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	return files, nil
}

func nullableStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableOut(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func requireOneRowAffected(res sql.Result, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
