package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EnqueueResponse records an agent's reply for delivery to its origin
// channel, status=pending until the channel adapter acks it.
func (s *Store) EnqueueResponse(ctx context.Context, in EnqueueResponseInput) (*Response, error) {
	filesJSON, err := marshalFiles(in.Files)
	if err != nil {
		return nil, err
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	ts := now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (
			client_message_id, channel, sender_display, sender_id, text_body,
			original_text, agent_id, files, metadata, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ClientMessageID, in.Channel, in.SenderDisplay, in.SenderID, in.Text,
		in.OriginalText, in.AgentID, filesJSON, metaJSON, RespStatusPending, ts,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetResponse(ctx, id)
}

// GetResponse fetches a single response row by surrogate id.
func (s *Store) GetResponse(ctx context.Context, id int64) (*Response, error) {
	row := s.db.QueryRowContext(ctx, responseSelectSQL+" WHERE id = ?", id)
	return scanResponse(row)
}

// PendingResponses lists pending responses for one channel, oldest first —
// what a channel adapter polls to learn what to deliver next.
func (s *Store) PendingResponses(ctx context.Context, channel string) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx,
		responseSelectSQL+` WHERE channel = ? AND status = ? ORDER BY created_at ASC`,
		channel, RespStatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

// RecentResponses lists the most recent responses across all channels,
// newest first, capped at limit.
func (s *Store) RecentResponses(ctx context.Context, limit int) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx,
		responseSelectSQL+` ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

// AckResponse marks a response delivered. Acking an already-acked response
// is a no-op, per spec.md §4.1's idempotent-ack requirement.
func (s *Store) AckResponse(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE responses SET status = ?, acked_at = ? WHERE id = ? AND status = ?`,
		RespStatusAcked, now(), id, RespStatusPending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already acked, or the id doesn't exist at all: distinguish so callers
		// can tell apart "nothing to do" from "bad id".
		var exists bool
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM responses WHERE id = ?`, id)
		if scanErr := row.Scan(&exists); scanErr == sql.ErrNoRows {
			return &NotFoundError{Resource: "response", ID: id}
		}
	}
	return nil
}

// PruneAcked deletes acked responses older than retentionSeconds.
func (s *Store) PruneAcked(ctx context.Context, retentionSeconds int) (int, error) {
	cutoff := now().Add(-secondsToDuration(retentionSeconds))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM responses WHERE status = ? AND acked_at < ?`, RespStatusAcked, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Status returns the queue snapshot backing GET /api/queue/status.
// activeConversations is supplied by the caller since it lives in the
// in-memory conversation tracker, not this table.
func (s *Store) Status(ctx context.Context, activeConversations int) (*QueueStatus, error) {
	qs := &QueueStatus{ActiveConversations: activeConversations}
	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&qs.Incoming, `SELECT COUNT(*) FROM messages WHERE status = ?`, []any{StatusPending}},
		{&qs.Processing, `SELECT COUNT(*) FROM messages WHERE status = ?`, []any{StatusProcessing}},
		{&qs.Outgoing, `SELECT COUNT(*) FROM responses WHERE status = ?`, []any{RespStatusPending}},
		{&qs.Dead, `SELECT COUNT(*) FROM messages WHERE status = ?`, []any{StatusDead}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return qs, nil
}

const responseSelectSQL = `SELECT
	id, client_message_id, channel, sender_display, sender_id, text_body,
	original_text, agent_id, files, metadata, status, created_at, acked_at
	FROM responses`

func scanResponse(row rowScanner) (*Response, error) {
	var r Response
	var filesJSON, metaJSON string
	var ackedAt sql.NullTime
	if err := row.Scan(
		&r.ID, &r.ClientMessageID, &r.Channel, &r.SenderDisplay, &r.SenderID, &r.Text,
		&r.OriginalText, &r.AgentID, &filesJSON, &metaJSON, &r.Status, &r.CreatedAt, &ackedAt,
	); err != nil {
		return nil, err
	}
	if ackedAt.Valid {
		r.AckedAt = &ackedAt.Time
	}
	files, err := unmarshalFiles(filesJSON)
	if err != nil {
		return nil, err
	}
	r.Files = files
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	r.Metadata = meta
	return &r, nil
}

func scanResponses(rows *sql.Rows) ([]*Response, error) {
	var out []*Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}
