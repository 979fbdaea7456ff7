// Package store implements the durable queue store: tables for inbound
// messages and outbound responses, with status, retry counters, and claim
// ownership, atomic claim-next-for-agent, and maintenance operations.
package store

import "time"

// Message status values, per spec.md §3.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusDead       = "dead"
)

// Response status values, per spec.md §3.
const (
	RespStatusPending = "pending"
	RespStatusAcked   = "acked"
)

// DefaultAgentTarget is the sentinel target used when a message carries no
// explicit routing target.
const DefaultAgentTarget = "default"

// Team task status values: the team task board's own small state machine,
// independent of message/response status (spec.md §4.5 supplement).
const (
	TeamTaskStatusInProgress = "in_progress"
	TeamTaskStatusCompleted  = "completed"
)

// Message is one row of the queued-message table (spec.md §3).
type Message struct {
	ID              int64
	ClientMessageID string
	Channel         string
	SenderDisplay   string
	SenderID        string
	Text            string
	TargetAgentID   *string
	Files           []string
	ConversationID  *string
	FromAgentID     *string
	Status          string
	RetryCount      int
	LastError       *string
	ClaimerAgentID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Response is one row of the queued-response table (spec.md §3).
type Response struct {
	ID              int64
	ClientMessageID string
	Channel         string
	SenderDisplay   string
	SenderID        string
	Text            string
	OriginalText    string
	AgentID         string
	Files           []string
	Metadata        map[string]string
	Status          string
	CreatedAt       time.Time
	AckedAt         *time.Time
}

// QueueStatus is the snapshot spec.md §6's GET /api/queue/status returns.
type QueueStatus struct {
	Incoming           int `json:"incoming"`
	Processing         int `json:"processing"`
	Outgoing           int `json:"outgoing"`
	Dead               int `json:"dead"`
	ActiveConversations int `json:"activeConversations"`
}

// EnqueueMessageInput is the payload accepted by EnqueueMessage.
type EnqueueMessageInput struct {
	ClientMessageID string
	Channel         string
	SenderDisplay   string
	SenderID        string
	Text            string
	TargetAgentID   *string
	Files           []string
	ConversationID  *string
	FromAgentID     *string
}

// EnqueueResponseInput is the payload accepted by EnqueueResponse.
type EnqueueResponseInput struct {
	ClientMessageID string
	Channel         string
	SenderDisplay   string
	SenderID        string
	Text            string
	OriginalText    string
	AgentID         string
	Files           []string
	Metadata        map[string]string
}

// DuplicateIDError is returned by EnqueueMessage when the client message id
// already exists, per spec.md §4.1.
type DuplicateIDError struct {
	ClientMessageID string
}

func (e *DuplicateIDError) Error() string {
	return "duplicate client message id: " + e.ClientMessageID
}

// NotFoundError is returned by operations that target a specific row id
// that does not exist (or is not in the expected state).
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found or not eligible"
}

// TeamTask is one row of the team task board: an observability mirror of a
// single in-flight hand-off within a team conversation (spec.md §4.5
// supplement). It does not back any completion decision; the in-memory
// conversation pending-branch counter remains authoritative for that.
type TeamTask struct {
	ID             int64
	TeamID         string
	ConversationID string
	Subject        string
	OwnerAgentID   string
	BlockedBy      *string
	Status         string
	Result         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateTeamTaskInput is the payload accepted by CreateTeamTask.
type CreateTeamTaskInput struct {
	TeamID         string
	ConversationID string
	Subject        string
	OwnerAgentID   string
	BlockedBy      string
}
