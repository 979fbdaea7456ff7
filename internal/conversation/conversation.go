// Package conversation tracks in-flight team chains: the pending branch
// count, accumulated step responses, and collected file references that
// let the dispatcher decide when a fanned-out conversation is done and
// compose its final reply. State lives in memory only, per spec.md §3 —
// nothing here is durable, matching goclaw's in-process session-state
// pattern rather than its durable store packages.
package conversation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corelay/corelay/internal/config"
)

// Step is one completed invocation recorded against a conversation.
type Step struct {
	AgentID      string
	AgentDisplay string
	Response     string
}

// Conversation is the in-memory record of one team-scoped request's chain.
type Conversation struct {
	ID              string
	OriginMessageID string
	OriginChannel   string
	OriginSender    string
	OriginSenderID  string
	TeamID          string
	Team            config.TeamSpec

	MaxMessages int

	mu               sync.Mutex
	pending          int
	steps            []Step
	fileOrder        []string
	fileSeen         map[string]bool
	totalMessages    int
	outgoingMentions map[string]int
	startedAt        time.Time
}

// NewID mints a conversation id from the originating message id and a
// timestamp, per spec.md §4.5 — unique and stable for observability.
func NewID(originMessageID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", originMessageID, at.UnixNano())
}

// newConversation constructs an empty conversation with one pending branch
// (the first step about to run).
func newConversation(id, originMessageID, channel, sender, senderID, teamID string, team config.TeamSpec, maxMessages int, startedAt time.Time) *Conversation {
	return &Conversation{
		ID:               id,
		OriginMessageID:  originMessageID,
		OriginChannel:    channel,
		OriginSender:     sender,
		OriginSenderID:   senderID,
		TeamID:           teamID,
		Team:             team,
		MaxMessages:      maxMessages,
		pending:          1,
		fileSeen:         map[string]bool{},
		outgoingMentions: map[string]int{},
		startedAt:        startedAt,
	}
}

// AppendStep records one completed invocation's output and files and
// returns the conversation's current pending count. It does not decrement
// the count; DecrementPending does that.
func (c *Conversation) AppendStep(agentID, agentDisplay, response string, files []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, Step{AgentID: agentID, AgentDisplay: agentDisplay, Response: response})
	for _, f := range files {
		if !c.fileSeen[f] {
			c.fileSeen[f] = true
			c.fileOrder = append(c.fileOrder, f)
		}
	}
	c.totalMessages++
	return c.pending
}

// AtCapacity reports whether the conversation has reached MaxMessages and
// further mentions should be dropped rather than fanned out.
func (c *Conversation) AtCapacity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalMessages >= c.MaxMessages
}

// AddPendingBranches increments the pending counter by n, for n newly
// enqueued teammate mentions.
func (c *Conversation) AddPendingBranches(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending += n
}

// DecrementPending decrements the pending counter for one finished branch
// and returns the counter after decrementing.
func (c *Conversation) DecrementPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	return c.pending
}

// PendingBranches reports the number of branches still in flight,
// including the caller's own; the dispatcher subtracts one from it to warn
// an agent mid-chain that teammates are still working.
func (c *Conversation) PendingBranches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// RecordMention increments agentID's outgoing-mention count.
func (c *Conversation) RecordMention(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outgoingMentions[agentID]++
}

// StartedAt reports when the conversation was created, for TTL sweeps.
func (c *Conversation) StartedAt() time.Time {
	return c.startedAt
}

// Summary is the data needed to compose the final user-facing reply.
type Summary struct {
	Steps []Step
	Files []string
}

// Snapshot returns a read-only copy of the conversation's steps and file
// set, under lock, for composing the final reply.
func (c *Conversation) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	steps := make([]Step, len(c.steps))
	copy(steps, c.steps)
	files := make([]string, len(c.fileOrder))
	copy(files, c.fileOrder)
	return Summary{Steps: steps, Files: files}
}

// Tracker is the process-wide conversation registry, keyed by conversation
// id. Insertion and removal on the map are guarded by a single mutex; each
// Conversation's own fields are guarded independently, so the dispatcher
// never holds the tracker lock across a subprocess invocation.
type Tracker struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	ttl           time.Duration
	maxMessages   int
}

// NewTracker builds a tracker with the given conversation TTL and
// safety-cap defaults (spec.md §6 tunables).
func NewTracker(ttl time.Duration, maxMessages int) *Tracker {
	return &Tracker{
		conversations: map[string]*Conversation{},
		ttl:           ttl,
		maxMessages:   maxMessages,
	}
}

// GetOrCreate returns the existing conversation for id, or creates one via
// the given origin fields if none exists yet.
func (t *Tracker) GetOrCreate(id, originMessageID, channel, sender, senderID, teamID string, team config.TeamSpec, now time.Time) (*Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conversations[id]; ok {
		return c, false
	}
	c := newConversation(id, originMessageID, channel, sender, senderID, teamID, team, t.maxMessages, now)
	t.conversations[id] = c
	return c, true
}

// Get looks up a conversation by id without creating one.
func (t *Tracker) Get(id string) (*Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conversations[id]
	return c, ok
}

// Remove deletes a conversation from the map (completion or TTL expiry).
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conversations, id)
}

// ActiveCount reports the number of tracked conversations, for the queue
// status snapshot's activeConversations field.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conversations)
}

// SweepExpired removes every conversation older than the tracker's TTL and
// returns their ids, regardless of pending count. A branch still in flight
// when its conversation is swept finds the id gone from the tracker and
// finishes without decrementing or replying.
func (t *Tracker) SweepExpired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for id, c := range t.conversations {
		if now.Sub(c.startedAt) > t.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(t.conversations, id)
	}
	sort.Strings(expired)
	return expired
}
