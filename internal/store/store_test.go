package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "corelay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueMessageDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := EnqueueMessageInput{ClientMessageID: "abc", Channel: "discord", SenderDisplay: "alice", SenderID: "u1", Text: "hi"}

	if _, err := s.EnqueueMessage(ctx, in); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := s.EnqueueMessage(ctx, in)
	if _, ok := err.(*DuplicateIDError); !ok {
		t.Fatalf("expected *DuplicateIDError, got %v", err)
	}
}

func TestClaimNextExclusiveUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := s.EnqueueMessage(ctx, EnqueueMessageInput{
			ClientMessageID: fmt.Sprintf("msg-%d", i),
			Channel:         "discord",
			SenderDisplay:   "alice",
			SenderID:        "u1",
			Text:            "hi",
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var mu sync.Mutex
	claimedIDs := map[int64]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := s.ClaimNext(ctx, DefaultAgentTarget)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if msg == nil {
					return
				}
				mu.Lock()
				claimedIDs[msg.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimedIDs) != 20 {
		t.Fatalf("expected 20 distinct claims, got %d", len(claimedIDs))
	}
	for id, n := range claimedIDs {
		if n != 1 {
			t.Fatalf("message %d claimed %d times, want exactly 1", id, n)
		}
	}
}

func TestClaimNextPerAgentFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent := "backend"

	for i := 0; i < 5; i++ {
		if _, err := s.EnqueueMessage(ctx, EnqueueMessageInput{
			ClientMessageID: fmt.Sprintf("m-%d", i),
			Channel:         "discord",
			SenderDisplay:   "alice",
			SenderID:        "u1",
			Text:            fmt.Sprintf("text-%d", i),
			TargetAgentID:   &agent,
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		msg, err := s.ClaimNext(ctx, agent)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if msg == nil {
			t.Fatalf("expected message %d, got nil", i)
		}
		want := fmt.Sprintf("text-%d", i)
		if msg.Text != want {
			t.Fatalf("claim order broken: got %q want %q", msg.Text, want)
		}
	}
}

func TestClaimNextUntargetedDoesNotLeakAcrossAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	other := "other-agent"

	if _, err := s.EnqueueMessage(ctx, EnqueueMessageInput{
		ClientMessageID: "targeted",
		Channel:         "discord",
		SenderDisplay:   "alice",
		SenderID:        "u1",
		Text:            "for other",
		TargetAgentID:   &other,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msg, err := s.ClaimNext(ctx, DefaultAgentTarget)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if msg != nil {
		t.Fatalf("default claimer should not see messages targeted at %q", other)
	}
}

func TestFailMessageDeadLettersAtMaxRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const maxRetries = 3

	msg, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "x", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 1; i <= maxRetries; i++ {
		claimed, err := s.ClaimNext(ctx, DefaultAgentTarget)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("claim %d: expected message, got nil (was it dead-lettered too early?)", i)
		}
		if err := s.FailMessage(ctx, msg.ID, "boom", maxRetries); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusDead {
		t.Fatalf("expected status dead after %d failures, got %q", maxRetries, got.Status)
	}
	if got.RetryCount != maxRetries {
		t.Fatalf("expected retry_count %d, got %d", maxRetries, got.RetryCount)
	}

	dead, err := s.DeadMessages(ctx)
	if err != nil {
		t.Fatalf("DeadMessages: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != msg.ID {
		t.Fatalf("expected dead list to contain message %d, got %+v", msg.ID, dead)
	}
}

func TestFailMessageBelowThresholdReturnsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "x", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, DefaultAgentTarget); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailMessage(ctx, msg.ID, "transient", 5); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected status pending, got %q", got.Status)
	}
	if got.ClaimerAgentID != nil {
		t.Fatalf("expected claimer cleared, got %v", *got.ClaimerAgentID)
	}
}

func TestRetryDeadResetsRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "x", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, DefaultAgentTarget); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailMessage(ctx, msg.ID, "boom", 1); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := s.RetryDead(ctx, msg.ID); err != nil {
		t.Fatalf("RetryDead: %v", err)
	}
	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.RetryCount != 0 {
		t.Fatalf("expected pending/0, got %q/%d", got.Status, got.RetryCount)
	}
}

func TestAckResponseIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	resp, err := s.EnqueueResponse(ctx, EnqueueResponseInput{
		ClientMessageID: "m1", Channel: "discord", SenderDisplay: "a", SenderID: "u",
		Text: "hi", OriginalText: "hi", AgentID: "default",
	})
	if err != nil {
		t.Fatalf("enqueue response: %v", err)
	}

	if err := s.AckResponse(ctx, resp.ID); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := s.AckResponse(ctx, resp.ID); err != nil {
		t.Fatalf("second ack should be a no-op, got error: %v", err)
	}

	got, err := s.GetResponse(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != RespStatusAcked || got.AckedAt == nil {
		t.Fatalf("expected acked response with AckedAt set, got %+v", got)
	}
}

func TestAckResponseUnknownIDNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.AckResponse(ctx, 999)
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}

func TestRecoverStaleRequeuesOldProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "x", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, DefaultAgentTarget); err != nil {
		t.Fatalf("claim: %v", err)
	}

	restore := freezeNow(time.Now().Add(-time.Hour))
	// backdate the claim by touching updated_at directly, simulating a
	// worker that claimed and then vanished.
	_, err = s.db.ExecContext(ctx, `UPDATE messages SET updated_at = ? WHERE id = ?`, now(), msg.ID)
	restore()
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.RecoverStale(ctx, 600)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered, got %d", n)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.ClaimerAgentID != nil {
		t.Fatalf("expected recovered message pending with no claimer, got %+v", got)
	}
}

func TestQueueStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "p1", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := s.EnqueueMessage(ctx, EnqueueMessageInput{ClientMessageID: "p2", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, DefaultAgentTarget); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = claimed

	if _, err := s.EnqueueResponse(ctx, EnqueueResponseInput{ClientMessageID: "r1", Channel: "discord", SenderDisplay: "a", SenderID: "u", Text: "t", OriginalText: "t", AgentID: "default"}); err != nil {
		t.Fatalf("enqueue response: %v", err)
	}

	status, err := s.Status(ctx, 2)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Processing != 1 {
		t.Fatalf("expected 1 processing, got %d", status.Processing)
	}
	if status.Outgoing != 1 {
		t.Fatalf("expected 1 outgoing, got %d", status.Outgoing)
	}
	if status.ActiveConversations != 2 {
		t.Fatalf("expected activeConversations passthrough of 2, got %d", status.ActiveConversations)
	}
}

func TestSetNotifyFuncFiresOnceOnSuccessfulEnqueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	s.SetNotifyFunc(func() { calls++ })

	in := EnqueueMessageInput{ClientMessageID: "abc", Channel: "discord", SenderDisplay: "alice", SenderID: "u1", Text: "hi"}
	if _, err := s.EnqueueMessage(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected notify to fire exactly once, got %d", calls)
	}

	// A duplicate-ID failure must not trigger the notify callback.
	if _, err := s.EnqueueMessage(ctx, in); err == nil {
		t.Fatal("expected duplicate enqueue to fail")
	}
	if calls != 1 {
		t.Fatalf("expected notify call count unchanged after failed enqueue, got %d", calls)
	}

	if _, err := s.EnqueueMessage(ctx, EnqueueMessageInput{
		ClientMessageID: "def", Channel: "discord", SenderDisplay: "alice", SenderID: "u1", Text: "hi again",
	}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected notify to fire again on a second successful enqueue, got %d", calls)
	}
}

// freezeNow overrides the package-level now() for the duration of a backdate
// operation and returns a restore func.
func freezeNow(t time.Time) func() {
	orig := now
	now = func() time.Time { return t }
	return func() { now = orig }
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
