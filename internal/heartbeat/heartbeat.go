// Package heartbeat periodically enqueues a self-prompt message for agents
// configured with a heartbeat interval, so an agent that would otherwise sit
// idle gets a chance to report status or continue unattended work.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/store"
)

const defaultPromptText = "(heartbeat) continue any outstanding work, or report status."

// Producer enqueues a self-prompt for each scheduled agent (every
// configured agent, when the global heartbeat interval is positive) once
// its cron expression is due.
type Producer struct {
	store      *store.Store
	cfg        *config.Config
	events     bus.EventPublisher
	logger     *slog.Logger
	promptText string

	schedules map[string]string // agent id -> cron expression
}

// New builds a Producer from the global monitoring.heartbeat_interval,
// applied to every configured agent. An interval of 0 disables heartbeats
// entirely (Producer.Run then just waits for ctx cancellation).
func New(st *store.Store, cfg *config.Config, events bus.EventPublisher) *Producer {
	p := &Producer{
		store:      st,
		cfg:        cfg,
		events:     events,
		logger:     slog.Default().With("component", "heartbeat"),
		promptText: defaultPromptText,
		schedules:  map[string]string{},
	}
	interval := cfg.Monitoring.HeartbeatInterval
	if interval <= 0 {
		return p
	}
	expr := intervalToCronExpr(interval)
	for id := range cfg.Agents {
		p.schedules[id] = expr
	}
	return p
}

// intervalToCronExpr converts a configured interval in seconds to a
// minute-granularity cron expression, since gronx schedules at minute
// resolution; sub-minute intervals round up to every minute.
func intervalToCronExpr(intervalSec int) string {
	minutes := intervalSec / 60
	if intervalSec%60 != 0 || minutes < 1 {
		minutes++
	}
	if minutes <= 1 {
		return "* * * * *"
	}
	if minutes >= 60 {
		hours := minutes / 60
		if hours < 1 {
			hours = 1
		}
		return fmt.Sprintf("0 */%d * * *", hours)
	}
	return fmt.Sprintf("*/%d * * * *", minutes)
}

// Run checks every agent's schedule once a minute until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	if len(p.schedules) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	p.fireDue(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			p.fireDue(ctx, t)
		}
	}
}

func (p *Producer) fireDue(ctx context.Context, now time.Time) {
	for agentID, expr := range p.schedules {
		// gronx treats a 5-field expression as due only at second 0, so
		// align the check time to the start of its minute.
		due, err := gronx.New().IsDue(expr, now.Truncate(time.Minute))
		if err != nil {
			p.logger.Error("invalid heartbeat schedule", "agent", agentID, "expr", expr, "error", err)
			continue
		}
		if !due {
			continue
		}
		if err := p.enqueue(ctx, agentID); err != nil {
			p.logger.Error("heartbeat enqueue failed", "agent", agentID, "error", err)
		}
	}
}

func (p *Producer) enqueue(ctx context.Context, agentID string) error {
	target := agentID
	clientID := fmt.Sprintf("heartbeat-%s-%d", agentID, time.Now().UnixNano())
	msg, err := p.store.EnqueueMessage(ctx, store.EnqueueMessageInput{
		ClientMessageID: clientID,
		Channel:         "heartbeat",
		SenderDisplay:   "heartbeat",
		SenderID:        "heartbeat",
		Text:            p.promptText,
		TargetAgentID:   &target,
	})
	if err != nil {
		return err
	}
	p.events.Emit(bus.Event{Name: bus.EventMessageEnqueued, Fields: map[string]any{
		"at": time.Now(), "message_id": msg.ID, "channel": "heartbeat", "agent_id": agentID,
	}})
	return nil
}
