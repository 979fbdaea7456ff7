package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/corelay/corelay/internal/artifacts"
	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/hooks"
	"github.com/corelay/corelay/internal/invoker"
	"github.com/corelay/corelay/internal/routing"
	"github.com/corelay/corelay/internal/store"
)

const apologyText = "I'm sorry, something went wrong processing your request."

// outboundThumbnailMaxWidth bounds the width of image attachments sent
// alongside a reply; wider images are replaced by a resized preview next
// to the original file.
const outboundThumbnailMaxWidth = 1024

// thumbnailImages replaces each image path in files with its resized
// preview, leaving non-image attachments untouched. A thumbnail failure
// logs and falls back to the original file rather than dropping it.
func (d *Dispatcher) thumbnailImages(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !artifacts.IsImage(f) {
			out = append(out, f)
			continue
		}
		thumb, err := artifacts.Thumbnail(f, outboundThumbnailMaxWidth)
		if err != nil {
			d.logger.Error("thumbnail image attachment failed", "path", f, "error", err)
			out = append(out, f)
			continue
		}
		out = append(out, thumb)
	}
	return out
}

// processClaimed runs the ten-step pipeline of spec.md §4.4 over one
// already-claimed message row. A returned error from any of steps 1-10
// funnels into failMessage, spec.md's single retry/dead-letter entry
// point; invocation failures in step 8 are handled locally and never
// reach this funnel.
func (d *Dispatcher) processClaimed(ctx context.Context, msg *store.Message) {
	ctx, span := tracer.Start(ctx, "dispatcher.route")
	span.SetAttributes(
		attribute.Int64("corelay.message_id", msg.ID),
	)
	err := d.process(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if failErr := d.store.FailMessage(ctx, msg.ID, err.Error(), d.maxRetries); failErr != nil {
			d.logger.Error("failMessage itself failed", "message_id", msg.ID, "error", failErr)
		}
	}
	span.End()
}

func (d *Dispatcher) process(ctx context.Context, msg *store.Message) error {
	agentID, strippedText, resolution, err := d.resolveTarget(ctx, msg)
	if err != nil {
		return err
	}
	if resolution != nil && resolution.Kind == routing.KindErrorMulti {
		return d.shortCircuitMultiTarget(ctx, msg, resolution.Message)
	}

	agentID = d.fallbackAgentID(agentID)
	if agentID == "" {
		return fmt.Errorf("no agent configured to handle message %d", msg.ID)
	}
	agentSpec, ok := d.cfg.Agent(agentID)
	if !ok {
		return fmt.Errorf("resolved agent %q is not configured", agentID)
	}
	d.events.Emit(map2event(bus.EventAgentRouted, map[string]any{"message_id": msg.ID, "agent_id": agentID}))

	teamID, team, conv := d.determineTeamContext(msg, agentID, resolution)

	workDir, createdWorkDir, err := invoker.ResolveWorkingDirectory(d.workspaceRoot, agentID, agentSpec.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if createdWorkDir {
		d.logger.Info("created agent working directory", "agent", agentID, "path", workDir)
		d.events.Emit(map2event(bus.EventWorkdirCreated, map[string]any{"agent_id": agentID, "path": workDir}))
	}
	reset, err := invoker.ConsumeResetFlag(workDir)
	if err != nil {
		return fmt.Errorf("check reset flag: %w", err)
	}

	prompt := strippedText
	if conv != nil && msg.ConversationID != nil {
		// pending includes this very branch, so subtract it to get the
		// count of *other* branches still in flight (step 6).
		if others := conv.PendingBranches() - 1; others > 0 {
			prompt = fmt.Sprintf("%s\n\n(%d other teammates are still processing this request; do not re-mention them.)", prompt, others)
		}
	}

	hookCtx := hooks.Context{Channel: msg.Channel, Sender: msg.SenderDisplay, MessageID: msg.ClientMessageID, OriginalText: msg.Text}
	finalPrompt, _ := d.incoming.Run(prompt, hookCtx)

	d.events.Emit(chainEvent("chain_step_start", agentID, teamID, msg))
	response := d.invoke(ctx, agentSpec, agentID, finalPrompt, workDir, reset)
	d.events.Emit(chainEvent("chain_step_done", agentID, teamID, msg))

	if conv == nil {
		return d.finishDirectReply(ctx, msg, agentID, response, hookCtx)
	}
	return d.finishTeamStep(ctx, msg, agentID, agentSpec.Name, teamID, team, conv, response)
}

// resolveTarget implements step 1: trust a pre-set target, otherwise run
// the routing resolver.
func (d *Dispatcher) resolveTarget(ctx context.Context, msg *store.Message) (agentID, strippedText string, resolution *routing.Resolution, err error) {
	if msg.TargetAgentID != nil && *msg.TargetAgentID != "" {
		return *msg.TargetAgentID, msg.Text, nil, nil
	}
	r := routing.Resolve(msg.Text, d.cfg.Agents, d.cfg.Teams)
	return r.AgentID, r.StrippedText, &r, nil
}

// shortCircuitMultiTarget implements step 2.
func (d *Dispatcher) shortCircuitMultiTarget(ctx context.Context, msg *store.Message, explanation string) error {
	if _, err := d.store.EnqueueResponse(ctx, store.EnqueueResponseInput{
		ClientMessageID: msg.ClientMessageID,
		Channel:         msg.Channel,
		SenderDisplay:   msg.SenderDisplay,
		SenderID:        msg.SenderID,
		Text:            explanation,
		OriginalText:    msg.Text,
		AgentID:         "router",
	}); err != nil {
		return fmt.Errorf("enqueue multi-target response: %w", err)
	}
	return d.store.CompleteMessage(ctx, msg.ID)
}

// fallbackAgentID implements step 3.
func (d *Dispatcher) fallbackAgentID(agentID string) string {
	if _, ok := d.cfg.Agent(agentID); ok {
		return agentID
	}
	return d.cfg.ResolveDefaultAgentID()
}

// determineTeamContext implements step 4: internal follow-ups inherit
// their conversation's team context; otherwise use the resolved team (if
// the routing resolution targeted one), or the first team the agent
// belongs to; otherwise no team context.
func (d *Dispatcher) determineTeamContext(msg *store.Message, agentID string, resolution *routing.Resolution) (teamID string, team config.TeamSpec, conv *conversation.Conversation) {
	if msg.ConversationID != nil {
		if existing, ok := d.conversations.Get(*msg.ConversationID); ok {
			return existing.TeamID, existing.Team, existing
		}
		// Conversation already expired/swept: no-op team step, direct reply.
		return "", config.TeamSpec{}, nil
	}
	if resolution != nil && resolution.Kind == routing.KindTeamLeader && resolution.Team != nil {
		teamID, team = resolution.TeamID, *resolution.Team
	} else if id, t, ok := d.cfg.TeamForAgent(agentID); ok {
		teamID, team = id, t
	} else {
		return "", config.TeamSpec{}, nil
	}

	convID := conversation.NewID(msg.ClientMessageID, time.Now())
	var created bool
	conv, created = d.conversations.GetOrCreate(convID, msg.ClientMessageID, msg.Channel, msg.SenderDisplay, msg.SenderID, teamID, team, time.Now())
	if created {
		d.events.Emit(map2event(bus.EventTeamChainStart, map[string]any{
			"conversation_id": conv.ID, "team_id": teamID, "leader": team.Leader, "members": team.Agents,
		}))
	}
	return teamID, team, conv
}

// invoke implements step 8: run the provider and substitute a generic
// apology on failure, logging the original error.
func (d *Dispatcher) invoke(ctx context.Context, agentSpec config.AgentSpec, agentID, prompt, workDir string, reset bool) string {
	provider, err := d.resolveProvider(agentSpec.Provider)
	if err != nil {
		d.logger.Error("provider resolution failed", "agent", agentID, "error", err)
		return apologyText
	}
	out, err := provider.Invoke(ctx, invoker.InvokeRequest{
		AgentID:          agentID,
		Model:            agentSpec.Model,
		Prompt:           prompt,
		WorkingDirectory: workDir,
		Reset:            reset,
	})
	if err != nil {
		d.logger.Error("invocation failed", "agent", agentID, "error", err)
		return apologyText
	}
	return out
}

// finishDirectReply implements step 9.
func (d *Dispatcher) finishDirectReply(ctx context.Context, msg *store.Message, agentID, response string, hookCtx hooks.Context) error {
	cleaned, files := artifacts.ExtractSendFileDirectives(response)

	body := cleaned
	if spillPath, err := artifacts.SpillToFile(d.attachmentsDir, msg.ClientMessageID, cleaned, d.maxMessageChars); err != nil {
		d.logger.Error("spill to file failed", "message_id", msg.ID, "error", err)
	} else if spillPath != "" {
		files = append(files, spillPath)
		body = artifacts.Truncated(cleaned, d.maxMessageChars)
	}
	files = d.thumbnailImages(files)

	finalText, _ := d.outgoing.Run(body, hookCtx)

	if _, err := d.store.EnqueueResponse(ctx, store.EnqueueResponseInput{
		ClientMessageID: msg.ClientMessageID,
		Channel:         msg.Channel,
		SenderDisplay:   msg.SenderDisplay,
		SenderID:        msg.SenderID,
		Text:            finalText,
		OriginalText:    response,
		AgentID:         agentID,
		Files:           files,
	}); err != nil {
		return fmt.Errorf("enqueue response: %w", err)
	}
	d.events.Emit(map2event("response_ready", map[string]any{"message_id": msg.ID, "agent_id": agentID}))
	return d.store.CompleteMessage(ctx, msg.ID)
}

// finishTeamStep implements step 10.
func (d *Dispatcher) finishTeamStep(ctx context.Context, msg *store.Message, agentID, agentDisplay, teamID string, team config.TeamSpec, conv *conversation.Conversation, response string) error {
	if _, ok := d.conversations.Get(conv.ID); !ok {
		// The conversation was swept while this branch ran: orphan, no-op.
		d.logger.Warn("conversation gone before team step finished", "conversation", conv.ID, "agent", agentID)
		return d.store.CompleteMessage(ctx, msg.ID)
	}
	cleaned, files := artifacts.ExtractSendFileDirectives(response)
	conv.AppendStep(agentID, agentDisplay, cleaned, files)

	if err := d.store.CompleteTeamTask(ctx, conv.ID, agentID, cleaned); err != nil {
		d.logger.Error("complete team task failed", "conversation", conv.ID, "agent", agentID, "error", err)
	}

	mentions := conversation.ExtractMentions(cleaned)
	eligible := 0
	if len(mentions) > 0 && !conv.AtCapacity() {
		for _, m := range d.eligibleMentions(mentions, team, agentID) {
			convIDCopy := conv.ID
			fromAgentCopy := agentID
			targetCopy := m.AgentID
			if _, err := d.store.EnqueueMessage(ctx, store.EnqueueMessageInput{
				ClientMessageID: fmt.Sprintf("%s-%s-%d", conv.ID, m.AgentID, time.Now().UnixNano()),
				Channel:         msg.Channel,
				SenderDisplay:   msg.SenderDisplay,
				SenderID:        msg.SenderID,
				Text:            m.Message,
				TargetAgentID:   &targetCopy,
				ConversationID:  &convIDCopy,
				FromAgentID:     &fromAgentCopy,
			}); err != nil {
				d.logger.Error("enqueue internal follow-up failed", "conversation", conv.ID, "error", err)
				continue
			}
			if _, err := d.store.CreateTeamTask(ctx, store.CreateTeamTaskInput{
				TeamID:         teamID,
				ConversationID: conv.ID,
				Subject:        m.Message,
				OwnerAgentID:   m.AgentID,
				BlockedBy:      agentID,
			}); err != nil {
				d.logger.Error("create team task failed", "conversation", conv.ID, "owner", m.AgentID, "error", err)
			}
			conv.RecordMention(agentID)
			eligible++
		}
	} else if len(mentions) > 0 {
		d.logger.Warn("conversation at capacity, dropping teammate mentions", "conversation", conv.ID, "mentions", len(mentions))
	}
	if eligible > 0 {
		conv.AddPendingBranches(eligible)
		d.events.Emit(map2event("chain_handoff", map[string]any{"conversation_id": conv.ID, "from": agentID, "count": eligible}))
	}

	if pending := conv.DecrementPending(); pending == 0 {
		if err := d.completeConversation(ctx, conv, teamID, team); err != nil {
			return err
		}
	}
	return d.store.CompleteMessage(ctx, msg.ID)
}

// resolvedMention is one teammate mention after it has been resolved to a
// canonical agent id and cleared for fan-out.
type resolvedMention struct {
	AgentID string
	Message string
}

// eligibleMentions implements spec.md §4.5's mention-filtering contract:
// keep only slugs that resolve to a member of team (other than agentID
// itself), and deduplicate repeated mentions of the same resolved agent,
// preserving first-seen order.
func (d *Dispatcher) eligibleMentions(mentions []conversation.Mention, team config.TeamSpec, agentID string) []resolvedMention {
	members := make(map[string]bool, len(team.Agents))
	for _, a := range team.Agents {
		members[a] = true
	}
	seen := make(map[string]bool)
	var out []resolvedMention
	for _, m := range mentions {
		targetAgentID, ok := routing.MatchAgent(m.Slug, d.cfg.Agents)
		if !ok || !members[targetAgentID] || targetAgentID == agentID || seen[targetAgentID] {
			continue
		}
		seen[targetAgentID] = true
		out = append(out, resolvedMention{AgentID: targetAgentID, Message: m.Message})
	}
	return out
}

func (d *Dispatcher) completeConversation(ctx context.Context, conv *conversation.Conversation, teamID string, team config.TeamSpec) error {
	summary := conv.Snapshot()
	summary.Files = d.thumbnailImages(summary.Files)
	reply := conversation.ComposeReply(summary)
	finalText, _ := d.outgoing.Run(reply, hooks.Context{Channel: conv.OriginChannel, Sender: conv.OriginSender, MessageID: conv.OriginMessageID, OriginalText: reply})

	leaderAgentID := team.Leader
	if _, err := d.store.EnqueueResponse(ctx, store.EnqueueResponseInput{
		ClientMessageID: conv.OriginMessageID,
		Channel:         conv.OriginChannel,
		SenderDisplay:   conv.OriginSender,
		SenderID:        conv.OriginSenderID,
		Text:            finalText,
		OriginalText:    reply,
		AgentID:         leaderAgentID,
		Files:           summary.Files,
	}); err != nil {
		return fmt.Errorf("enqueue team chain response: %w", err)
	}
	d.events.Emit(map2event("team_chain_end", map[string]any{
		"team_id": teamID, "steps": len(summary.Steps), "members": team.Agents,
	}))
	d.conversations.Remove(conv.ID)
	return nil
}
