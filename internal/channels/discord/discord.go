// Package discord is a reference Channel adapter over the Discord bot
// gateway, thin enough to exercise github.com/bwmarrin/discordgo without
// reimplementing goclaw's full pairing/allowlist/typing-indicator stack,
// which is out of scope for corelay's core.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/channels"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/store"
)

// Channel connects to Discord via the bot gateway.
type Channel struct {
	session   *discordgo.Session
	store     *store.Store
	events    bus.EventPublisher
	botUserID string
	running   bool
	logger    *slog.Logger
}

// New creates a Discord channel from cfg. st.EnqueueMessage is called for
// every inbound message not authored by the bot itself.
func New(cfg config.DiscordConfig, st *store.Store, events bus.EventPublisher) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		session: session,
		store:   st,
		events:  events,
		logger:  slog.Default().With("component", "channels.discord"),
	}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.running = true
	c.logger.Info("discord channel connected", "username", user.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.running = false
	return c.session.Close()
}

func (c *Channel) Send(_ context.Context, msg channels.OutboundMessage) error {
	if !c.running {
		return fmt.Errorf("discord channel not running")
	}
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Text)
	return err
}

func (c *Channel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}
	if m.Content == "" {
		return
	}
	c.events.Emit(bus.Event{Name: bus.EventMessageReceived, Fields: map[string]any{
		"at": time.Now(), "channel": c.Name(), "sender": m.Author.Username,
	}})
	// TargetAgentID is left nil so the dispatcher's routing resolver runs
	// @agent/@team addressing on the message text; a pre-set target would
	// bypass resolution entirely (dispatcher step 1).
	msg, err := c.store.EnqueueMessage(context.Background(), store.EnqueueMessageInput{
		ClientMessageID: "discord-" + m.ID,
		Channel:         c.Name(),
		SenderDisplay:   m.Author.Username,
		SenderID:        m.Author.ID,
		Text:            m.Content,
	})
	if err != nil {
		if _, ok := err.(*store.DuplicateIDError); ok {
			return
		}
		c.logger.Error("enqueue inbound discord message failed", "error", err)
		return
	}
	c.events.Emit(bus.Event{Name: bus.EventMessageEnqueued, Fields: map[string]any{
		"at": time.Now(), "message_id": msg.ID, "channel": c.Name(),
	}})
}
