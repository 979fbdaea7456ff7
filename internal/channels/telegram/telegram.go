// Package telegram is a reference Channel adapter over the Telegram Bot
// API's long-polling update stream, trimmed to the enqueue/send round trip
// and leaving out goclaw's streaming previews, status reactions, and
// slash-command menu, none of which are part of corelay's core.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/channels"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/store"
)

// Channel connects to Telegram via Bot API long polling.
type Channel struct {
	bot        *telego.Bot
	store      *store.Store
	events     bus.EventPublisher
	running    bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	logger     *slog.Logger
}

// New creates a Telegram channel from cfg.
func New(cfg config.TelegramConfig, st *store.Store, events bus.EventPublisher) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:    bot,
		store:  st,
		events: events,
		logger: slog.Default().With("component", "channels.telegram"),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.running = true
	c.logger.Info("telegram channel connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.running = false
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg channels.OutboundMessage) error {
	if !c.running {
		return fmt.Errorf("telegram channel not running")
	}
	chatID, err := chatIDFromString(msg.ChatID)
	if err != nil {
		return err
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	})
	return err
}

func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot || m.Text == "" {
		return
	}
	chatID := fmt.Sprintf("%d", m.Chat.ID)
	senderID := fmt.Sprintf("%d", m.From.ID)
	c.events.Emit(bus.Event{Name: bus.EventMessageReceived, Fields: map[string]any{
		"at": time.Now(), "channel": c.Name(), "sender": telegramDisplayName(m),
	}})
	// TargetAgentID is left nil so the dispatcher's routing resolver runs
	// @agent/@team addressing on the message text; a pre-set target would
	// bypass resolution entirely (dispatcher step 1).
	msg, err := c.store.EnqueueMessage(context.Background(), store.EnqueueMessageInput{
		ClientMessageID: fmt.Sprintf("telegram-%d-%d", m.Chat.ID, m.MessageID),
		Channel:         c.Name(),
		SenderDisplay:   telegramDisplayName(m),
		SenderID:        chatID + "|" + senderID,
		Text:            m.Text,
	})
	if err != nil {
		if _, ok := err.(*store.DuplicateIDError); ok {
			return
		}
		c.logger.Error("enqueue inbound telegram message failed", "error", err)
		return
	}
	c.events.Emit(bus.Event{Name: bus.EventMessageEnqueued, Fields: map[string]any{
		"at": time.Now(), "message_id": msg.ID, "channel": c.Name(),
	}})
}

func telegramDisplayName(m *telego.Message) string {
	if m.From.Username != "" {
		return m.From.Username
	}
	return m.From.FirstName
}

// chatIDFromString parses the "<chatID>|<senderID>" compound form Send
// receives as msg.ChatID back out into a numeric Telegram chat id.
func chatIDFromString(s string) (telego.ChatID, error) {
	raw := s
	if idx := strings.IndexByte(s, '|'); idx >= 0 {
		raw = s[:idx]
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
	}
	return telego.ChatID{ID: id}, nil
}
