package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/channels"
	"github.com/corelay/corelay/internal/channels/discord"
	"github.com/corelay/corelay/internal/channels/telegram"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/dispatcher"
	"github.com/corelay/corelay/internal/heartbeat"
	"github.com/corelay/corelay/internal/hooks"
	"github.com/corelay/corelay/internal/httpapi"
	"github.com/corelay/corelay/internal/invoker"
	"github.com/corelay/corelay/internal/maintenance"
	"github.com/corelay/corelay/internal/store"
	"github.com/corelay/corelay/internal/tracing"
)

const (
	dispatcherTick    = time.Second
	maintenanceTick   = 30 * time.Second
	defaultHTTPAddr   = "%s:%d"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the corelay daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

func runServe() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	workspace := config.ExpandHome(cfg.Workspace.Path)
	if !filepath.IsAbs(workspace) {
		if abs, absErr := filepath.Abs(workspace); absErr == nil {
			workspace = abs
		}
	}
	attachmentsDir := filepath.Join(workspace, "attachments")
	if err := os.MkdirAll(attachmentsDir, 0o755); err != nil {
		return fmt.Errorf("create attachments directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workspace, "uploads"), 0o755); err != nil {
		return fmt.Errorf("create uploads directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if n, err := st.RecoverStale(ctx, cfg.Retry.StaleClaimThresholdSec); err != nil {
		slog.Error("initial stale-claim recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("recovered stale claims at startup", "count", n)
	}

	eventBus := bus.New()

	conversations := conversation.NewTracker(
		secondsToDuration(cfg.Retry.ConversationTTLSec),
		cfg.Retry.ConversationMaxMessages,
	)

	incoming := hooks.Load(cfg.Hooks.Incoming)
	outgoing := hooks.Load(cfg.Hooks.Outgoing)

	registry := invoker.NewRegistry(
		invoker.NewClaudeProvider(""),
		invoker.NewCodexProvider(""),
		invoker.NewGeminiProvider(""),
	)

	disp := dispatcher.New(
		st, cfg, registry, conversations,
		incoming, outgoing, eventBus,
		workspace, attachmentsDir,
		cfg.HTTP.MaxMessageChars, cfg.Retry.MaxRetries,
	)
	st.SetNotifyFunc(disp.Notify)

	maint := maintenance.New(st, conversations, maintenance.FromRetryConfig(cfg.Retry))
	hb := heartbeat.New(st, cfg, eventBus)
	api := httpapi.New(st, conversations, eventBus, cfg.HTTP.Token, cfg.HTTP.RateLimitRPM)

	activeChannels, err := startChannels(ctx, cfg, st, eventBus)
	if err != nil {
		return err
	}

	slog.Info("corelay starting",
		"version", Version,
		"workspace", workspace,
		"agents", len(cfg.Agents),
		"teams", len(cfg.Teams),
		"channels", channelNames(activeChannels),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(gctx, dispatcherTick) })
	g.Go(func() error { return maint.Run(gctx, maintenanceTick) })
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error {
		addr := fmt.Sprintf(defaultHTTPAddr, cfg.HTTP.Host, cfg.HTTP.Port)
		return api.Run(gctx, addr)
	})

	<-gctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ch := range activeChannels {
		if err := ch.Stop(stopCtx); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	slog.Info("corelay stopped")
	return nil
}

func startChannels(ctx context.Context, cfg *config.Config, st *store.Store, eventBus bus.EventPublisher) ([]channels.Channel, error) {
	var active []channels.Channel

	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, st, eventBus)
		if err != nil {
			return nil, fmt.Errorf("create discord channel: %w", err)
		}
		if err := ch.Start(ctx); err != nil {
			return nil, fmt.Errorf("start discord channel: %w", err)
		}
		active = append(active, ch)
	}

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, st, eventBus)
		if err != nil {
			return nil, fmt.Errorf("create telegram channel: %w", err)
		}
		if err := ch.Start(ctx); err != nil {
			return nil, fmt.Errorf("start telegram channel: %w", err)
		}
		active = append(active, ch)
	}

	return active, nil
}

func channelNames(chs []channels.Channel) []string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = ch.Name()
	}
	return names
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
