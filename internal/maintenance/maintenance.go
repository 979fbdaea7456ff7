// Package maintenance drives the four named periodic jobs of spec.md
// §4.8 off a single cooperative ticker, so they never compete with the
// dispatcher for a dedicated goroutine-per-job budget.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/store"
)

// job is one named periodic task with its own interval, checked against a
// single shared ticker tick.
type job struct {
	name     string
	interval time.Duration
	lastRun  time.Time
	run      func(ctx context.Context) error
}

// Loop owns the four maintenance jobs and their independent schedules.
type Loop struct {
	store   *store.Store
	tracker *conversation.Tracker
	logger  *slog.Logger
	jobs    []*job
}

// Config bundles the tunables spec.md §6 lists for the maintenance loop.
type Config struct {
	StaleClaimInterval        time.Duration
	StaleClaimThresholdSec    int
	CompletedPruneInterval    time.Duration
	CompletedRetentionSec     int
	AckedPruneInterval        time.Duration
	AckedRetentionSec         int
	ConversationSweepInterval time.Duration
}

// DefaultConfig matches spec.md §4.8's stated cadences.
func DefaultConfig() Config {
	return Config{
		StaleClaimInterval:        5 * time.Minute,
		StaleClaimThresholdSec:    600,
		CompletedPruneInterval:    time.Hour,
		CompletedRetentionSec:     86400,
		AckedPruneInterval:        time.Hour,
		AckedRetentionSec:         86400,
		ConversationSweepInterval: 30 * time.Minute,
	}
}

// FromRetryConfig overlays operator-configured thresholds and retention
// windows from spec.md §6 onto the fixed cadences spec.md §4.8 defines;
// the four intervals themselves are not operator-tunable, only how
// aggressively each job reclaims.
func FromRetryConfig(rc config.RetryConfig) Config {
	cfg := DefaultConfig()
	if rc.StaleClaimThresholdSec > 0 {
		cfg.StaleClaimThresholdSec = rc.StaleClaimThresholdSec
	}
	if rc.CompletedRetentionSec > 0 {
		cfg.CompletedRetentionSec = rc.CompletedRetentionSec
	}
	if rc.ResponseRetentionSec > 0 {
		cfg.AckedRetentionSec = rc.ResponseRetentionSec
	}
	return cfg
}

// New builds the Loop's four jobs from cfg.
func New(st *store.Store, tracker *conversation.Tracker, cfg Config) *Loop {
	l := &Loop{
		store:   st,
		tracker: tracker,
		logger:  slog.Default().With("component", "maintenance"),
	}
	l.jobs = []*job{
		{name: "recover_stale", interval: cfg.StaleClaimInterval, run: func(ctx context.Context) error {
			n, err := st.RecoverStale(ctx, cfg.StaleClaimThresholdSec)
			if err == nil && n > 0 {
				l.logger.Info("recovered stale claims", "count", n)
			}
			return err
		}},
		{name: "prune_completed", interval: cfg.CompletedPruneInterval, run: func(ctx context.Context) error {
			n, err := st.PruneCompleted(ctx, cfg.CompletedRetentionSec)
			if err == nil && n > 0 {
				l.logger.Info("pruned completed messages", "count", n)
			}
			return err
		}},
		{name: "prune_acked", interval: cfg.AckedPruneInterval, run: func(ctx context.Context) error {
			n, err := st.PruneAcked(ctx, cfg.AckedRetentionSec)
			if err == nil && n > 0 {
				l.logger.Info("pruned acked responses", "count", n)
			}
			return err
		}},
		{name: "conversation_ttl_sweep", interval: cfg.ConversationSweepInterval, run: func(ctx context.Context) error {
			expired := tracker.SweepExpired(time.Now())
			if len(expired) > 0 {
				l.logger.Info("swept expired conversations", "count", len(expired), "ids", expired)
			}
			return nil
		}},
	}
	return l
}

// Run ticks every resolution until ctx is cancelled, running any job whose
// interval has elapsed. A single fast tick keeps all four jobs checked
// without giving any one of them its own goroutine.
func (l *Loop) Run(ctx context.Context, resolution time.Duration) error {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	now := time.Now()
	for _, j := range l.jobs {
		j.lastRun = now
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			l.runDue(ctx, t)
		}
	}
}

func (l *Loop) runDue(ctx context.Context, now time.Time) {
	for _, j := range l.jobs {
		if now.Sub(j.lastRun) < j.interval {
			continue
		}
		j.lastRun = now
		if err := j.run(ctx); err != nil {
			l.logger.Error("maintenance job failed, retrying next tick", "job", j.name, "error", err)
		}
	}
}
