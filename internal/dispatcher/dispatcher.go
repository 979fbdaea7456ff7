// Package dispatcher implements the scheduling core of spec.md §4.4: a
// per-agent serial executor map, a claim loop that wakes on enqueue
// notification or tick, and the ten-step claimed-row processing pipeline.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/corelay/corelay/internal/bus"
	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/conversation"
	"github.com/corelay/corelay/internal/hooks"
	"github.com/corelay/corelay/internal/invoker"
	"github.com/corelay/corelay/internal/store"
)

var tracer = otel.Tracer("corelay/dispatcher")

// Dispatcher owns the per-agent executor map and the claim loop.
type Dispatcher struct {
	store         *store.Store
	cfg           *config.Config
	registry      *invoker.Registry
	conversations *conversation.Tracker
	incoming      *hooks.Pipeline
	outgoing      *hooks.Pipeline
	events        bus.EventPublisher
	logger        *slog.Logger

	workspaceRoot   string
	attachmentsDir  string
	maxMessageChars int
	maxRetries      int

	mu        sync.Mutex
	executors map[string]*executor

	wake chan struct{}
}

// New builds a Dispatcher wired to its collaborators. The wake channel
// holds at most one pending "something changed" signal; further signals
// are dropped while one is queued (the signal is a hint, not a guaranteed
// delivery channel).
func New(
	st *store.Store,
	cfg *config.Config,
	registry *invoker.Registry,
	conversations *conversation.Tracker,
	incoming, outgoing *hooks.Pipeline,
	events bus.EventPublisher,
	workspaceRoot, attachmentsDir string,
	maxMessageChars, maxRetries int,
) *Dispatcher {
	return &Dispatcher{
		store:           st,
		cfg:             cfg,
		registry:        registry,
		conversations:   conversations,
		incoming:        incoming,
		outgoing:        outgoing,
		events:          events,
		logger:          slog.Default().With("component", "dispatcher"),
		workspaceRoot:   workspaceRoot,
		attachmentsDir:  attachmentsDir,
		maxMessageChars: maxMessageChars,
		maxRetries:      maxRetries,
		executors:       make(map[string]*executor),
		wake:            make(chan struct{}, 1),
	}
}

// Notify hints the claim loop that new work may be available; it never
// blocks the caller.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the claim loop until ctx is cancelled: on every tick or
// notification it asks the store for distinct pending agents and attempts
// one claim per agent, handing each claimed row to that agent's serial
// executor.
func (d *Dispatcher) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	d.events.Emit(bus.Event{Name: bus.EventProcessorStart, Fields: map[string]any{"at": time.Now()}})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.claimRound(ctx)
		case <-d.wake:
			d.claimRound(ctx)
		}
	}
}

func (d *Dispatcher) claimRound(ctx context.Context) {
	agents, err := d.store.PendingAgents(ctx)
	if err != nil {
		d.logger.Error("list pending agents failed", "error", err)
		return
	}
	for _, agentID := range agents {
		msg, err := d.store.ClaimNext(ctx, agentID)
		if err != nil {
			d.logger.Error("claim failed", "agent", agentID, "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		claimed := msg
		d.submitToAgent(agentID, func() {
			d.processClaimed(ctx, claimed)
		})
	}
}

// submitToAgent hands task to agentID's executor, retrying with a freshly
// fetched executor if the one getExecutor returned tore itself down (idle
// teardown) between being looked up and being submitted to — otherwise the
// task would be enqueued onto a channel nobody will ever read again and the
// claimed row would sit at status=processing until stale-claim recovery.
func (d *Dispatcher) submitToAgent(agentID string, task func()) {
	for {
		if d.getExecutor(agentID).submit(task) {
			return
		}
	}
}

func (d *Dispatcher) getExecutor(agentID string) *executor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ex, ok := d.executors[agentID]; ok {
		return ex
	}
	var ex *executor
	ex = newExecutor(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.executors[agentID] == ex {
			delete(d.executors, agentID)
		}
	})
	d.executors[agentID] = ex
	return ex
}

// resolveProvider maps an agent's configured provider name to a
// registered invoker.Provider.
func (d *Dispatcher) resolveProvider(providerName string) (invoker.Provider, error) {
	p, ok := d.registry.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
	return p, nil
}
