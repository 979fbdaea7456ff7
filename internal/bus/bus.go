package bus

import (
	"log/slog"
	"sync"
)

// Bus is the process-wide, in-memory implementation of EventPublisher.
// Subscriber bookkeeping is guarded by a mutex; Emit takes a snapshot of
// the subscriber list and calls each handler synchronously, catching
// panics so one broken subscriber never takes down the publisher or its
// siblings, per spec.md §4.7.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string]Handler),
		logger:   slog.Default().With("component", "bus"),
	}
}

// Subscribe registers handler under id, replacing any prior handler with
// the same id.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Emit fans event out to every subscriber synchronously. A subscriber
// that panics is logged and skipped; it never affects delivery to other
// subscribers or the caller's own control flow.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked", "event", event.Name, "recover", r)
		}
	}()
	h(event)
}
