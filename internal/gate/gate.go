// Package gate is the in-process event bus between the equipment and
// container restore phases.
package gate

import (
	"log/slog"
	"slices"
	"sync"
)

// Subscription identifies a registered handler.
type Subscription int

// Gate carries two channels: EquipmentRestored, fired at most once per load
// cycle, and ContainerContentChanged, fired on every nested-item mutation.
// Handlers run synchronously on the publisher's goroutine, outside the lock.
type Gate struct {
	mu        sync.Mutex
	logger    *slog.Logger
	fired     bool
	cycle     int
	nextID    Subscription
	restored  map[Subscription]func()
	changed   map[Subscription]func(key string)
	fallbacks map[Subscription]func(reason string)
}

// New returns an empty gate.
func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:    logger.With(slog.String("component", "gate")),
		restored:  make(map[Subscription]func()),
		changed:   make(map[Subscription]func(string)),
		fallbacks: make(map[Subscription]func(string)),
	}
}

// OnEquipmentRestored registers fn. A subscriber registered after the event
// fired is not called retroactively; it should check HasFired.
func (g *Gate) OnEquipmentRestored(fn func()) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.restored[g.nextID] = fn
	return g.nextID
}

// OnContainerContentChanged registers fn for nested-item mutations.
func (g *Gate) OnContainerContentChanged(fn func(key string)) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.changed[g.nextID] = fn
	return g.nextID
}

// OnFallback registers fn for the backup-trigger path: it is called when a
// load had to give up on the primary file.
func (g *Gate) OnFallback(fn func(reason string)) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.fallbacks[g.nextID] = fn
	return g.nextID
}

// Unsubscribe removes a handler from whichever channel holds it.
func (g *Gate) Unsubscribe(id Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.restored, id)
	delete(g.changed, id)
	delete(g.fallbacks, id)
}

// PublishEquipmentRestored fires EquipmentRestored. Only the first call per
// cycle reaches subscribers; it returns false for duplicates.
func (g *Gate) PublishEquipmentRestored() bool {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		g.logger.Debug("duplicate equipment restored event ignored", slog.Int("cycle", g.cycle))
		return false
	}
	g.fired = true
	handlers := snapshot(g.restored)
	g.mu.Unlock()

	g.logger.Debug("equipment restored", slog.Int("subscribers", len(handlers)))
	for _, fn := range handlers {
		fn()
	}
	return true
}

// PublishContainerContentChanged notifies subscribers that the container
// with the given composite key changed.
func (g *Gate) PublishContainerContentChanged(key string) {
	g.mu.Lock()
	handlers := snapshot(g.changed)
	g.mu.Unlock()
	for _, fn := range handlers {
		fn(key)
	}
}

// PublishFallback notifies subscribers that a load fell back to its backup
// or to empty state.
func (g *Gate) PublishFallback(reason string) {
	g.mu.Lock()
	handlers := snapshot(g.fallbacks)
	g.mu.Unlock()
	g.logger.Info("fallback triggered", slog.String("reason", reason))
	for _, fn := range handlers {
		fn(reason)
	}
}

// HasFired reports whether EquipmentRestored fired in the current cycle.
func (g *Gate) HasFired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Cycle returns the number of Reset calls so far.
func (g *Gate) Cycle() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cycle
}

// Reset re-arms EquipmentRestored for a new load cycle. Subscriptions are kept.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fired = false
	g.cycle++
}

// snapshot copies handlers in subscription order.
func snapshot[F any](m map[Subscription]F) []F {
	ids := make([]Subscription, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
