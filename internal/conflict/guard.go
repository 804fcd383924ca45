// Package conflict decides whether a collected snapshot may overwrite stored
// data, and which catalog entry a remembered item identifier refers to.
package conflict

import (
	"log/slog"
	"sync"
	"time"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
)

// Candidate is anything that can report how many slots or items it holds.
type Candidate interface {
	OccupiedCount() int
}

// Guard refuses empty writes over existing data during the startup grace
// window. The window starts when the guard is created and is lifted for good
// the first time occupancy is observed.
type Guard struct {
	clock  clock.Clock
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	started time.Time
	lifted  bool
}

// NewGuard starts the grace window at clk.Now().
func NewGuard(clk clock.Clock, window time.Duration, logger *slog.Logger) *Guard {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		clock:   clk,
		window:  window,
		logger:  logger.With(slog.String("component", "guard")),
		started: clk.Now(),
	}
}

// ShouldPersist reports whether candidate may be written.
func (g *Guard) ShouldPersist(candidate Candidate, previousExists bool) bool {
	occupied := 0
	if candidate != nil {
		occupied = candidate.OccupiedCount()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if occupied > 0 {
		g.liftLocked("occupancy observed")
		return true
	}
	if !previousExists || g.lifted {
		return true
	}
	elapsed := g.clock.Now().Sub(g.started)
	if elapsed >= g.window {
		return true
	}

	metrics.EmptyWritesRefused.Inc()
	g.logger.Warn("refusing empty snapshot over existing data inside grace window",
		slog.Duration("elapsed", elapsed),
		slog.Duration("window", g.window),
	)
	return false
}

// ObserveOccupancy lifts the window when n > 0.
func (g *Guard) ObserveOccupancy(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.liftLocked("occupancy observed")
}

// InGraceWindow reports whether empty writes are currently refused.
func (g *Guard) InGraceWindow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.lifted && g.clock.Now().Sub(g.started) < g.window
}

// Lifted reports whether occupancy has lifted the window.
func (g *Guard) Lifted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lifted
}

func (g *Guard) liftLocked(reason string) {
	if g.lifted {
		return
	}
	g.lifted = true
	g.logger.Debug("grace window lifted", slog.String("reason", reason))
}
