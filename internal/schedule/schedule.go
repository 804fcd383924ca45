// Package schedule coalesces bursts of save requests into single writes.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
)

// State is the scheduler state.
type State int

const (
	// Idle: no write pending.
	Idle State = iota
	// Cooling: a write is pending until the cooldown timer fires.
	Cooling
	// Flushing: the pending write is being executed.
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooling:
		return "cooling"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// FlushFunc performs the actual write. reason is "deferred" for cooldown
// flushes and the caller-supplied reason for immediate ones.
type FlushFunc func(ctx context.Context, reason string) error

// Config configures a Scheduler.
type Config struct {
	Clock    clock.Clock
	Cooldown time.Duration
	Flush    FlushFunc
	// Busy reports whether a restore is running. RequestSave is dropped while true.
	Busy   func() bool
	Logger *slog.Logger
}

// Scheduler is the Idle/Cooling/Flushing state machine. The first RequestSave
// arms the cooldown timer; requests made before it fires only mark the write
// pending, so a burst results in one write of the latest state.
type Scheduler struct {
	clock    clock.Clock
	cooldown time.Duration
	flush    FlushFunc
	busy     func() bool
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	pending bool
	timer   clock.Timer
	gen     int
	writes  int
	lastErr error
}

// New creates a scheduler in the Idle state.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		clock:    cfg.Clock,
		cooldown: cfg.Cooldown,
		flush:    cfg.Flush,
		busy:     cfg.Busy,
		logger:   cfg.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.busy == nil {
		s.busy = func() bool { return false }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	return s
}

// RequestSave asks for an eventual write. It returns false if the request
// was dropped because a restore is running.
func (s *Scheduler) RequestSave() bool {
	if s.busy() {
		metrics.SaveRequests.WithLabelValues("dropped").Inc()
		s.logger.Debug("save request dropped during restore")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		s.pending = true
		s.state = Cooling
		s.armLocked()
		metrics.SaveRequests.WithLabelValues("scheduled").Inc()
	case Cooling, Flushing:
		// A request during Flushing re-arms the timer once the flush ends
		s.pending = true
		metrics.SaveRequests.WithLabelValues("coalesced").Inc()
	}
	return true
}

// RequestSaveImmediate cancels any cooldown and writes now, on the caller's
// goroutine. It is not subject to the restore check.
func (s *Scheduler) RequestSaveImmediate(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.stopLocked()
	s.pending = false
	s.state = Flushing
	s.mu.Unlock()

	metrics.SaveRequests.WithLabelValues("immediate").Inc()
	err := s.flush(ctx, reason)
	s.finish(err)
	return err
}

// Cancel stops any pending cooldown and discards the pending write.
// Returns true if a write was discarded.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	discarded := s.pending
	s.stopLocked()
	s.pending = false
	if s.state == Cooling {
		s.state = Idle
	}
	if discarded {
		s.logger.Debug("pending save cancelled")
	}
	return discarded
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a write is waiting for the cooldown.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Writes returns how many flushes have run.
func (s *Scheduler) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// LastError returns the error of the most recent flush, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// armLocked starts the cooldown timer. The generation counter makes a timer
// that fires after being superseded a no-op.
func (s *Scheduler) armLocked() {
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.cooldown, func() { s.onTimer(gen) })
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) onTimer(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.state != Cooling {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if !s.pending {
		s.state = Idle
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.state = Flushing
	s.mu.Unlock()

	err := s.flush(context.Background(), "deferred")
	s.finish(err)
}

// finish leaves Flushing. Requests that arrived during the flush start a new
// cooldown.
func (s *Scheduler) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.lastErr = err
	if err != nil {
		s.logger.Warn("save failed", slog.String("error", err.Error()))
	}
	if s.state != Flushing {
		return
	}
	if s.pending {
		s.state = Cooling
		s.armLocked()
		return
	}
	s.state = Idle
}
