// Package engine owns every persistence component for one session and is the
// single entry point collaborators use to save, load and inspect state.
//
// All entry points and every timer callback run under one engine mutex, so
// the components see a single logical thread of control.
package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/collect"
	"github.com/EstellaNines/Vertias-sub003/internal/config"
	"github.com/EstellaNines/Vertias-sub003/internal/conflict"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/gate"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/migrate"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/restore"
	"github.com/EstellaNines/Vertias-sub003/internal/schedule"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// Persisted layout.
const (
	EquipmentFile  = "equipment.json"
	ContainersFile = "containers.json"
	EquipmentKey   = "equipment"
)

// History domains.
const (
	DomainEquipment  = "equipment"
	DomainContainers = "containers"
)

// Options configures an Engine. Store is required; everything else has a default.
type Options struct {
	Config *config.Config
	Store  *store.Store
	// DB backs the legacy preference import and save history. Nil disables both.
	DB        *sql.DB
	Clock     clock.Clock
	Logger    *slog.Logger
	Equipment *live.Equipment
	Catalog   *live.Catalog
	Factory   *live.Factory
	// Gatherer is read by GetStats. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// TracerProvider is handed to the restore passes. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// Engine is the persistence service handle.
type Engine struct {
	mu sync.Mutex

	cfg     *config.Config
	store   *store.Store
	db      *sql.DB
	gather  prometheus.Gatherer
	clock   *serialClock
	logger  *slog.Logger
	session string

	eq      *live.Equipment
	catalog *live.Catalog
	factory *live.Factory

	gate       *gate.Gate
	subs       []gate.Subscription
	guard      *conflict.Guard
	resolver   *conflict.Resolver
	collector  *collect.Collector
	scheduler  *schedule.Scheduler
	orch       *restore.Orchestrator
	containers *restore.ContainerRestorer
	migrator   *migrate.Adapter

	// cache holds the latest collected or restored snapshots. dirty marks
	// entries not yet written.
	equipment      *model.SystemSnapshot
	equipmentDirty bool
	cache          map[string]*model.ContainerSnapshot
	dirty          map[string]bool

	lastTS        int64
	lastFlush     *FlushResult
	lastContainer *restore.ContainerResult
	restoreTimer  clock.Timer
	ctx           context.Context
	closed        bool
}

// New wires an engine. It does not touch disk; call Start for that.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.NewInvalidRequest("engine requires a store")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.Clock
	if base == nil {
		base = clock.Real{}
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = live.DemoCatalog()
	}
	factory := opts.Factory
	if factory == nil {
		factory = live.NewFactory(catalog)
	}
	eq := opts.Equipment
	if eq == nil {
		eq = live.NewEquipment()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := &Engine{
		cfg:     cfg,
		store:   opts.Store,
		db:      opts.DB,
		gather:  gatherer,
		logger:  logger.With(slog.String("component", "engine")),
		eq:      eq,
		catalog: catalog,
		factory: factory,
		cache:   make(map[string]*model.ContainerSnapshot),
		dirty:   make(map[string]bool),
		ctx:     context.Background(),
	}
	e.clock = &serialClock{base: base, e: e}
	e.session = newSessionID(base.Now())

	e.gate = gate.New(logger)
	e.guard = conflict.NewGuard(base, cfg.GraceWindow(), logger)
	e.resolver = conflict.NewResolver(catalog, logger)
	e.collector = collect.New(collect.Config{
		SchemaVersion: cfg.SchemaVersion,
		Clock:         base,
		Busy:          e.restoring,
		Logger:        logger,
	})
	e.scheduler = schedule.New(schedule.Config{
		Clock:    e.clock,
		Cooldown: cfg.SaveCooldown(),
		Flush:    e.flush,
		Busy:     e.restoring,
		Logger:   logger,
	})
	e.orch = restore.New(restore.Config{
		Factory:  factory,
		Resolver: e.resolver,
		Gate:     e.gate,
		Load:     e.loadEquipmentForRestore,
		Logger:   logger,

		TracerProvider: opts.TracerProvider,
	})
	e.containers = restore.NewContainerRestorer(restore.ContainerConfig{
		Clock:         e.clock,
		Factory:       factory,
		Resolver:      e.resolver,
		Gate:          e.gate,
		Load:          e.loadContainersForRestore,
		RetryAttempts: cfg.ContainerRetryAttempts,
		RetryInterval: cfg.ContainerRetryInterval(),
		OnRestored:    e.cacheRestored,
		OnOutcome:     e.logLateOutcome,
		Logger:        logger,

		TracerProvider: opts.TracerProvider,
	})
	e.migrator = migrate.New(migrate.Config{
		Store:          opts.Store,
		DB:             opts.DB,
		EquipmentFile:  EquipmentFile,
		EquipmentKey:   EquipmentKey,
		ContainersFile: ContainersFile,
		Seal:           e.seal,
		Logger:         logger,
	})

	// Handlers run on the publisher's goroutine, which already holds e.mu.
	e.subs = []gate.Subscription{
		e.gate.OnEquipmentRestored(e.onEquipmentRestored),
		e.gate.OnContainerContentChanged(e.onContainerChanged),
		e.gate.OnFallback(func(reason string) {
			e.logger.Warn("restore is using fallback data", slog.String("reason", reason))
		}),
	}

	return e, nil
}

// SessionID returns the id written into every envelope of this session.
func (e *Engine) SessionID() string { return e.session }

// Dir returns the data directory.
func (e *Engine) Dir() string { return e.store.Dir() }

// Config returns the configuration the engine runs with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Gate returns the session gate. Handlers registered on it run while the
// engine lock is held and must not call back into the engine.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Equipment returns the live equipment the engine is bound to.
func (e *Engine) Equipment() *live.Equipment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eq
}

// Decisions returns the collector's per-slot choices from the last collection.
func (e *Engine) Decisions() []collect.Decision {
	return e.collector.Decisions()
}

// Start migrates legacy data and schedules the first restore after the
// configured delay.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewNotReady("engine shut down")
	}
	e.startLocked(ctx)
	return nil
}

func (e *Engine) startLocked(ctx context.Context) {
	e.ctx = context.WithoutCancel(ctx)
	if _, err := e.migrator.MigrateAll(ctx); err != nil {
		// Migration failure leaves the legacy data in place; restore proceeds with what is canonical
		e.logger.Error("migration failed", slog.String("error", err.Error()))
	}
	if e.restoreTimer != nil {
		e.restoreTimer.Stop()
	}
	e.restoreTimer = e.clock.AfterFunc(e.cfg.RestoreDelay(), func() {
		e.restoreTimer = nil
		if _, err := e.requestLoadLocked(e.ctx); err != nil {
			e.logger.Warn("initial restore did not run", slog.String("error", err.Error()))
		}
	})
	e.logger.Info("engine started",
		slog.String("session", e.session),
		slog.Duration("restore_delay", e.cfg.RestoreDelay()),
	)
}

// RequestLoad restores equipment from disk. Restoring again in the same
// cycle is a no-op per slot; the container pass only runs once per cycle.
func (e *Engine) RequestLoad(ctx context.Context) (*restore.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requestLoadLocked(ctx)
}

func (e *Engine) requestLoadLocked(ctx context.Context) (*restore.Result, error) {
	if e.closed {
		return nil, errors.NewNotReady("engine shut down")
	}
	if e.orch.Abandoned() {
		e.logger.Debug("restore abandoned for this session, load request ignored")
		return nil, errors.NewNotReady("restore abandoned for this session")
	}
	if e.restoreTimer != nil {
		e.restoreTimer.Stop()
		e.restoreTimer = nil
	}

	res, err := e.orch.Restore(ctx, e.eq)
	if err != nil {
		return nil, err
	}
	if n := res.Restored + res.Unchanged; n > 0 {
		e.guard.ObserveOccupancy(n)
	}
	if !res.Published && e.gate.HasFired() {
		// Late trigger: the restorer's per-cycle flag makes this a no-op
		e.runContainersLocked(ctx)
	}
	return res, nil
}

// OnBackpackOpened is the UI hook for opening the inventory panel.
func (e *Engine) OnBackpackOpened(ctx context.Context) (*restore.Result, error) {
	return e.RequestLoad(ctx)
}

// OnBackpackClosed is the UI hook for closing the inventory panel.
func (e *Engine) OnBackpackClosed(ctx context.Context) error {
	return e.RequestSaveImmediate(ctx, "backpack_closed")
}

// RequestSave collects the current live state into the cache and asks the
// scheduler for a deferred write. It returns false when the request was
// dropped because a restore is running.
func (e *Engine) RequestSave() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if err := e.collectLocked(); err != nil {
		if !errors.Is(err, errors.ErrCollectionDeferred) {
			e.logger.Warn("collection failed", slog.String("error", err.Error()))
		}
		return false
	}
	return e.scheduler.RequestSave()
}

// RequestSaveImmediate collects and writes now. If a restore is running the
// cached snapshots are written as they are.
func (e *Engine) RequestSaveImmediate(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveImmediateLocked(ctx, reason)
}

func (e *Engine) saveImmediateLocked(ctx context.Context, reason string) error {
	if e.closed {
		return errors.NewNotReady("engine shut down")
	}
	if err := e.collectLocked(); err != nil && !errors.Is(err, errors.ErrCollectionDeferred) {
		e.logger.Warn("collection failed", slog.String("error", err.Error()))
	}
	return e.scheduler.RequestSaveImmediate(ctx, reason)
}

// NotifyContainerChanged reports a nested-item mutation in the container
// with the given composite key.
func (e *Engine) NotifyContainerChanged(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.gate.PublishContainerContentChanged(key)
}

// Pause flushes on process pause.
func (e *Engine) Pause(ctx context.Context) error {
	return e.RequestSaveImmediate(ctx, "pause")
}

// FocusLost flushes when the application loses focus.
func (e *Engine) FocusLost(ctx context.Context) error {
	return e.RequestSaveImmediate(ctx, "focus_lost")
}

// Shutdown flushes, stops every pending timer and refuses further work.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	err := e.saveImmediateLocked(ctx, "shutdown")
	e.stopTimersLocked()
	for _, id := range e.subs {
		e.gate.Unsubscribe(id)
	}
	e.subs = nil
	e.closed = true
	e.logger.Info("engine shut down", slog.String("session", e.session))
	return err
}

// SceneTransition binds the engine to the live equipment of a new scene.
// Pending writes from the old scene are flushed, restore state is re-armed
// and initialization runs again.
func (e *Engine) SceneTransition(ctx context.Context, eq *live.Equipment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewNotReady("engine shut down")
	}

	var flushErr error
	if e.scheduler.Pending() {
		flushErr = e.scheduler.RequestSaveImmediate(ctx, "scene_transition")
	}
	e.stopTimersLocked()
	e.orch.Reset()
	e.gate.Reset()

	if eq != nil {
		e.eq = eq
	}
	if n := e.eq.RemoveDuplicates(); n > 0 {
		e.logger.Info("duplicate slot instances removed", slog.Int("removed", n))
	}
	e.startLocked(ctx)
	return flushErr
}

func (e *Engine) stopTimersLocked() {
	e.scheduler.Cancel()
	e.containers.Reset()
	if e.restoreTimer != nil {
		e.restoreTimer.Stop()
		e.restoreTimer = nil
	}
}

// restoring reports whether any restore phase is active. Collection and
// deferred saves are refused while true.
func (e *Engine) restoring() bool {
	return e.orch.InProgress() || e.containers.InProgress()
}

// collectLocked refreshes the cache from live state.
func (e *Engine) collectLocked() error {
	snap, err := e.collector.Collect(e.eq)
	if err != nil {
		return err
	}
	e.equipment = snap
	e.equipmentDirty = true

	conts, err := e.collector.CollectContainers(e.eq)
	if err != nil {
		return err
	}
	for _, c := range conts {
		key := c.Key().String()
		e.cache[key] = c
		e.dirty[key] = true
	}
	return nil
}

func (e *Engine) onEquipmentRestored() {
	e.runContainersLocked(e.ctx)
}

func (e *Engine) runContainersLocked(ctx context.Context) {
	res, err := e.containers.Run(ctx, e.eq)
	if err != nil {
		e.logger.Warn("container restore failed", slog.String("error", err.Error()))
		return
	}
	if res != nil {
		e.lastContainer = res
	}
}

func (e *Engine) onContainerChanged(key string) {
	ck, err := model.ParseContainerKey(key)
	if err != nil {
		e.logger.Warn("content change for unknown key", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	snap, err := e.collector.CollectContainer(e.eq, ck)
	if err != nil {
		e.logger.Debug("container not collected", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	e.cache[key] = snap
	e.dirty[key] = true
	e.scheduler.RequestSave()
}

// cacheRestored records a restored container. It is already on disk, so it
// is not marked dirty.
func (e *Engine) cacheRestored(snap *model.ContainerSnapshot) {
	e.cache[snap.Key().String()] = snap
}

func (e *Engine) logLateOutcome(out restore.ContainerOutcome) {
	e.logger.Info("container retry finished",
		slog.String("key", out.Key),
		slog.String("outcome", out.Outcome),
		slog.Int("attempt", out.Attempt),
	)
	if e.lastContainer != nil {
		e.lastContainer.Containers = append(e.lastContainer.Containers, out)
	}
}

// seal wraps payload in an envelope with a timestamp that never goes backwards.
func (e *Engine) seal(payload any) (*model.Envelope, error) {
	ts := e.clock.Now().UnixMilli()
	if ts <= e.lastTS {
		ts = e.lastTS + 1
	}
	env, err := model.Seal(e.session, ts, e.cfg.SchemaVersion, payload)
	if err != nil {
		return nil, err
	}
	e.lastTS = ts
	return env, nil
}

func (e *Engine) observeTimestamp(ts int64) {
	if ts > e.lastTS {
		e.lastTS = ts
	}
}

func newSessionID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// serialClock runs every timer callback under the engine lock.
type serialClock struct {
	base clock.Clock
	e    *Engine
}

func (c *serialClock) Now() time.Time { return c.base.Now() }

func (c *serialClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.base.AfterFunc(d, func() {
		c.e.mu.Lock()
		defer c.e.mu.Unlock()
		if c.e.closed {
			return
		}
		f()
	})
}
