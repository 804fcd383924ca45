package restore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/conflict"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/gate"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// Container outcomes.
const (
	OutcomeAlreadyRestored   = "already_restored"
	OutcomeDeferred          = "deferred"
	OutcomeGaveUp            = "gave_up"
	OutcomePlacementConflict = "placement_conflict"
)

// Placer is the grid placement service.
type Placer interface {
	Place(container, item *live.Item, p model.Position) bool
	// Clear empties container and returns what it held.
	Clear(container *live.Item) []live.Placed
	ItemAt(container *live.Item, p model.Position) *live.Item
}

// ContainerLoader returns every stored container snapshot.
type ContainerLoader func(ctx context.Context) ([]*model.ContainerSnapshot, error)

// ContainerOutcome is what happened to one container.
type ContainerOutcome struct {
	Key       string `json:"key"`
	Outcome   string `json:"outcome"`
	Attempt   int    `json:"attempt"`
	Placed    int    `json:"placed"`
	Conflicts int    `json:"conflicts"`
	Missing   int    `json:"missing"`
}

// ContainerResult summarizes a container pass.
type ContainerResult struct {
	Containers []ContainerOutcome `json:"containers"`
}

// ContainerConfig configures a ContainerRestorer.
type ContainerConfig struct {
	Clock         clock.Clock
	Factory       Factory
	Grids         Placer
	Resolver      *conflict.Resolver
	Gate          *gate.Gate
	Load          ContainerLoader
	RetryAttempts int
	RetryInterval time.Duration
	// OnRestored receives each container snapshot once its contents are in place.
	OnRestored func(snap *model.ContainerSnapshot)
	// OnOutcome receives outcomes of retried attempts that finish after Run returned.
	OnOutcome func(out ContainerOutcome)
	Logger    *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// ContainerRestorer restores nested container contents. It refuses to run
// before EquipmentRestored has fired, runs at most one pass per cycle and
// restores each container key at most once.
type ContainerRestorer struct {
	cfg    ContainerConfig
	logger *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	ran      bool
	running  bool
	eq       *live.Equipment
	restored map[string]bool
	attempts map[string]int
	retries  map[string]clock.Timer
}

// NewContainerRestorer creates a restorer.
func NewContainerRestorer(cfg ContainerConfig) *ContainerRestorer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Grids == nil {
		cfg.Grids = live.Placement{}
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerRestorer{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "container_restore")),
		tracer:   tracerFrom(cfg.TracerProvider),
		restored: make(map[string]bool),
		attempts: make(map[string]int),
		retries:  make(map[string]clock.Timer),
	}
}

// Run executes the container pass against eq. It returns NOT_READY when
// equipment has not been restored yet in this cycle, and a nil result when
// the pass already ran.
func (r *ContainerRestorer) Run(ctx context.Context, eq *live.Equipment) (*ContainerResult, error) {
	if r.cfg.Gate != nil && !r.cfg.Gate.HasFired() {
		r.logger.Debug("container restore requested before equipment restore, deferred")
		return nil, errors.NewNotReady("equipment not restored yet")
	}

	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		r.logger.Debug("container pass already ran this cycle")
		return nil, nil
	}
	r.ran = true
	r.running = true
	r.eq = eq
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "restore.containers")
	defer span.End()

	snaps, err := r.cfg.Load(ctx)
	if err != nil {
		metrics.RestoreDuration.WithLabelValues("containers", "failed").Observe(time.Since(start).Seconds())
		r.logger.Error("container load failed", slog.String("error", err.Error()))
		return nil, err
	}

	res := &ContainerResult{Containers: []ContainerOutcome{}}
	for _, snap := range snaps {
		if ctx.Err() != nil {
			break
		}
		res.Containers = append(res.Containers, r.restoreOne(eq, snap))
	}

	span.SetAttributes(attribute.Int("containers", len(res.Containers)))
	metrics.RestoreDuration.WithLabelValues("containers", "ok").Observe(time.Since(start).Seconds())
	return res, nil
}

// InProgress reports whether a pass is running or a retry is pending.
func (r *ContainerRestorer) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running || len(r.retries) > 0
}

// Restored reports whether the container with key has been restored this cycle.
func (r *ContainerRestorer) Restored(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restored[key]
}

// Ran reports whether the pass ran this cycle.
func (r *ContainerRestorer) Ran() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran
}

// Reset stops pending retries and re-arms the restorer for a new cycle.
func (r *ContainerRestorer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.retries {
		t.Stop()
		delete(r.retries, key)
	}
	r.ran = false
	r.eq = nil
	r.restored = make(map[string]bool)
	r.attempts = make(map[string]int)
}

func (r *ContainerRestorer) restoreOne(eq *live.Equipment, snap *model.ContainerSnapshot) ContainerOutcome {
	key := snap.Key().String()

	r.mu.Lock()
	if r.restored[key] {
		r.mu.Unlock()
		return ContainerOutcome{Key: key, Outcome: OutcomeAlreadyRestored}
	}
	r.attempts[key]++
	attempt := r.attempts[key]
	r.mu.Unlock()

	out := ContainerOutcome{Key: key, Attempt: attempt}

	container := eq.ItemIn(snap.Slot)
	if !container.SameDefinition(snap.GlobalID, snap.ItemID) || container.Grid == nil {
		if attempt >= r.cfg.RetryAttempts {
			out.Outcome = OutcomeGaveUp
			metrics.RestoreItems.WithLabelValues("container", OutcomeGaveUp).Inc()
			r.logger.Warn("container not ready, giving up",
				slog.String("key", key),
				slog.Int("attempts", attempt),
			)
			return out
		}
		out.Outcome = OutcomeDeferred
		r.scheduleRetry(snap)
		return out
	}

	for _, p := range r.cfg.Grids.Clear(container) {
		destroyTree(r.cfg.Factory, p.Item)
	}
	for _, nested := range snap.Items {
		switch r.placeNested(container, key, nested) {
		case OutcomeRestored:
			out.Placed++
		case OutcomeMissingCatalogEntry, OutcomeMissingPrefab:
			out.Missing++
		default:
			out.Conflicts++
		}
	}
	out.Outcome = OutcomeRestored

	r.mu.Lock()
	r.restored[key] = true
	r.mu.Unlock()

	metrics.RestoreItems.WithLabelValues("container", OutcomeRestored).Inc()
	r.logger.Info("container restored",
		slog.String("key", key),
		slog.Int("placed", out.Placed),
		slog.Int("conflicts", out.Conflicts),
		slog.Int("missing", out.Missing),
	)
	if r.cfg.OnRestored != nil {
		r.cfg.OnRestored(snap)
	}
	return out
}

// placeNested recreates one nested item. On a placement conflict the new
// instance is destroyed.
func (r *ContainerRestorer) placeNested(container *live.Item, key string, nested model.NestedItem) string {
	entry, _, err := r.cfg.Resolver.Resolve(nested.Item.GlobalID, nested.Item.Name, nested.Item.Category)
	if err != nil {
		metrics.RestoreItems.WithLabelValues("nested", OutcomeMissingCatalogEntry).Inc()
		r.logger.Warn("nested item skipped", slog.String("container", key), slog.String("error", err.Error()))
		return OutcomeMissingCatalogEntry
	}
	item, err := r.cfg.Factory.Create(entry.ItemID, entry.Category)
	if err != nil {
		metrics.RestoreItems.WithLabelValues("nested", OutcomeMissingPrefab).Inc()
		r.logger.Warn("nested item skipped", slog.String("container", key), slog.String("error", err.Error()))
		return OutcomeMissingPrefab
	}
	item.State = nested.State.Clamp(entry.MaxDurability)

	if r.cfg.Grids.ItemAt(container, nested.Position) != nil || !r.cfg.Grids.Place(container, item, nested.Position) {
		r.cfg.Factory.Destroy(item)
		conflictErr := errors.NewPlacementConflict(key, nested.Position.X, nested.Position.Y)
		metrics.RestoreItems.WithLabelValues("nested", OutcomePlacementConflict).Inc()
		r.logger.Warn("orphaned item destroyed", slog.String("error", conflictErr.Error()))
		return OutcomePlacementConflict
	}
	metrics.RestoreItems.WithLabelValues("nested", OutcomeRestored).Inc()
	return OutcomeRestored
}

func (r *ContainerRestorer) scheduleRetry(snap *model.ContainerSnapshot) {
	key := snap.Key().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, pending := r.retries[key]; pending {
		return
	}
	r.logger.Debug("container not ready, retry scheduled",
		slog.String("key", key),
		slog.Int("attempt", r.attempts[key]),
		slog.Duration("interval", r.cfg.RetryInterval),
	)
	r.retries[key] = r.cfg.Clock.AfterFunc(r.cfg.RetryInterval, func() { r.retry(snap) })
}

func (r *ContainerRestorer) retry(snap *model.ContainerSnapshot) {
	key := snap.Key().String()
	r.mu.Lock()
	if _, pending := r.retries[key]; !pending {
		// Reset ran in between
		r.mu.Unlock()
		return
	}
	delete(r.retries, key)
	eq := r.eq
	r.mu.Unlock()
	if eq == nil {
		return
	}

	out := r.restoreOne(eq, snap)
	if r.cfg.OnOutcome != nil {
		r.cfg.OnOutcome(out)
	}
}
