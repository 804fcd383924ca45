// Package restore recreates live equipment from a stored snapshot, then the
// contents of equipped containers once equipment is in place.
package restore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/EstellaNines/Vertias-sub003/internal/conflict"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/gate"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// State is the equipment restore state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateValidating State = "validating"
	StateApplying   State = "applying"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Slot outcomes.
const (
	OutcomeRestored            = "restored"
	OutcomeReplaced            = "replaced"
	OutcomeUnchanged           = "unchanged"
	OutcomeNoInstance          = "no_instance"
	OutcomeMissingCatalogEntry = "missing_catalog_entry"
	OutcomeMissingPrefab       = "missing_prefab"
)

// Factory creates and destroys item instances.
type Factory interface {
	Create(itemID int, category model.Category) (*live.Item, error)
	Destroy(item *live.Item)
}

// Loader returns the stored snapshot, or nil when there is no data.
type Loader func(ctx context.Context) (*model.SystemSnapshot, error)

// SlotOutcome is what happened to one slot.
type SlotOutcome struct {
	Slot     model.SlotType `json:"slot"`
	GlobalID int64          `json:"global_id,omitempty"`
	Outcome  string         `json:"outcome"`
	Match    conflict.Match `json:"match,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Result summarizes one restore pass.
type Result struct {
	NoData    bool          `json:"no_data"`
	Restored  int           `json:"restored"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Published bool          `json:"published"`
	Slots     []SlotOutcome `json:"slots"`
}

// Config configures an Orchestrator.
type Config struct {
	Factory  Factory
	Resolver *conflict.Resolver
	Gate     *gate.Gate
	Load     Loader
	Logger   *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Orchestrator runs Idle -> Loading -> Validating -> Applying -> Completed.
// Failed is entered from Loading or Validating and immediately falls back to
// Idle; the orchestrator is then abandoned until Reset.
type Orchestrator struct {
	factory  Factory
	resolver *conflict.Resolver
	gate     *gate.Gate
	load     Loader
	logger   *slog.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	state     State
	abandoned bool
	last      *Result
}

func tracerFrom(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("vertias/restore")
}

// New creates an orchestrator in the Idle state.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		factory:  cfg.Factory,
		resolver: cfg.Resolver,
		gate:     cfg.Gate,
		load:     cfg.Load,
		logger:   logger.With(slog.String("component", "restore")),
		tracer:   tracerFrom(cfg.TracerProvider),
		state:    StateIdle,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// InProgress reports whether a pass is running.
func (o *Orchestrator) InProgress() bool {
	switch o.State() {
	case StateLoading, StateValidating, StateApplying:
		return true
	}
	return false
}

// Abandoned reports whether the last pass failed. Abandoned orchestrators
// are not retried automatically.
func (o *Orchestrator) Abandoned() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.abandoned
}

// Last returns the result of the most recent completed pass.
func (o *Orchestrator) Last() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Reset returns to Idle and clears the abandoned flag.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.abandoned = false
}

// Restore runs one pass against eq. Slots are processed in known-slot order.
// A pass over a slot that already holds the saved item is a no-op, so
// repeated passes never duplicate items.
func (o *Orchestrator) Restore(ctx context.Context, eq *live.Equipment) (res *Result, err error) {
	if err := o.begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "restore.equipment")
	defer span.End()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "equipment restore failed")
		}
		metrics.RestoreDuration.WithLabelValues("equipment", status).Observe(time.Since(start).Seconds())
	}()

	snap, err := o.load(ctx)
	if err != nil {
		o.fail("load", err)
		return nil, err
	}

	o.setState(StateValidating)
	res = &Result{Slots: []SlotOutcome{}}
	if snap == nil {
		res.NoData = true
		o.logger.Info("no stored equipment, starting empty")
	} else if err := model.ValidateSnapshot(snap); err != nil {
		o.fail("validate", err)
		return nil, err
	}

	o.setState(StateApplying)
	if snap != nil {
		for _, entry := range snap.Occupied() {
			if ctx.Err() != nil {
				break
			}
			out := o.applySlot(eq, entry)
			res.Slots = append(res.Slots, out)
			switch out.Outcome {
			case OutcomeRestored, OutcomeReplaced:
				res.Restored++
			case OutcomeUnchanged:
				res.Unchanged++
			default:
				res.Failed++
			}
			metrics.RestoreItems.WithLabelValues("equipment", out.Outcome).Inc()
		}
	}

	o.mu.Lock()
	o.state = StateCompleted
	o.last = res
	o.mu.Unlock()

	if o.gate != nil {
		res.Published = o.gate.PublishEquipmentRestored()
	}
	span.SetAttributes(
		attribute.Bool("stored_empty", snap.IsEmpty()),
		attribute.Int("restored", res.Restored),
		attribute.Int("unchanged", res.Unchanged),
		attribute.Int("failed", res.Failed),
	)
	o.logger.Info("equipment restored",
		slog.Int("restored", res.Restored),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateLoading, StateValidating, StateApplying:
		return errors.NewRestoreInProgress()
	}
	o.state = StateLoading
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// fail passes through Failed back to Idle and abandons the session's restore.
func (o *Orchestrator) fail(phase string, err error) {
	o.mu.Lock()
	o.state = StateFailed
	o.mu.Unlock()

	o.logger.Error("equipment restore abandoned",
		slog.String("phase", phase),
		slog.String("error", err.Error()),
	)

	o.mu.Lock()
	o.state = StateIdle
	o.abandoned = true
	o.mu.Unlock()
}

func (o *Orchestrator) applySlot(eq *live.Equipment, entry model.EquipmentSlotSnapshot) SlotOutcome {
	rec := entry.Item
	out := SlotOutcome{Slot: entry.Slot, GlobalID: rec.GlobalID}

	if eq.Primary(entry.Slot) == nil {
		out.Outcome = OutcomeNoInstance
		o.logger.Warn("no live instance for slot", slog.String("slot", string(entry.Slot)))
		return out
	}

	current := eq.ItemIn(entry.Slot)
	if current.SameDefinition(rec.GlobalID, rec.ItemID) {
		out.Outcome = OutcomeUnchanged
		return out
	}

	catalogEntry, match, err := o.resolver.Resolve(rec.GlobalID, rec.Name, model.ExpectedCategory(entry.Slot))
	if err != nil {
		out.Outcome = OutcomeMissingCatalogEntry
		out.Error = err.Error()
		o.logger.Warn("slot skipped", slog.String("slot", string(entry.Slot)), slog.String("error", err.Error()))
		return out
	}
	out.Match = match

	item, err := o.factory.Create(catalogEntry.ItemID, catalogEntry.Category)
	if err != nil {
		out.Outcome = OutcomeMissingPrefab
		out.Error = err.Error()
		o.logger.Warn("slot skipped", slog.String("slot", string(entry.Slot)), slog.String("error", err.Error()))
		return out
	}
	if entry.State != nil {
		item.State = entry.State.Clamp(catalogEntry.MaxDurability)
	}

	out.Outcome = OutcomeRestored
	if prev := eq.Equip(entry.Slot, item); prev != nil {
		destroyTree(o.factory, prev)
		out.Outcome = OutcomeReplaced
	}
	return out
}

// destroyTree destroys it and, for a container, everything nested in it.
func destroyTree(f Factory, it *live.Item) {
	if it == nil {
		return
	}
	if it.Grid != nil {
		for _, p := range it.Grid.Clear() {
			destroyTree(f, p.Item)
		}
	}
	f.Destroy(it)
}
