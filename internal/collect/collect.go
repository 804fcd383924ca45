// Package collect turns live equipment into snapshots.
package collect

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// ContentReader lists the items placed in a container.
type ContentReader interface {
	Contents(container *live.Item) []live.Placed
}

// Decision records which live instance represented a slot and why.
// Decisions are diagnostics only and are never persisted.
type Decision struct {
	Slot       model.SlotType `json:"slot"`
	InstanceID int            `json:"instance_id"`
	Candidates int            `json:"candidates"`
	Occupied   bool           `json:"occupied"`
	Reason     string         `json:"reason"`
}

// Config configures a Collector.
type Config struct {
	SchemaVersion string
	Clock         clock.Clock
	// Busy reports whether a restore is running. Collection is refused while true.
	Busy   func() bool
	Grids  ContentReader
	Logger *slog.Logger
}

// Collector produces SystemSnapshots and ContainerSnapshots from live state.
type Collector struct {
	version string
	clock   clock.Clock
	busy    func() bool
	grids   ContentReader
	logger  *slog.Logger

	mu        sync.Mutex
	decisions []Decision
}

// New creates a collector.
func New(cfg Config) *Collector {
	c := &Collector{
		version: cfg.SchemaVersion,
		clock:   cfg.Clock,
		busy:    cfg.Busy,
		grids:   cfg.Grids,
		logger:  cfg.Logger,
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.busy == nil {
		c.busy = func() bool { return false }
	}
	if c.grids == nil {
		c.grids = live.Placement{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("component", "collector"))
	return c
}

// Collect snapshots every known slot of eq. It returns COLLECTION_DEFERRED
// while a restore is running; callers must not persist anything then.
func (c *Collector) Collect(eq *live.Equipment) (*model.SystemSnapshot, error) {
	if c.busy() {
		return nil, errors.NewCollectionDeferred()
	}
	if eq == nil {
		return nil, errors.NewNotReady("equipment not initialized")
	}

	now := c.clock.Now().UnixMilli()
	slots := make([]model.EquipmentSlotSnapshot, 0, len(model.KnownSlots))
	decisions := make([]Decision, 0, len(model.KnownSlots))

	for _, slot := range model.KnownSlots {
		best, d := choose(slot, eq.Views(slot))
		decisions = append(decisions, d)

		entry := model.EquipmentSlotSnapshot{Slot: slot, SavedAt: now}
		if best != nil && best.Item != nil {
			rec := best.Item.Record()
			state := best.Item.State.Clamp(best.Item.Entry.MaxDurability)
			entry.Occupied = true
			entry.Item = &rec
			entry.State = &state
			entry.DisplayName = best.Item.Entry.Name
		}
		slots = append(slots, entry)
	}

	c.mu.Lock()
	c.decisions = decisions
	c.mu.Unlock()

	for _, d := range decisions {
		if d.Candidates > 1 {
			c.logger.Debug("duplicate slot instances",
				slog.String("slot", string(d.Slot)),
				slog.Int("candidates", d.Candidates),
				slog.Int("chosen", d.InstanceID),
				slog.String("reason", d.Reason),
			)
		}
	}

	return model.NewSystemSnapshot(c.version, slots), nil
}

// CollectContainers snapshots every equipped container whose grid is ready.
func (c *Collector) CollectContainers(eq *live.Equipment) ([]*model.ContainerSnapshot, error) {
	if c.busy() {
		return nil, errors.NewCollectionDeferred()
	}
	if eq == nil {
		return nil, errors.NewNotReady("equipment not initialized")
	}

	var out []*model.ContainerSnapshot
	for _, slot := range model.KnownSlots {
		item := eq.ItemIn(slot)
		if item == nil || !item.Entry.IsContainer() {
			continue
		}
		if item.Grid == nil {
			c.logger.Debug("container grid not ready, skipped", slog.String("slot", string(slot)))
			continue
		}
		out = append(out, c.snapshotContainer(slot, item))
	}
	return out, nil
}

// CollectContainer snapshots the container identified by key.
func (c *Collector) CollectContainer(eq *live.Equipment, key model.ContainerKey) (*model.ContainerSnapshot, error) {
	if c.busy() {
		return nil, errors.NewCollectionDeferred()
	}
	if eq == nil {
		return nil, errors.NewNotReady("equipment not initialized")
	}
	item := eq.ItemIn(key.Slot)
	if !item.SameDefinition(key.GlobalID, key.ItemID) {
		return nil, errors.NewNotFound(key.String())
	}
	if item.Grid == nil {
		return nil, errors.NewNotReady(fmt.Sprintf("container %s grid not ready", key))
	}
	return c.snapshotContainer(key.Slot, item), nil
}

// Decisions returns the per-slot decisions of the last Collect.
func (c *Collector) Decisions() []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Decision, len(c.decisions))
	copy(out, c.decisions)
	return out
}

func (c *Collector) snapshotContainer(slot model.SlotType, container *live.Item) *model.ContainerSnapshot {
	placed := c.grids.Contents(container)
	items := make([]model.NestedItem, 0, len(placed))
	for _, p := range placed {
		items = append(items, model.NestedItem{
			Item:     p.Item.Record(),
			State:    p.Item.State.Clamp(p.Item.Entry.MaxDurability),
			Position: p.Position,
		})
	}
	return &model.ContainerSnapshot{
		Slot:          slot,
		GlobalID:      container.Entry.GlobalID,
		ItemID:        container.Entry.ItemID,
		ContainerName: container.Entry.Name,
		Items:         items,
		SavedAt:       c.clock.Now().UnixMilli(),
	}
}

// choose picks the best representative among a slot's instances: the first
// occupied one, else the first registered.
func choose(slot model.SlotType, views []live.View) (*live.View, Decision) {
	d := Decision{Slot: slot, Candidates: len(views)}
	if len(views) == 0 {
		d.Reason = "no live instance"
		return nil, d
	}

	for i := range views {
		if views[i].Item != nil {
			d.InstanceID = views[i].ID
			d.Occupied = true
			if len(views) == 1 {
				d.Reason = "only instance"
			} else {
				d.Reason = fmt.Sprintf("first occupied of %d", len(views))
			}
			return &views[i], d
		}
	}

	d.InstanceID = views[0].ID
	if len(views) == 1 {
		d.Reason = "only instance"
	} else {
		d.Reason = fmt.Sprintf("all %d empty, first registered", len(views))
	}
	return &views[0], d
}
