// Package migrate rewrites legacy persisted layouts into the current one.
// Every migration runs at most once: when nothing needs migrating no write
// happens.
package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// DefaultLegacyPrefKey is the preference key older builds stored equipment under.
const DefaultLegacyPrefKey = "EquipmentSystem_SaveData"

// DefaultLegacyEquipmentKeys are key names older builds used inside the equipment file.
var DefaultLegacyEquipmentKeys = []string{"EquipmentData", "equipment_data"}

// Sealer wraps a payload in a fresh envelope.
type Sealer func(payload any) (*model.Envelope, error)

// Config configures an Adapter.
type Config struct {
	Store *store.Store
	// DB holds the legacy preference table. Nil disables the preference import.
	DB *sql.DB

	EquipmentFile       string
	EquipmentKey        string
	ContainersFile      string
	LegacyEquipmentKeys []string
	LegacyPrefKey       string

	Seal   Sealer
	Logger *slog.Logger
}

// Adapter detects and rewrites legacy layouts.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

// Result reports what a migration changed.
type Result struct {
	File string `json:"file"`
	// Rekeyed maps legacy container keys to their canonical replacements.
	Rekeyed map[string]string `json:"rekeyed,omitempty"`
	// Dropped lists legacy keys removed because canonical data already existed.
	Dropped []string `json:"dropped,omitempty"`
	// Skipped lists legacy keys that could not be resolved and were left alone.
	Skipped []string `json:"skipped,omitempty"`
	// ImportedFrom names the legacy source copied into the canonical key.
	ImportedFrom string `json:"imported_from,omitempty"`
}

// Changed reports whether the migration wrote anything.
func (r *Result) Changed() bool {
	return len(r.Rekeyed) > 0 || len(r.Dropped) > 0 || r.ImportedFrom != ""
}

// New creates an adapter.
func New(cfg Config) *Adapter {
	if cfg.LegacyPrefKey == "" {
		cfg.LegacyPrefKey = DefaultLegacyPrefKey
	}
	if cfg.LegacyEquipmentKeys == nil {
		cfg.LegacyEquipmentKeys = DefaultLegacyEquipmentKeys
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, logger: logger.With(slog.String("component", "migrate"))}
}

// MigrateAll migrates the equipment file, then the containers file. The
// equipment file goes first so container keys can borrow its slot data.
func (a *Adapter) MigrateAll(ctx context.Context) ([]*Result, error) {
	var results []*Result
	for _, file := range []string{a.cfg.EquipmentFile, a.cfg.ContainersFile} {
		r, err := a.MigrateIfNeeded(ctx, file)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// MigrateIfNeeded migrates file if it holds a legacy layout.
func (a *Adapter) MigrateIfNeeded(ctx context.Context, file string) (*Result, error) {
	if a.cfg.Store == nil || a.cfg.Seal == nil {
		return nil, errors.NewNotReady("migration adapter not configured")
	}
	switch file {
	case a.cfg.EquipmentFile:
		return a.migrateEquipment(ctx)
	case a.cfg.ContainersFile:
		return a.migrateContainers(ctx)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("no migration defined for %q", file))
	}
}

// migrateContainers rewrites ItemId_GlobalId keys to SlotType_GlobalId_ItemId
// with a single save.
func (a *Adapter) migrateContainers(ctx context.Context) (*Result, error) {
	file := a.cfg.ContainersFile
	res := &Result{File: file, Rekeyed: map[string]string{}}

	keys, err := a.cfg.Store.Keys(file)
	if err != nil {
		return nil, err
	}
	var legacy []string
	for _, k := range keys {
		if model.IsLegacyContainerKey(k) {
			legacy = append(legacy, k)
		}
	}
	if len(legacy) == 0 {
		return res, nil
	}

	entries := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		raw, err := a.cfg.Store.Read(ctx, k, file)
		if err != nil {
			return nil, err
		}
		entries[k] = raw
	}

	for _, oldKey := range legacy {
		newKey, value, err := a.rekeyContainer(ctx, oldKey, entries[oldKey])
		if err != nil {
			a.logger.Warn("legacy container key left in place",
				slog.String("key", oldKey),
				slog.String("error", err.Error()),
			)
			res.Skipped = append(res.Skipped, oldKey)
			continue
		}
		delete(entries, oldKey)
		if _, exists := entries[newKey]; exists {
			res.Dropped = append(res.Dropped, oldKey)
			continue
		}
		entries[newKey] = value
		res.Rekeyed[oldKey] = newKey
	}

	if !res.Changed() {
		return res, nil
	}
	if err := a.cfg.Store.SaveAll(ctx, entries, file); err != nil {
		return nil, err
	}
	metrics.MigrationsApplied.WithLabelValues("container_keys").Add(float64(len(res.Rekeyed) + len(res.Dropped)))
	a.logger.Info("container keys migrated",
		slog.Int("rekeyed", len(res.Rekeyed)),
		slog.Int("dropped", len(res.Dropped)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (a *Adapter) rekeyContainer(ctx context.Context, oldKey string, raw json.RawMessage) (string, json.RawMessage, error) {
	itemID, globalID, err := parseLegacyKey(oldKey)
	if err != nil {
		return "", nil, err
	}

	snap, env, err := decodeContainer(raw)
	if err != nil {
		return "", nil, err
	}
	if snap.ItemID == 0 {
		snap.ItemID = itemID
	}
	if snap.GlobalID == 0 {
		snap.GlobalID = globalID
	}
	if !snap.Slot.Valid() {
		slot, ok := a.slotHolding(ctx, snap.GlobalID, snap.ItemID)
		if !ok {
			return "", nil, fmt.Errorf("no slot recorded for container %s", oldKey)
		}
		snap.Slot = slot
		env = nil
	}

	newKey := snap.Key().String()
	if env != nil {
		if ok, _ := env.ChecksumValid(); ok {
			return newKey, raw, nil
		}
	}
	sealed, err := a.cfg.Seal(snap)
	if err != nil {
		return "", nil, err
	}
	value, err := json.Marshal(sealed)
	if err != nil {
		return "", nil, err
	}
	return newKey, value, nil
}

// slotHolding looks up which slot of the stored equipment snapshot holds the item.
func (a *Adapter) slotHolding(ctx context.Context, globalID int64, itemID int) (model.SlotType, bool) {
	raw, err := a.cfg.Store.Read(ctx, a.cfg.EquipmentKey, a.cfg.EquipmentFile)
	if err != nil {
		return "", false
	}
	snap, _, err := decodeEquipment(raw)
	if err != nil {
		return "", false
	}
	for _, e := range snap.Occupied() {
		if e.Item.GlobalID == globalID && e.Item.ItemID == itemID {
			return e.Slot, true
		}
	}
	return "", false
}

// migrateEquipment copies equipment from a legacy key or the legacy
// preference table into the canonical key, then deletes the legacy entry.
func (a *Adapter) migrateEquipment(ctx context.Context) (*Result, error) {
	file := a.cfg.EquipmentFile
	res := &Result{File: file}
	canonical := a.cfg.Store.Exists(a.cfg.EquipmentKey, file)

	for _, k := range a.cfg.LegacyEquipmentKeys {
		if !a.cfg.Store.Exists(k, file) {
			continue
		}
		if !canonical {
			raw, err := a.cfg.Store.Read(ctx, k, file)
			if err != nil {
				return nil, err
			}
			if err := a.importEquipment(ctx, raw); err != nil {
				a.logger.Warn("legacy equipment key unreadable", slog.String("key", k), slog.String("error", err.Error()))
				res.Skipped = append(res.Skipped, k)
				continue
			}
			canonical = true
			res.ImportedFrom = "key:" + k
		} else {
			res.Dropped = append(res.Dropped, k)
		}
		if err := a.cfg.Store.DeleteKey(ctx, k, file); err != nil {
			return nil, err
		}
	}

	if a.cfg.DB != nil {
		pref, err := db.GetPref(a.cfg.DB, a.cfg.LegacyPrefKey)
		switch {
		case errors.Is(err, errors.ErrNotFound):
		case err != nil:
			return nil, err
		case canonical:
			res.Dropped = append(res.Dropped, "prefs:"+pref.Key)
			if err := db.DeletePref(a.cfg.DB, pref.Key); err != nil {
				return nil, err
			}
		default:
			if err := a.importEquipment(ctx, json.RawMessage(pref.Value)); err != nil {
				a.logger.Warn("legacy equipment preference unreadable", slog.String("key", pref.Key), slog.String("error", err.Error()))
				res.Skipped = append(res.Skipped, "prefs:"+pref.Key)
				break
			}
			res.ImportedFrom = "prefs:" + pref.Key
			if err := db.DeletePref(a.cfg.DB, pref.Key); err != nil {
				return nil, err
			}
		}
	}

	if res.ImportedFrom != "" {
		metrics.MigrationsApplied.WithLabelValues("equipment_import").Inc()
		a.logger.Info("legacy equipment imported", slog.String("from", res.ImportedFrom))
	}
	if len(res.Dropped) > 0 {
		metrics.MigrationsApplied.WithLabelValues("equipment_drop").Add(float64(len(res.Dropped)))
	}
	return res, nil
}

func (a *Adapter) importEquipment(ctx context.Context, raw json.RawMessage) error {
	snap, _, err := decodeEquipment(raw)
	if err != nil {
		return err
	}
	snap = normalizeLegacy(snap)
	if err := model.ValidateSnapshot(snap); err != nil {
		return err
	}
	sealed, err := a.cfg.Seal(snap)
	if err != nil {
		return err
	}
	return a.cfg.Store.Save(ctx, a.cfg.EquipmentKey, sealed, a.cfg.EquipmentFile)
}

// normalizeLegacy fills in missing slots, drops unknown or duplicate ones
// (an occupied duplicate wins), clamps states and recomputes counts.
func normalizeLegacy(s *model.SystemSnapshot) *model.SystemSnapshot {
	bySlot := make(map[model.SlotType]model.EquipmentSlotSnapshot)
	for _, e := range s.Slots {
		slot, ok := model.ParseSlotType(string(e.Slot))
		if !ok {
			continue
		}
		e.Slot = slot
		if e.Occupied && e.Item == nil {
			e.Occupied = false
		}
		if prev, seen := bySlot[slot]; seen && prev.Occupied {
			continue
		}
		bySlot[slot] = e
	}

	slots := make([]model.EquipmentSlotSnapshot, 0, len(model.KnownSlots))
	for _, slot := range model.KnownSlots {
		e, ok := bySlot[slot]
		if !ok {
			e = model.EquipmentSlotSnapshot{Slot: slot}
		}
		slots = append(slots, e)
	}

	version := s.Version
	if version == "" {
		version = "1.0"
	}
	out := model.NewSystemSnapshot(version, slots)
	out.ClampStates()
	return out
}

// decodeEquipment accepts an envelope or a bare snapshot.
func decodeEquipment(raw json.RawMessage) (*model.SystemSnapshot, *model.Envelope, error) {
	var snap model.SystemSnapshot
	env, err := decodeEither(raw, &snap)
	if err != nil {
		return nil, nil, err
	}
	return &snap, env, nil
}

// decodeContainer accepts an envelope or a bare container snapshot.
func decodeContainer(raw json.RawMessage) (*model.ContainerSnapshot, *model.Envelope, error) {
	var snap model.ContainerSnapshot
	env, err := decodeEither(raw, &snap)
	if err != nil {
		return nil, nil, err
	}
	return &snap, env, nil
}

func decodeEither(raw json.RawMessage, v any) (*model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Payload) > 0 {
		if err := env.Decode(v); err != nil {
			return nil, errors.NewValidation(err.Error())
		}
		return &env, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("legacy value: %v", err))
	}
	return nil, nil
}

func parseLegacyKey(key string) (itemID int, globalID int64, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("legacy key %q: want ItemId_GlobalId", key)
	}
	itemID, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("legacy key %q: %w", key, err)
	}
	globalID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("legacy key %q: %w", key, err)
	}
	return itemID, globalID, nil
}
