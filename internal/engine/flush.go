package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// FlushResult reports what one scheduler flush wrote.
type FlushResult struct {
	Reason           string   `json:"reason"`
	EquipmentWritten bool     `json:"equipment_written"`
	EquipmentRefused bool     `json:"equipment_refused,omitempty"`
	Containers       []string `json:"containers,omitempty"`
	Refused          []string `json:"refused_containers,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`
}

// flush is the scheduler's write step. It always runs with e.mu held: the
// deferred path arrives through serialClock and the immediate path from a
// locked entry point.
func (e *Engine) flush(ctx context.Context, reason string) error {
	res := &FlushResult{Reason: reason}
	e.lastFlush = res

	if err := e.flushEquipment(ctx, res); err != nil {
		return err
	}
	return e.flushContainers(ctx, res)
}

func (e *Engine) flushEquipment(ctx context.Context, res *FlushResult) error {
	snap := e.equipment
	if snap == nil || !e.equipmentDirty {
		return nil
	}
	if !e.guard.ShouldPersist(snap, e.store.Exists(EquipmentKey, EquipmentFile)) {
		res.EquipmentRefused = true
		e.equipmentDirty = false
		return nil
	}

	env, err := e.seal(snap)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := e.store.Save(ctx, EquipmentKey, env, EquipmentFile, store.WithCompression(e.cfg.Compress)); err != nil {
		metrics.SaveWrites.WithLabelValues(DomainEquipment, "error").Inc()
		// The cache stays dirty so the next flush retries
		return err
	}
	metrics.SaveWrites.WithLabelValues(DomainEquipment, "ok").Inc()
	e.equipmentDirty = false
	res.EquipmentWritten = true
	res.Timestamp = env.Timestamp

	e.recordHistory(DomainEquipment, env, snap.OccupiedCount(), snap.OccupiedCount(), res.Reason)
	e.logger.Info("equipment saved",
		slog.Int("occupied", snap.OccupiedCount()),
		slog.Int64("timestamp", env.Timestamp),
		slog.String("reason", res.Reason),
	)
	return nil
}

// flushContainers writes every dirty container in one store write.
func (e *Engine) flushContainers(ctx context.Context, res *FlushResult) error {
	if len(e.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.dirty))
	for k := range e.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make(map[string]json.RawMessage, len(keys))
	var envs []*model.Envelope
	var items int
	for _, key := range keys {
		snap := e.cache[key]
		if snap == nil {
			delete(e.dirty, key)
			continue
		}
		if !e.guard.ShouldPersist(snap, e.store.Exists(key, ContainersFile)) {
			res.Refused = append(res.Refused, key)
			delete(e.dirty, key)
			continue
		}
		env, err := e.seal(snap)
		if err != nil {
			return errors.NewInternal(err)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return errors.NewInternal(err)
		}
		entries[key] = raw
		envs = append(envs, env)
		items += snap.OccupiedCount()
		res.Containers = append(res.Containers, key)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := e.store.SaveEntries(ctx, entries, ContainersFile, store.WithCompression(e.cfg.Compress)); err != nil {
		metrics.SaveWrites.WithLabelValues(DomainContainers, "error").Inc()
		res.Containers = nil
		return err
	}
	metrics.SaveWrites.WithLabelValues(DomainContainers, "ok").Inc()
	for key := range entries {
		delete(e.dirty, key)
	}

	last := envs[len(envs)-1]
	e.recordHistory(DomainContainers, last, len(envs), items, res.Reason)
	e.logger.Info("containers saved",
		slog.Int("containers", len(envs)),
		slog.Int("items", items),
		slog.String("reason", res.Reason),
	)
	return nil
}

// recordHistory appends a save_history row. History is diagnostics only; a
// failed insert never fails the save.
func (e *Engine) recordHistory(domain string, env *model.Envelope, occupied, items int, reason string) {
	if e.db == nil {
		return
	}
	r := reason
	h := &db.HistoryEntry{
		Domain:        domain,
		SessionID:     env.SessionID,
		Timestamp:     env.Timestamp,
		Checksum:      env.Checksum,
		SchemaVersion: env.SchemaVersion,
		OccupiedSlots: occupied,
		ItemCount:     items,
		Reason:        &r,
		CreatedAt:     e.clock.Now().Unix(),
	}
	if err := db.InsertHistory(e.db, h); err != nil {
		e.logger.Warn("history insert failed", slog.String("domain", domain), slog.String("error", err.Error()))
	}
}
