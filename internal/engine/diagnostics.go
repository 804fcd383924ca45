package engine

import (
	"context"
	"log/slog"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/migrate"
	"github.com/EstellaNines/Vertias-sub003/internal/restore"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// LoadResult is the outcome of ManualLoad.
type LoadResult struct {
	Equipment  *restore.Result          `json:"equipment"`
	Containers *restore.ContainerResult `json:"containers,omitempty"`
}

// ClearResult reports what ClearAllData removed.
type ClearResult struct {
	Files        []string `json:"files"`
	PrefsCleared int64    `json:"prefs_cleared"`
	HistoryRows  int64    `json:"history_cleared"`
}

// Stats summarizes what is on disk.
type Stats struct {
	// SlotCount is the number of occupied equipment slots.
	SlotCount int `json:"slot_count"`
	// ItemCount is SlotCount plus every item stored inside a container.
	ItemCount      int               `json:"item_count"`
	Containers     int               `json:"containers"`
	SessionID      string            `json:"session_id"`
	LastSessionID  string            `json:"last_session_id,omitempty"`
	LastSavedAt    int64             `json:"last_saved_at,omitempty"`
	SchemaVersion  string            `json:"schema_version,omitempty"`
	Source         string            `json:"source,omitempty"`
	Backups        map[string]bool   `json:"backups"`
	RestoreState   string            `json:"restore_state"`
	SchedulerState string            `json:"scheduler_state"`
	Slots          map[string]string `json:"slots,omitempty"`
	// ContainerItems maps each stored container key to its item count.
	ContainerItems map[string]int `json:"container_items,omitempty"`
	// RestoreCycle counts scene transitions since the engine started.
	RestoreCycle int `json:"restore_cycle"`
	// Prefs lists preference keys still held in the database.
	Prefs    []string          `json:"prefs,omitempty"`
	Counters *metrics.Counters `json:"counters,omitempty"`
}

// ManualSave collects the live state and writes it immediately. The empty
// write guard still applies; the result reports a refusal.
func (e *Engine) ManualSave(ctx context.Context) (*FlushResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.NewNotReady("engine shut down")
	}
	if err := e.collectLocked(); err != nil {
		return nil, err
	}
	if err := e.scheduler.RequestSaveImmediate(ctx, "manual"); err != nil {
		return e.lastFlush, err
	}
	return e.lastFlush, nil
}

// ManualLoad re-arms restore state, including an abandoned orchestrator,
// and restores equipment and containers now.
func (e *Engine) ManualLoad(ctx context.Context) (*LoadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.NewNotReady("engine shut down")
	}
	e.scheduler.Cancel()
	e.orch.Reset()
	e.containers.Reset()
	e.gate.Reset()
	e.lastContainer = nil

	res, err := e.requestLoadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Equipment: res, Containers: e.lastContainer}, nil
}

// ClearAllData deletes both data files with their backups, the legacy
// preferences and the save history, and drops the in-memory cache.
func (e *Engine) ClearAllData(ctx context.Context) (*ClearResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, errors.NewIOFailure("clear", e.store.Dir(), err)
	}

	e.scheduler.Cancel()
	res := &ClearResult{}
	for _, file := range []string{EquipmentFile, ContainersFile} {
		if err := e.store.Purge(file); err != nil {
			return res, err
		}
		res.Files = append(res.Files, file, store.BackupName(file))
	}

	if e.db != nil {
		n, err := db.ClearPrefs(e.db)
		if err != nil {
			return res, err
		}
		res.PrefsCleared = n
		n, err = db.ClearHistory(e.db)
		if err != nil {
			return res, err
		}
		res.HistoryRows = n
	}

	e.equipment = nil
	e.equipmentDirty = false
	clear(e.cache)
	clear(e.dirty)
	e.logger.Info("all persisted data cleared",
		slog.Int64("prefs", res.PrefsCleared),
		slog.Int64("history", res.HistoryRows),
	)
	return res, nil
}

// GetStats reads the stored envelopes and summarizes them. Backups are used
// when a primary copy is unusable, as a restore would.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &Stats{
		SessionID:      e.session,
		SchemaVersion:  e.cfg.SchemaVersion,
		RestoreState:   string(e.orch.State()),
		SchedulerState: e.scheduler.State().String(),
		RestoreCycle:   e.gate.Cycle(),
		Backups: map[string]bool{
			EquipmentFile:  e.store.HasBackup(EquipmentFile),
			ContainersFile: e.store.HasBackup(ContainersFile),
		},
	}

	eq, err := e.readEquipment(ctx)
	if err != nil {
		return nil, err
	}
	if eq.Value != nil {
		st.SlotCount = eq.Value.OccupiedCount()
		st.ItemCount = st.SlotCount
		st.Source = eq.Source
		st.LastSessionID = eq.Envelope.SessionID
		st.LastSavedAt = eq.Envelope.Timestamp
		st.SchemaVersion = eq.Envelope.SchemaVersion
		st.Slots = make(map[string]string, st.SlotCount)
		for _, s := range eq.Value.Occupied() {
			name := s.DisplayName
			if name == "" {
				name = s.Item.Name
			}
			st.Slots[string(s.Slot)] = name
		}
	}

	conts, err := e.readContainers(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range conts {
		if c.Value == nil {
			continue
		}
		if st.ContainerItems == nil {
			st.ContainerItems = make(map[string]int)
		}
		st.Containers++
		st.ItemCount += c.Value.OccupiedCount()
		st.ContainerItems[c.Key] = c.Value.OccupiedCount()
		if c.Envelope.Timestamp > st.LastSavedAt {
			st.LastSavedAt = c.Envelope.Timestamp
		}
	}

	if e.db != nil {
		if st.Prefs, err = db.ListPrefKeys(e.db); err != nil {
			return nil, err
		}
	}
	if st.Counters, err = metrics.Read(e.gather); err != nil {
		e.logger.Warn("metrics unavailable", slog.String("error", err.Error()))
	}
	return st, nil
}

// Migrate runs the legacy migrations now.
func (e *Engine) Migrate(ctx context.Context) ([]*migrate.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.migrator.MigrateAll(ctx)
}

// History lists recorded writes, newest first. An empty domain lists both.
func (e *Engine) History(domain string, limit int) ([]db.HistoryEntry, error) {
	if e.db == nil {
		return nil, errors.NewNotReady("save history requires the database")
	}
	if domain != "" && domain != DomainEquipment && domain != DomainContainers {
		return nil, errors.NewInvalidRequest("domain must be equipment or containers")
	}
	return db.ListHistory(e.db, domain, limit)
}

// HistoryTotal counts recorded writes for domain, or for both when empty.
func (e *Engine) HistoryTotal(domain string) (int, error) {
	if e.db == nil {
		return 0, errors.NewNotReady("save history requires the database")
	}
	return db.CountHistory(e.db, domain)
}

// LastFlush returns the result of the most recent write attempt.
func (e *Engine) LastFlush() *FlushResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFlush
}
