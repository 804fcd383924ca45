package ops

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/config"
	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

var testEpoch = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	dir   string
	cfg   *config.Config
	store *store.Store
	db    *sql.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(store.Config{Dir: dir, Backups: true})
	require.NoError(t, err)
	database, err := db.Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return &testEnv{dir: dir, cfg: config.DefaultConfig(), store: s, db: database}
}

// engine builds an engine over the shared data directory. A nil eq starts
// with empty equipment.
func (v *testEnv) engine(t *testing.T, eq *live.Equipment, factory *live.Factory) *engine.Engine {
	t.Helper()
	if factory == nil {
		factory = live.NewFactory(live.DemoCatalog())
	}
	e, err := engine.New(engine.Options{
		Config:    v.cfg,
		Store:     v.store,
		DB:        v.db,
		Clock:     clock.NewFake(testEpoch),
		Equipment: eq,
		Catalog:   live.DemoCatalog(),
		Factory:   factory,
	})
	require.NoError(t, err)
	return e
}

// kit builds equipment with a helmet and a backpack holding a medkit.
func kit(t *testing.T) (*live.Equipment, *live.Factory) {
	t.Helper()
	f := live.NewFactory(live.DemoCatalog())
	eq := live.NewEquipment()

	helmet, err := f.Create(1001, model.CategoryHelmet)
	require.NoError(t, err)
	helmet.State = model.RuntimeItemState{StackCount: 1, Durability: 80}
	eq.Equip(model.SlotHead, helmet)

	pack, err := f.Create(4010, model.CategoryBackpack)
	require.NoError(t, err)
	eq.Equip(model.SlotBackpack, pack)

	medkit, err := f.Create(6001, model.CategoryHealing)
	require.NoError(t, err)
	medkit.State = model.RuntimeItemState{StackCount: 1, Durability: 300}
	require.True(t, pack.Grid.Place(medkit, model.Position{X: 1, Y: 2}))
	return eq, f
}

// TestFullWorkflow exercises the diagnostics lifecycle:
// save → stats → history → load → clear → stats (empty)
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	v := newTestEnv(t)
	eq, f := kit(t)

	// 1. Save
	saveOut, err := Save(ctx, v.engine(t, eq, f))
	require.NoError(t, err)
	require.True(t, saveOut.EquipmentWritten)
	require.Equal(t, []string{"Backpack_77_4010"}, saveOut.Containers)
	require.Equal(t, "Saved equipment; saved 1 container", saveOut.Message)

	// 2. Stats from a fresh engine
	e := v.engine(t, nil, nil)
	stats, err := Stats(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 2, stats.SlotCount)
	require.Equal(t, 3, stats.ItemCount)
	require.Equal(t, 1, stats.Containers)
	require.Equal(t, map[string]int{"Backpack_77_4010": 1}, stats.ContainerItems)

	// 3. History
	histOut, err := History(e, HistoryInput{})
	require.NoError(t, err)
	require.Equal(t, 2, histOut.Total)
	require.Equal(t, DefaultHistoryLimit, histOut.Limit)
	require.Len(t, histOut.Items, 2)

	histOut, err = History(e, HistoryInput{Domain: " Containers ", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, histOut.Total)
	require.Equal(t, engine.DomainContainers, histOut.Items[0].Domain)

	// 4. Load
	loadOut, err := Load(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 2, loadOut.Equipment.Restored)
	require.Equal(t, "Restored 2 slots; 1 container restored", loadOut.Message)
	require.Len(t, loadOut.State.Slots, len(model.KnownSlots))

	var pack *live.ItemDoc
	for _, s := range loadOut.State.Slots {
		if s.Slot == model.SlotBackpack {
			pack = s.Item
		}
	}
	require.NotNil(t, pack)
	require.Len(t, pack.Contents, 1)
	require.Equal(t, model.Position{X: 1, Y: 2}, pack.Contents[0].Position)
	require.Equal(t, 300.0, pack.Contents[0].State.Durability)

	// 5. Clear without confirm is refused
	_, err = Clear(ctx, e, ClearInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	clearOut, err := Clear(ctx, e, ClearInput{Confirm: true})
	require.NoError(t, err)
	require.Len(t, clearOut.Files, 4)
	require.Equal(t, int64(2), clearOut.HistoryRows)
	require.Equal(t, "Cleared 4 files, 0 legacy preferences and 2 history rows", clearOut.Message)

	// 6. Stats - nothing left
	stats, err = Stats(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 0, stats.SlotCount)
	require.Equal(t, 0, stats.Containers)
}

func TestSave_EmptyRefusedDuringGraceWindow(t *testing.T) {
	ctx := context.Background()
	v := newTestEnv(t)
	eq, f := kit(t)
	_, err := Save(ctx, v.engine(t, eq, f))
	require.NoError(t, err)

	out, err := Save(ctx, v.engine(t, nil, nil))
	require.NoError(t, err)
	require.False(t, out.EquipmentWritten)
	require.True(t, out.EquipmentRefused)
	require.Equal(t, "Refused empty equipment write during startup grace window", out.Message)
}

func TestLoad_NoData(t *testing.T) {
	v := newTestEnv(t)

	out, err := Load(context.Background(), v.engine(t, nil, nil))
	require.NoError(t, err)
	require.True(t, out.Equipment.NoData)
	require.Equal(t, "No saved equipment", out.Message)
}

func TestHistory_LimitClamped(t *testing.T) {
	v := newTestEnv(t)
	e := v.engine(t, nil, nil)

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero uses default", 0, DefaultHistoryLimit},
		{"negative uses default", -3, DefaultHistoryLimit},
		{"within range", 7, 7},
		{"above max", MaxHistoryLimit + 1, MaxHistoryLimit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := History(e, HistoryInput{Limit: tc.limit})
			require.NoError(t, err)
			require.Equal(t, tc.want, out.Limit)
			require.NotNil(t, out.Items)
		})
	}
}

func TestHistory_UnknownDomain(t *testing.T) {
	v := newTestEnv(t)

	_, err := History(v.engine(t, nil, nil), HistoryInput{Domain: "weapons"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	v := newTestEnv(t)
	legacy := &model.ContainerSnapshot{
		Slot:     model.SlotBackpack,
		GlobalID: 77,
		ItemID:   4010,
		Items: []model.NestedItem{
			{Item: model.ItemRecord{ItemID: 7001, GlobalID: 600, Name: "Ammo", Category: model.CategoryAmmunition}},
		},
	}
	require.NoError(t, v.store.Save(ctx, "4010_77", legacy, engine.ContainersFile))

	e := v.engine(t, nil, nil)
	out, err := Migrate(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 1, out.Changed)
	require.Equal(t, "Migrated 1 file", out.Message)

	out, err = Migrate(ctx, e)
	require.NoError(t, err)
	require.Equal(t, 0, out.Changed)
	require.Equal(t, "Nothing to migrate", out.Message)
}
