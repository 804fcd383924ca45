package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

const (
	equipmentFile  = "equipment.json"
	containersFile = "containers.json"
	equipmentKey   = "equipment"
)

func seal(payload any) (*model.Envelope, error) {
	return model.Seal("01MIGRATE", 1000, "2.0", payload)
}

func setup(t *testing.T, withDB bool) (*Adapter, *store.Store, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(store.Config{Dir: dir, Backups: true})
	require.NoError(t, err)

	var database *sql.DB
	if withDB {
		database, err = db.Init(dir)
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
	}

	a := New(Config{
		Store:          s,
		DB:             database,
		EquipmentFile:  equipmentFile,
		EquipmentKey:   equipmentKey,
		ContainersFile: containersFile,
		Seal:           seal,
	})
	return a, s, database
}

func readEnvelope(t *testing.T, s *store.Store, key, file string) *model.Envelope {
	t.Helper()
	raw, err := s.Read(context.Background(), key, file)
	require.NoError(t, err)
	var env model.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return &env
}

func backpackContents() *model.ContainerSnapshot {
	return &model.ContainerSnapshot{
		Slot:     model.SlotBackpack,
		GlobalID: 77,
		ItemID:   4010,
		Items: []model.NestedItem{
			{Item: model.ItemRecord{ItemID: 6001, GlobalID: 500, Name: "Medkit"}, State: model.RuntimeItemState{StackCount: 2}, Position: model.Position{X: 1, Y: 2}},
		},
	}
}

func TestMigrateContainers_RekeysLegacyKey(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, false)

	env, err := seal(backpackContents())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "4010_77", env, containersFile))

	res, err := a.MigrateIfNeeded(ctx, containersFile)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"4010_77": "Backpack_77_4010"}, res.Rekeyed)

	require.False(t, s.Exists("4010_77", containersFile))
	got := readEnvelope(t, s, "Backpack_77_4010", containersFile)
	var snap model.ContainerSnapshot
	require.NoError(t, got.Decode(&snap))
	require.Equal(t, backpackContents().Items, snap.Items)
	ok, _ := got.ChecksumValid()
	require.True(t, ok)
}

func TestMigrateContainers_Idempotent(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, false)

	env, err := seal(backpackContents())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "4010_77", env, containersFile))

	_, err = a.MigrateIfNeeded(ctx, containersFile)
	require.NoError(t, err)
	require.True(t, s.HasBackup(containersFile))

	// Remove the backup so any further write would recreate it
	require.NoError(t, s.Purge(store.BackupName(containersFile)))
	before, err := s.Read(ctx, "Backpack_77_4010", containersFile)
	require.NoError(t, err)

	res, err := a.MigrateIfNeeded(ctx, containersFile)
	require.NoError(t, err)
	require.False(t, res.Changed())
	require.False(t, s.HasBackup(containersFile), "second run wrote the file")

	after, err := s.Read(ctx, "Backpack_77_4010", containersFile)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestMigrateContainers_BareLegacyValueWithoutSlot(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, false)

	// Equipment says the 77/4010 pack lives in the Backpack slot
	slots := make([]model.EquipmentSlotSnapshot, 0, len(model.KnownSlots))
	for _, slot := range model.KnownSlots {
		e := model.EquipmentSlotSnapshot{Slot: slot}
		if slot == model.SlotBackpack {
			e.Occupied = true
			e.Item = &model.ItemRecord{ItemID: 4010, GlobalID: 77}
		}
		slots = append(slots, e)
	}
	equip, err := seal(model.NewSystemSnapshot("2.0", slots))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, equipmentKey, equip, equipmentFile))

	legacy := backpackContents()
	legacy.Slot = ""
	legacy.GlobalID = 0
	legacy.ItemID = 0
	require.NoError(t, s.Save(ctx, "4010_77", legacy, containersFile))
	require.NoError(t, s.Save(ctx, "9_9", map[string]any{"items": []any{}}, containersFile))

	res, err := a.MigrateIfNeeded(ctx, containersFile)
	require.NoError(t, err)
	require.Equal(t, "Backpack_77_4010", res.Rekeyed["4010_77"])
	require.Equal(t, []string{"9_9"}, res.Skipped)

	got := readEnvelope(t, s, "Backpack_77_4010", containersFile)
	var snap model.ContainerSnapshot
	require.NoError(t, got.Decode(&snap))
	require.Equal(t, model.SlotBackpack, snap.Slot)
	require.EqualValues(t, 77, snap.GlobalID)
	require.True(t, s.Exists("9_9", containersFile), "unresolvable key must be left alone")
}

func TestMigrateContainers_CanonicalWins(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, false)

	current := backpackContents()
	current.Items = nil
	envNew, err := seal(current)
	require.NoError(t, err)
	envOld, err := seal(backpackContents())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "Backpack_77_4010", envNew, containersFile))
	require.NoError(t, s.Save(ctx, "4010_77", envOld, containersFile))

	res, err := a.MigrateIfNeeded(ctx, containersFile)
	require.NoError(t, err)
	require.Equal(t, []string{"4010_77"}, res.Dropped)

	keys, err := s.Keys(containersFile)
	require.NoError(t, err)
	require.Equal(t, []string{"Backpack_77_4010"}, keys)
}

func legacySnapshotJSON(t *testing.T) string {
	t.Helper()
	// Older builds stored a bare snapshot with only the occupied slots
	legacy := map[string]any{
		"version": "1.0",
		"slots": []map[string]any{
			{"slot": "head", "occupied": true, "item": map[string]any{"item_id": 1001, "global_id": 10}, "state": map[string]any{"stack_count": 1, "durability": -5}},
			{"slot": "Backpack", "occupied": true, "item": map[string]any{"item_id": 4010, "global_id": 77}},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	return string(data)
}

func TestMigrateEquipment_FromPrefs(t *testing.T) {
	ctx := context.Background()
	a, s, database := setup(t, true)
	require.NoError(t, db.SetPref(database, DefaultLegacyPrefKey, legacySnapshotJSON(t)))

	res, err := a.MigrateIfNeeded(ctx, equipmentFile)
	require.NoError(t, err)
	require.Equal(t, "prefs:"+DefaultLegacyPrefKey, res.ImportedFrom)

	_, err = db.GetPref(database, DefaultLegacyPrefKey)
	require.True(t, errors.Is(err, errors.ErrNotFound), "legacy preference not deleted")

	env := readEnvelope(t, s, equipmentKey, equipmentFile)
	var snap model.SystemSnapshot
	require.NoError(t, env.Decode(&snap))
	require.NoError(t, model.ValidateSnapshot(&snap))
	require.Equal(t, 2, snap.OccupiedSlots)
	head, _ := snap.Slot(model.SlotHead)
	require.Zero(t, head.State.Durability, "negative durability must be clamped")

	again, err := a.MigrateIfNeeded(ctx, equipmentFile)
	require.NoError(t, err)
	require.False(t, again.Changed())
}

func TestMigrateEquipment_FromLegacyKey(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, false)
	require.NoError(t, s.Save(ctx, "EquipmentData", json.RawMessage(legacySnapshotJSON(t)), equipmentFile))

	res, err := a.MigrateIfNeeded(ctx, equipmentFile)
	require.NoError(t, err)
	require.Equal(t, "key:EquipmentData", res.ImportedFrom)
	require.True(t, s.Exists(equipmentKey, equipmentFile))
	require.False(t, s.Exists("EquipmentData", equipmentFile))
}

func TestMigrateEquipment_CanonicalPresentDropsLegacy(t *testing.T) {
	ctx := context.Background()
	a, s, database := setup(t, true)

	env, err := seal(model.NewSystemSnapshot("2.0", nil))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, equipmentKey, env, equipmentFile))
	require.NoError(t, db.SetPref(database, DefaultLegacyPrefKey, legacySnapshotJSON(t)))

	res, err := a.MigrateIfNeeded(ctx, equipmentFile)
	require.NoError(t, err)
	require.Empty(t, res.ImportedFrom)
	require.Equal(t, []string{"prefs:" + DefaultLegacyPrefKey}, res.Dropped)

	_, err = db.GetPref(database, DefaultLegacyPrefKey)
	require.True(t, errors.Is(err, errors.ErrNotFound), "legacy preference not deleted")
}

func TestMigrateIfNeeded_NothingToDo(t *testing.T) {
	ctx := context.Background()
	a, s, _ := setup(t, true)

	results, err := a.MigrateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.False(t, r.Changed())
	}
	require.False(t, s.FileExists(equipmentFile))
	require.False(t, s.FileExists(containersFile))

	_, err = a.MigrateIfNeeded(ctx, "other.json")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
