package conflict

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

type count int

func (c count) OccupiedCount() int { return int(c) }

func TestGuard_EmptyWriteInsideGraceWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	g := NewGuard(clk, 10*time.Second, nil)

	clk.Advance(3 * time.Second)
	refused := testutil.ToFloat64(metrics.EmptyWritesRefused)
	if g.ShouldPersist(count(0), true) {
		t.Fatal("empty snapshot over existing data accepted inside grace window")
	}
	if got := testutil.ToFloat64(metrics.EmptyWritesRefused); got != refused+1 {
		t.Errorf("EmptyWritesRefused = %v, want %v", got, refused+1)
	}
	if !g.ShouldPersist(count(0), false) {
		t.Error("empty snapshot refused with no previous data")
	}
	if !g.InGraceWindow() {
		t.Error("InGraceWindow() = false at 3s")
	}

	clk.Advance(7 * time.Second)
	if !g.ShouldPersist(count(0), true) {
		t.Error("empty snapshot refused after grace window")
	}
	if g.InGraceWindow() {
		t.Error("InGraceWindow() = true at 10s")
	}
}

func TestGuard_OccupancyLiftsWindowPermanently(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	g := NewGuard(clk, 10*time.Second, nil)

	if !g.ShouldPersist(count(3), true) {
		t.Fatal("occupied snapshot refused")
	}
	if !g.Lifted() {
		t.Fatal("occupied snapshot did not lift the window")
	}
	clk.Advance(time.Second)
	if !g.ShouldPersist(count(0), true) {
		t.Error("empty snapshot refused after occupancy was observed")
	}
}

func TestGuard_ObserveOccupancy(t *testing.T) {
	g := NewGuard(clock.NewFake(time.Unix(0, 0)), time.Minute, nil)
	g.ObserveOccupancy(0)
	if g.Lifted() {
		t.Fatal("ObserveOccupancy(0) lifted the window")
	}
	g.ObserveOccupancy(2)
	if !g.ShouldPersist(nil, true) {
		t.Error("nil candidate refused after window lifted")
	}
}

func TestGuard_SnapshotCandidates(t *testing.T) {
	g := NewGuard(clock.NewFake(time.Unix(0, 0)), time.Minute, nil)
	empty := model.NewSystemSnapshot("2.0", nil)
	if g.ShouldPersist(empty, true) {
		t.Error("empty SystemSnapshot accepted")
	}
	if g.ShouldPersist(&model.ContainerSnapshot{Slot: model.SlotBackpack}, true) {
		t.Error("empty ContainerSnapshot accepted")
	}
}

func demoResolver() *Resolver {
	return NewResolver(live.DemoCatalog(), nil)
}

func TestResolve_DuplicateGlobalID(t *testing.T) {
	tests := []struct {
		name     string
		itemName string
		expected model.Category
		wantItem int
		wantHow  Match
	}{
		{"name and category", "Medkit", model.CategoryHealing, 6001, MatchCategory},
		{"name shared, other category", "Medkit", model.CategorySpecial, 6002, MatchCategory},
		{"category only", "", model.CategorySpecial, 6002, MatchCategory},
		{"nothing matches", "Bandage", model.CategoryFood, 6001, MatchFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, how, err := demoResolver().Resolve(500, tt.itemName, tt.expected)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if e.ItemID != tt.wantItem || how != tt.wantHow {
				t.Errorf("Resolve() = item %d via %s, want %d via %s", e.ItemID, how, tt.wantItem, tt.wantHow)
			}
		})
	}
}

func TestResolve_ExactNameWins(t *testing.T) {
	r := NewResolver(live.NewCatalog(
		live.CatalogEntry{GlobalID: 9, ItemID: 1, Name: "Field Ration", Category: model.CategoryFood},
		live.CatalogEntry{GlobalID: 9, ItemID: 2, Name: "Energy Bar", Category: model.CategoryFood},
	), nil)

	e, how, err := r.Resolve(9, "Energy Bar", model.CategoryFood)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if e.ItemID != 2 || how != MatchName {
		t.Errorf("Resolve() = %d via %s, want 2 via name", e.ItemID, how)
	}
}

func TestResolve_UniqueAndMissing(t *testing.T) {
	e, how, err := demoResolver().Resolve(10, "whatever", model.CategoryWeapon)
	if err != nil || e.ItemID != 1001 || how != MatchUnique {
		t.Errorf("Resolve(10) = %d, %s, %v", e.ItemID, how, err)
	}

	_, _, err = demoResolver().Resolve(12345, "", "")
	if !errors.Is(err, errors.ErrMissingCatalogEntry) {
		t.Errorf("Resolve(unknown) = %v, want MISSING_CATALOG_ENTRY", err)
	}
}
