package live

import (
	"sort"
	"sync"

	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// Item is a live item instance.
type Item struct {
	InstanceID int64
	Entry      CatalogEntry
	State      model.RuntimeItemState
	// Grid is nil for non-containers and for containers whose grid has not
	// been initialized yet.
	Grid *Grid
}

// Record returns the persisted identity of the item.
func (it *Item) Record() model.ItemRecord {
	return model.ItemRecord{
		ItemID:   it.Entry.ItemID,
		GlobalID: it.Entry.GlobalID,
		Name:     it.Entry.Name,
		Category: it.Entry.Category,
	}
}

// SameDefinition reports whether it was created from the entry identified by
// globalID and itemID.
func (it *Item) SameDefinition(globalID int64, itemID int) bool {
	return it != nil && it.Entry.GlobalID == globalID && it.Entry.ItemID == itemID
}

// Placed is an item at a grid position.
type Placed struct {
	Item     *Item
	Position model.Position
}

// Grid is a container's cell grid. Every item occupies one cell.
type Grid struct {
	mu     sync.Mutex
	width  int
	height int
	cells  map[model.Position]*Item
}

// NewGrid returns an empty grid.
func NewGrid(width, height int) *Grid {
	return &Grid{width: width, height: height, cells: make(map[model.Position]*Item)}
}

// Size returns the grid dimensions.
func (g *Grid) Size() (width, height int) { return g.width, g.height }

func (g *Grid) inBounds(p model.Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

// Place puts item at p. Returns false when p is out of bounds or taken.
func (g *Grid) Place(item *Item, p model.Position) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if item == nil || !g.inBounds(p) {
		return false
	}
	if _, taken := g.cells[p]; taken {
		return false
	}
	g.cells[p] = item
	return true
}

// Remove takes the item at p out of the grid.
func (g *Grid) Remove(p model.Position) *Item {
	g.mu.Lock()
	defer g.mu.Unlock()
	it := g.cells[p]
	delete(g.cells, p)
	return it
}

// At returns the item at p, or nil.
func (g *Grid) At(p model.Position) *Item {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cells[p]
}

// Clear empties the grid and returns what it held.
func (g *Grid) Clear() []Placed {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.contents()
	g.cells = make(map[model.Position]*Item)
	return out
}

// Contents returns the placed items in row-major order.
func (g *Grid) Contents() []Placed {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contents()
}

func (g *Grid) contents() []Placed {
	out := make([]Placed, 0, len(g.cells))
	for p, it := range g.cells {
		out = append(out, Placed{Item: it, Position: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Y != out[j].Position.Y {
			return out[i].Position.Y < out[j].Position.Y
		}
		return out[i].Position.X < out[j].Position.X
	})
	return out
}

// Len returns the number of placed items.
func (g *Grid) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cells)
}

// Placement is the grid placement service. It works on container items and
// treats a missing grid as "not ready".
type Placement struct{}

// Place puts item into container at p.
func (Placement) Place(container, item *Item, p model.Position) bool {
	if container == nil || container.Grid == nil {
		return false
	}
	return container.Grid.Place(item, p)
}

// Clear empties container's grid and returns what it held.
func (Placement) Clear(container *Item) []Placed {
	if container == nil || container.Grid == nil {
		return nil
	}
	return container.Grid.Clear()
}

// ItemAt returns the item at p in container, or nil.
func (Placement) ItemAt(container *Item, p model.Position) *Item {
	if container == nil || container.Grid == nil {
		return nil
	}
	return container.Grid.At(p)
}

// Contents lists container's placed items.
func (Placement) Contents(container *Item) []Placed {
	if container == nil || container.Grid == nil {
		return nil
	}
	return container.Grid.Contents()
}
