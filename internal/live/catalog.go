// Package live holds the in-memory equipment state that the persistence
// engine snapshots and restores: slot instances, item instances, container
// grids, the item catalog and the factory that instantiates catalog entries.
package live

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// GridSize is the cell size of a container item's grid.
type GridSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CatalogEntry is one item definition. Several entries may share a GlobalID.
type CatalogEntry struct {
	GlobalID      int64          `json:"global_id"`
	ItemID        int            `json:"item_id"`
	Name          string         `json:"name"`
	Category      model.Category `json:"category"`
	MaxDurability float64        `json:"max_durability,omitempty"`
	Grid          *GridSize      `json:"grid,omitempty"`
}

// IsContainer reports whether instances of the entry carry a grid.
func (e CatalogEntry) IsContainer() bool {
	return e.Grid != nil && e.Grid.Width > 0 && e.Grid.Height > 0
}

// Catalog indexes entries by global id, preserving insertion order among
// entries that share one.
type Catalog struct {
	byGlobal map[int64][]CatalogEntry
	count    int
}

// NewCatalog builds a catalog from entries.
func NewCatalog(entries ...CatalogEntry) *Catalog {
	c := &Catalog{byGlobal: make(map[int64][]CatalogEntry)}
	for _, e := range entries {
		c.Add(e)
	}
	return c
}

// Add appends an entry.
func (c *Catalog) Add(e CatalogEntry) {
	c.byGlobal[e.GlobalID] = append(c.byGlobal[e.GlobalID], e)
	c.count++
}

// Lookup returns every entry sharing globalID, in insertion order.
func (c *Catalog) Lookup(globalID int64) []CatalogEntry {
	return c.byGlobal[globalID]
}

// Find returns the entry with the given item id and category.
func (c *Catalog) Find(itemID int, category model.Category) (CatalogEntry, bool) {
	for _, gid := range c.globalIDs() {
		for _, e := range c.byGlobal[gid] {
			if e.ItemID == itemID && (category == "" || e.Category == category) {
				return e, true
			}
		}
	}
	return CatalogEntry{}, false
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return c.count }

// Entries returns all entries ordered by global id.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, c.count)
	for _, gid := range c.globalIDs() {
		out = append(out, c.byGlobal[gid]...)
	}
	return out
}

func (c *Catalog) globalIDs() []int64 {
	ids := make([]int64, 0, len(c.byGlobal))
	for id := range c.byGlobal {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type catalogFile struct {
	Entries []CatalogEntry `json:"entries"`
}

// LoadCatalog reads a catalog file of the form {"entries": [...]}.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOFailure("read", path, err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("catalog %s: invalid JSON: %v", path, err))
	}
	for i, e := range f.Entries {
		if e.Category == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("catalog %s: entry %d has no category", path, i))
		}
	}
	return NewCatalog(f.Entries...), nil
}
