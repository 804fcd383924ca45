package live

import (
	"sync"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// Factory instantiates catalog entries. Container entries get an initialized
// grid unless DeferGrids is set, in which case InitGrids must be called.
type Factory struct {
	DeferGrids bool

	catalog   *Catalog
	mu        sync.Mutex
	nextID    int64
	live      map[int64]*Item
	created   int
	destroyed int
}

// NewFactory returns a factory backed by catalog.
func NewFactory(catalog *Catalog) *Factory {
	return &Factory{catalog: catalog, live: make(map[int64]*Item)}
}

// Create instantiates the entry with itemID in category.
func (f *Factory) Create(itemID int, category model.Category) (*Item, error) {
	entry, ok := f.catalog.Find(itemID, category)
	if !ok {
		return nil, errors.NewMissingPrefab(itemID, string(category))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	it := &Item{InstanceID: f.nextID, Entry: entry}
	if entry.IsContainer() && !f.DeferGrids {
		it.Grid = NewGrid(entry.Grid.Width, entry.Grid.Height)
	}
	f.live[it.InstanceID] = it
	f.created++
	return it, nil
}

// InitGrids gives every live container item without a grid its grid.
func (f *Factory) InitGrids() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.live {
		if it.Grid == nil && it.Entry.IsContainer() {
			it.Grid = NewGrid(it.Entry.Grid.Width, it.Entry.Grid.Height)
			n++
		}
	}
	return n
}

// Destroy releases an instance. Destroying an unknown or nil item is a no-op.
func (f *Factory) Destroy(it *Item) {
	if it == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[it.InstanceID]; !ok {
		return
	}
	delete(f.live, it.InstanceID)
	f.destroyed++
}

// Live returns the number of instances not yet destroyed.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Counts returns lifetime created and destroyed totals.
func (f *Factory) Counts() (created, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.destroyed
}
