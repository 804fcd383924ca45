package live

import (
	"sync"

	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// SlotInstance is one live slot object. During scene transitions more than
// one instance may exist for the same slot type.
type SlotInstance struct {
	ID   int
	Type model.SlotType
	Item *Item
}

// Occupied reports whether the instance holds an item.
func (s *SlotInstance) Occupied() bool { return s.Item != nil }

// Equipment is the set of live slot instances.
type Equipment struct {
	mu        sync.Mutex
	nextID    int
	instances []*SlotInstance
}

// NewEquipment returns one empty instance per known slot.
func NewEquipment() *Equipment {
	e := &Equipment{}
	for _, slot := range model.KnownSlots {
		e.AddInstance(slot)
	}
	return e
}

// AddInstance registers another instance for slot and returns it.
func (e *Equipment) AddInstance(slot model.SlotType) *SlotInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	inst := &SlotInstance{ID: e.nextID, Type: slot}
	e.instances = append(e.instances, inst)
	return inst
}

// Instances returns every instance registered for slot, in registration order.
func (e *Equipment) Instances(slot model.SlotType) []*SlotInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*SlotInstance
	for _, inst := range e.instances {
		if inst.Type == slot {
			out = append(out, inst)
		}
	}
	return out
}

// Attach sets inst's item directly, bypassing primary selection.
func (e *Equipment) Attach(inst *SlotInstance, item *Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst.Item = item
}

// Primary returns the instance that owns slot: the first occupied instance,
// else the first registered one. Nil if slot has no instance.
func (e *Equipment) Primary(slot model.SlotType) *SlotInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary(slot)
}

func (e *Equipment) primary(slot model.SlotType) *SlotInstance {
	var first *SlotInstance
	for _, inst := range e.instances {
		if inst.Type != slot {
			continue
		}
		if inst.Item != nil {
			return inst
		}
		if first == nil {
			first = inst
		}
	}
	return first
}

// Equip attaches item to slot's primary instance and returns the item it
// displaced, if any.
func (e *Equipment) Equip(slot model.SlotType, item *Item) *Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst := e.primary(slot)
	if inst == nil {
		return nil
	}
	prev := inst.Item
	inst.Item = item
	return prev
}

// Release detaches and returns the item in slot's primary instance.
func (e *Equipment) Release(slot model.SlotType) *Item {
	return e.Equip(slot, nil)
}

// ItemIn returns the item held by slot's primary instance.
func (e *Equipment) ItemIn(slot model.SlotType) *Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst := e.primary(slot); inst != nil {
		return inst.Item
	}
	return nil
}

// RemoveDuplicates drops every instance that is not its slot's primary and
// returns how many were dropped.
func (e *Equipment) RemoveDuplicates() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[*SlotInstance]bool)
	for _, inst := range e.instances {
		if p := e.primary(inst.Type); p != nil {
			keep[p] = true
		}
	}
	kept := make([]*SlotInstance, 0, len(keep))
	for _, inst := range e.instances {
		if keep[inst] {
			kept = append(kept, inst)
		}
	}
	dropped := len(e.instances) - len(kept)
	e.instances = kept
	return dropped
}

// View is a point-in-time copy of one slot instance.
type View struct {
	ID   int
	Type model.SlotType
	Item *Item
}

// Views copies every instance registered for slot, in registration order.
func (e *Equipment) Views(slot model.SlotType) []View {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []View
	for _, inst := range e.instances {
		if inst.Type == slot {
			out = append(out, View{ID: inst.ID, Type: inst.Type, Item: inst.Item})
		}
	}
	return out
}

// Count returns the total number of instances.
func (e *Equipment) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.instances)
}
