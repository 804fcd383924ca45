package live

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/model"
)

// StateDoc is the JSON form of a live equipment state. A slot type listed
// twice yields a duplicate instance.
type StateDoc struct {
	Slots []SlotDoc `json:"slots"`
}

// SlotDoc is one slot instance.
type SlotDoc struct {
	Slot model.SlotType `json:"slot"`
	Item *ItemDoc       `json:"item,omitempty"`
}

// ItemDoc is one item instance, with its container contents if any.
type ItemDoc struct {
	GlobalID int64                  `json:"global_id"`
	ItemID   int                    `json:"item_id"`
	Name     string                 `json:"name,omitempty"`
	Category model.Category         `json:"category"`
	State    model.RuntimeItemState `json:"state"`
	Contents []NestedDoc            `json:"contents,omitempty"`
}

// NestedDoc is an item placed inside a container.
type NestedDoc struct {
	GlobalID int64                  `json:"global_id"`
	ItemID   int                    `json:"item_id"`
	Name     string                 `json:"name,omitempty"`
	Category model.Category         `json:"category"`
	State    model.RuntimeItemState `json:"state"`
	Position model.Position         `json:"position"`
}

// DecodeState reads a StateDoc and builds live equipment through factory.
func DecodeState(r io.Reader, factory *Factory) (*Equipment, error) {
	var doc StateDoc
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("live state: invalid JSON: %v", err))
	}
	return BuildState(doc, factory)
}

// BuildState instantiates doc.
func BuildState(doc StateDoc, factory *Factory) (*Equipment, error) {
	eq := NewEquipment()
	used := make(map[model.SlotType]bool)

	for i, sd := range doc.Slots {
		slot, ok := model.ParseSlotType(string(sd.Slot))
		if !ok {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("live state: slots[%d]: unknown slot %q", i, sd.Slot))
		}
		inst := eq.Primary(slot)
		if used[slot] {
			inst = eq.AddInstance(slot)
		}
		used[slot] = true

		if sd.Item == nil {
			continue
		}
		item, err := factory.Create(sd.Item.ItemID, sd.Item.Category)
		if err != nil {
			return nil, err
		}
		item.State = sd.Item.State.Clamp(item.Entry.MaxDurability)

		for j, nd := range sd.Item.Contents {
			if item.Grid == nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("live state: slots[%d]: item %d has contents but is not a container", i, sd.Item.ItemID))
			}
			nested, err := factory.Create(nd.ItemID, nd.Category)
			if err != nil {
				return nil, err
			}
			nested.State = nd.State.Clamp(nested.Entry.MaxDurability)
			if !item.Grid.Place(nested, nd.Position) {
				factory.Destroy(nested)
				return nil, errors.NewPlacementConflict(fmt.Sprintf("slots[%d].contents[%d]", i, j), nd.Position.X, nd.Position.Y)
			}
		}
		eq.Attach(inst, item)
	}
	return eq, nil
}

// EncodeState writes eq as an indented StateDoc.
func EncodeState(w io.Writer, eq *Equipment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Describe(eq))
}

// Describe converts eq to its document form, one entry per instance in
// known-slot order.
func Describe(eq *Equipment) StateDoc {
	doc := StateDoc{Slots: []SlotDoc{}}
	for _, slot := range model.KnownSlots {
		for _, v := range eq.Views(slot) {
			sd := SlotDoc{Slot: slot}
			if v.Item != nil {
				sd.Item = describeItem(v.Item)
			}
			doc.Slots = append(doc.Slots, sd)
		}
	}
	return doc
}

func describeItem(it *Item) *ItemDoc {
	d := &ItemDoc{
		GlobalID: it.Entry.GlobalID,
		ItemID:   it.Entry.ItemID,
		Name:     it.Entry.Name,
		Category: it.Entry.Category,
		State:    it.State,
	}
	if it.Grid != nil {
		for _, p := range it.Grid.Contents() {
			d.Contents = append(d.Contents, NestedDoc{
				GlobalID: p.Item.Entry.GlobalID,
				ItemID:   p.Item.Entry.ItemID,
				Name:     p.Item.Entry.Name,
				Category: p.Item.Entry.Category,
				State:    p.Item.State,
				Position: p.Position,
			})
		}
	}
	return d
}
