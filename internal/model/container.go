package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ContainerKey is the composite identity of a container: the slot that
// owns it plus the container item's global and catalog ids.
type ContainerKey struct {
	Slot     SlotType
	GlobalID int64
	ItemID   int
}

// String renders the canonical SlotType_GlobalId_ItemId form.
func (k ContainerKey) String() string {
	return fmt.Sprintf("%s_%d_%d", k.Slot, k.GlobalID, k.ItemID)
}

// ParseContainerKey parses a canonical key. Legacy keys are rejected.
func ParseContainerKey(s string) (ContainerKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return ContainerKey{}, fmt.Errorf("container key %q: want SlotType_GlobalId_ItemId", s)
	}
	slot, ok := ParseSlotType(parts[0])
	if !ok {
		return ContainerKey{}, fmt.Errorf("container key %q: unknown slot %q", s, parts[0])
	}
	globalID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ContainerKey{}, fmt.Errorf("container key %q: bad global id: %w", s, err)
	}
	itemID, err := strconv.Atoi(parts[2])
	if err != nil {
		return ContainerKey{}, fmt.Errorf("container key %q: bad item id: %w", s, err)
	}
	return ContainerKey{Slot: slot, GlobalID: globalID, ItemID: itemID}, nil
}

// IsLegacyContainerKey reports whether s has the two-part numeric ItemId_GlobalId shape.
func IsLegacyContainerKey(s string) bool {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err != nil {
			return false
		}
	}
	return true
}

// Position is a cell in a container grid.
type Position struct {
	X int `json:"x" validate:"gte=0"`
	Y int `json:"y" validate:"gte=0"`
}

// NestedItem is one item stored inside a container.
type NestedItem struct {
	Item     ItemRecord       `json:"item"`
	State    RuntimeItemState `json:"state"`
	Position Position         `json:"position"`
}

// ContainerSnapshot is the saved content of one container.
type ContainerSnapshot struct {
	Slot          SlotType     `json:"slot" validate:"required"`
	GlobalID      int64        `json:"global_id" validate:"gte=0"`
	ItemID        int          `json:"item_id" validate:"gte=0"`
	ContainerName string       `json:"container_name,omitempty"`
	Items         []NestedItem `json:"items" validate:"dive"`
	SavedAt       int64        `json:"saved_at"`
}

// Key returns the container's composite key.
func (c *ContainerSnapshot) Key() ContainerKey {
	return ContainerKey{Slot: c.Slot, GlobalID: c.GlobalID, ItemID: c.ItemID}
}

// OccupiedCount returns the number of nested items.
func (c *ContainerSnapshot) OccupiedCount() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// ClampStates clamps every nested runtime state in place.
func (c *ContainerSnapshot) ClampStates() {
	for i := range c.Items {
		c.Items[i].State = c.Items[i].State.Clamp(0)
	}
}
