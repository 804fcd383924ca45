package model

// RuntimeItemState is the mutable per-instance state of an item.
type RuntimeItemState struct {
	StackCount int     `json:"stack_count" validate:"gte=0"`
	Durability float64 `json:"durability" validate:"gte=0"`
	UsageCount int     `json:"usage_count" validate:"gte=0"`
}

// Clamp returns s with negative fields raised to zero and durability capped
// at maxDurability. maxDurability <= 0 means no cap.
func (s RuntimeItemState) Clamp(maxDurability float64) RuntimeItemState {
	if s.StackCount < 0 {
		s.StackCount = 0
	}
	if s.UsageCount < 0 {
		s.UsageCount = 0
	}
	if s.Durability < 0 {
		s.Durability = 0
	}
	if maxDurability > 0 && s.Durability > maxDurability {
		s.Durability = maxDurability
	}
	return s
}

// ItemRecord identifies an item definition as remembered at save time.
// Name and Category are hints used to break GlobalID collisions.
type ItemRecord struct {
	ItemID   int      `json:"item_id" validate:"gte=0"`
	GlobalID int64    `json:"global_id" validate:"gte=0"`
	Name     string   `json:"name,omitempty"`
	Category Category `json:"category,omitempty"`
}

// EquipmentSlotSnapshot is the saved state of one slot.
type EquipmentSlotSnapshot struct {
	Slot        SlotType          `json:"slot" validate:"required"`
	Occupied    bool              `json:"occupied"`
	Item        *ItemRecord       `json:"item,omitempty"`
	State       *RuntimeItemState `json:"state,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	SavedAt     int64             `json:"saved_at"`
}

// SystemSnapshot is the saved state of every equipment slot.
type SystemSnapshot struct {
	Version       string                  `json:"version" validate:"required"`
	Slots         []EquipmentSlotSnapshot `json:"slots" validate:"dive"`
	TotalSlots    int                     `json:"total_slots" validate:"gte=0"`
	OccupiedSlots int                     `json:"occupied_slots" validate:"gte=0,ltefield=TotalSlots"`
}

// NewSystemSnapshot builds a snapshot and derives its counts.
func NewSystemSnapshot(version string, slots []EquipmentSlotSnapshot) *SystemSnapshot {
	s := &SystemSnapshot{Version: version, Slots: slots}
	s.TotalSlots = len(slots)
	s.OccupiedSlots = s.countOccupied()
	return s
}

// Slot returns the entry for slot, if present.
func (s *SystemSnapshot) Slot(slot SlotType) (EquipmentSlotSnapshot, bool) {
	for _, e := range s.Slots {
		if e.Slot == slot {
			return e, true
		}
	}
	return EquipmentSlotSnapshot{}, false
}

// Occupied returns the occupied entries in KnownSlots order.
func (s *SystemSnapshot) Occupied() []EquipmentSlotSnapshot {
	out := make([]EquipmentSlotSnapshot, 0, s.OccupiedSlots)
	for _, slot := range KnownSlots {
		if e, ok := s.Slot(slot); ok && e.Occupied && e.Item != nil {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether no slot is occupied.
func (s *SystemSnapshot) IsEmpty() bool {
	return s == nil || s.countOccupied() == 0
}

// OccupiedCount returns the number of occupied entries.
func (s *SystemSnapshot) OccupiedCount() int {
	if s == nil {
		return 0
	}
	return s.countOccupied()
}

func (s *SystemSnapshot) countOccupied() int {
	n := 0
	for _, e := range s.Slots {
		if e.Occupied {
			n++
		}
	}
	return n
}

// ClampStates clamps every runtime state in place. Used by loaders before
// validation so that minor corruption is repaired rather than rejected.
func (s *SystemSnapshot) ClampStates() {
	for i := range s.Slots {
		if st := s.Slots[i].State; st != nil {
			clamped := st.Clamp(0)
			s.Slots[i].State = &clamped
		}
	}
}
