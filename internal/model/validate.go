package model

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// snapshotValidate is shared by all snapshot types; validator caches struct metadata.
var snapshotValidate = validator.New()

// ValidateEnvelope checks envelope metadata. It does not verify the checksum.
func ValidateEnvelope(e *Envelope) error {
	if e == nil {
		return errors.NewValidation("envelope is nil")
	}
	return structErr("envelope", snapshotValidate.Struct(e))
}

// ValidateSnapshot checks a SystemSnapshot for structural soundness:
// tag constraints, exactly one entry per known slot, occupied entries carry
// an item, and derived counts agree with the entries.
func ValidateSnapshot(s *SystemSnapshot) error {
	if s == nil {
		return errors.NewValidation("snapshot is nil")
	}
	if err := structErr("snapshot", snapshotValidate.Struct(s)); err != nil {
		return err
	}

	seen := make(map[SlotType]bool, len(s.Slots))
	for _, e := range s.Slots {
		if !e.Slot.Valid() {
			return errors.NewValidation(fmt.Sprintf("unknown slot %q", e.Slot))
		}
		if seen[e.Slot] {
			return errors.NewValidation(fmt.Sprintf("duplicate entry for slot %s", e.Slot))
		}
		seen[e.Slot] = true
		if e.Occupied && e.Item == nil {
			return errors.NewValidation(fmt.Sprintf("slot %s is occupied but has no item", e.Slot))
		}
	}
	for _, k := range KnownSlots {
		if !seen[k] {
			return errors.NewValidation(fmt.Sprintf("missing entry for slot %s", k))
		}
	}

	if s.TotalSlots != len(s.Slots) {
		return errors.NewValidation(fmt.Sprintf("total_slots %d does not match %d entries", s.TotalSlots, len(s.Slots)))
	}
	if occupied := s.countOccupied(); s.OccupiedSlots != occupied {
		return errors.NewValidation(fmt.Sprintf("occupied_slots %d does not match %d occupied entries", s.OccupiedSlots, occupied))
	}
	return nil
}

// ValidateContainer checks a ContainerSnapshot.
func ValidateContainer(c *ContainerSnapshot) error {
	if c == nil {
		return errors.NewValidation("container snapshot is nil")
	}
	if err := structErr("container", snapshotValidate.Struct(c)); err != nil {
		return err
	}
	if !c.Slot.Valid() {
		return errors.NewValidation(fmt.Sprintf("container has unknown slot %q", c.Slot))
	}
	return nil
}

// structErr flattens validator output into one VALIDATION error.
func structErr(what string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.NewValidation(fmt.Sprintf("%s: %v", what, err))
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	vErr := errors.NewValidation(fmt.Sprintf("%s: %s", what, strings.Join(fields, "; ")))
	vErr.Details = map[string]any{"fields": fields}
	return vErr
}
