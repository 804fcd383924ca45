// Package model holds the serializable snapshot types. Nothing here performs
// I/O; values are built by the collector and consumed by the restorer.
package model

import "strings"

// SlotType identifies a fixed equipment slot.
type SlotType string

const (
	SlotHead            SlotType = "Head"
	SlotChest           SlotType = "Chest"
	SlotRig             SlotType = "Rig"
	SlotBackpack        SlotType = "Backpack"
	SlotPrimaryWeapon   SlotType = "PrimaryWeapon"
	SlotSecondaryWeapon SlotType = "SecondaryWeapon"
)

// KnownSlots lists every slot in restore order. Container-capable slots come
// after the armour slots so that anchors exist before nested restores.
var KnownSlots = []SlotType{
	SlotHead,
	SlotChest,
	SlotRig,
	SlotBackpack,
	SlotPrimaryWeapon,
	SlotSecondaryWeapon,
}

// Valid reports whether s is one of KnownSlots.
func (s SlotType) Valid() bool {
	for _, k := range KnownSlots {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSlotType resolves a slot name case-insensitively.
func ParseSlotType(name string) (SlotType, bool) {
	name = strings.TrimSpace(name)
	for _, k := range KnownSlots {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

// Category is the catalog folder/namespace an item definition lives in.
type Category string

const (
	CategoryHelmet      Category = "Helmet"
	CategoryArmor       Category = "Armor"
	CategoryTacticalRig Category = "TacticalRig"
	CategoryBackpack    Category = "Backpack"
	CategoryWeapon      Category = "Weapon"
	CategoryAmmunition  Category = "Ammunition"
	CategoryHealing     Category = "Healing"
	CategoryFood        Category = "Food"
	CategoryIntel       Category = "Intel"
	CategorySpecial     Category = "Special"
)

// ExpectedCategory returns the category an item equipped in slot is expected to have.
// Nested container items have no expectation and get "".
func ExpectedCategory(slot SlotType) Category {
	switch slot {
	case SlotHead:
		return CategoryHelmet
	case SlotChest:
		return CategoryArmor
	case SlotRig:
		return CategoryTacticalRig
	case SlotBackpack:
		return CategoryBackpack
	case SlotPrimaryWeapon, SlotSecondaryWeapon:
		return CategoryWeapon
	}
	return ""
}
