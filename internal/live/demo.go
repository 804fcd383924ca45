package live

import "github.com/EstellaNines/Vertias-sub003/internal/model"

// DemoCatalog returns the built-in catalog used when no catalog file is
// given. Global id 500 is deliberately shared by two "Medkit" entries.
func DemoCatalog() *Catalog {
	return NewCatalog(
		CatalogEntry{GlobalID: 10, ItemID: 1001, Name: "Combat Helmet", Category: model.CategoryHelmet, MaxDurability: 100},
		CatalogEntry{GlobalID: 20, ItemID: 2001, Name: "Plate Carrier", Category: model.CategoryArmor, MaxDurability: 120},
		CatalogEntry{GlobalID: 31, ItemID: 3003, Name: "Chest Rig", Category: model.CategoryTacticalRig, Grid: &GridSize{Width: 4, Height: 2}},
		CatalogEntry{GlobalID: 77, ItemID: 4010, Name: "Raid Pack", Category: model.CategoryBackpack, Grid: &GridSize{Width: 5, Height: 4}},
		CatalogEntry{GlobalID: 40, ItemID: 5001, Name: "Carbine", Category: model.CategoryWeapon, MaxDurability: 100},
		CatalogEntry{GlobalID: 41, ItemID: 5002, Name: "Sidearm", Category: model.CategoryWeapon, MaxDurability: 100},
		CatalogEntry{GlobalID: 500, ItemID: 6001, Name: "Medkit", Category: model.CategoryHealing, MaxDurability: 400},
		CatalogEntry{GlobalID: 500, ItemID: 6002, Name: "Medkit", Category: model.CategorySpecial},
		CatalogEntry{GlobalID: 600, ItemID: 7001, Name: "5.56 Rounds", Category: model.CategoryAmmunition},
		CatalogEntry{GlobalID: 610, ItemID: 8001, Name: "Ration", Category: model.CategoryFood},
		CatalogEntry{GlobalID: 620, ItemID: 9001, Name: "Flash Drive", Category: model.CategoryIntel},
	)
}
