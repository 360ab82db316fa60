package gear

import "craftbot.ai/internal/world"

// Material tiers, best first. Anything unknown ranks below all of them.
var materialTier = map[string]int{
	"netherite": 0,
	"diamond":   1,
	"iron":      2,
	"chainmail": 3,
	"gold":      4,
	"golden":    4,
	"stone":     5,
	"leather":   6,
	"wooden":    6,
	"turtle":    6,
}

const unknownTier = 99

var armorPieces = map[world.Slot][]string{
	world.SlotHead:  {"helmet"},
	world.SlotTorso: {"chestplate"},
	world.SlotLegs:  {"leggings"},
	world.SlotFeet:  {"boots"},
}

var weaponKinds = []string{"sword", "axe", "trident"}

func Tier(name string) int {
	best := unknownTier
	for _, tok := range world.Tokens(name) {
		if t, ok := materialTier[tok]; ok && t < best {
			best = t
		}
	}
	return best
}

// BestArmor returns the best armor piece in items for slot.
func BestArmor(items []world.Item, slot world.Slot) (world.Item, bool) {
	return best(items, armorPieces[slot])
}

// BestWeapon prefers material tier, then sword over axe over trident.
func BestWeapon(items []world.Item) (world.Item, bool) {
	return best(items, weaponKinds)
}

func best(items []world.Item, kinds []string) (world.Item, bool) {
	var (
		out      world.Item
		found    bool
		bestTier int
		bestKind int
	)
	for _, it := range items {
		k := kindIndex(it.Name, kinds)
		if k < 0 || it.Count <= 0 {
			continue
		}
		tier := Tier(it.Name)
		if !found || tier < bestTier || (tier == bestTier && k < bestKind) {
			out, found, bestTier, bestKind = it, true, tier, k
		}
	}
	return out, found
}

func kindIndex(name string, kinds []string) int {
	for i, k := range kinds {
		if world.HasToken(name, k) {
			return i
		}
	}
	return -1
}
