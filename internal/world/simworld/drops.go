package simworld

import (
	"strings"

	"craftbot.ai/internal/world"
)

var cropDrops = map[string][]world.Item{
	"wheat":     {{Name: "wheat", Count: 1}, {Name: "wheat_seeds", Count: 1}},
	"carrots":   {{Name: "carrot", Count: 2}},
	"potatoes":  {{Name: "potato", Count: 2}},
	"beetroots": {{Name: "beetroot", Count: 1}, {Name: "beetroot_seeds", Count: 1}},
}

var oreDrops = map[string]string{
	"coal_ore":     "coal",
	"iron_ore":     "raw_iron",
	"copper_ore":   "raw_copper",
	"gold_ore":     "raw_gold",
	"diamond_ore":  "diamond",
	"emerald_ore":  "emerald",
	"redstone_ore": "redstone",
	"lapis_ore":    "lapis_lazuli",
}

var seedCrops = map[string]string{
	"wheat_seeds":    "wheat",
	"carrot":         "carrots",
	"potato":         "potatoes",
	"beetroot_seeds": "beetroots",
}

func drops(b world.Block) []world.Item {
	if d, ok := cropDrops[b.Name]; ok {
		return d
	}
	if d, ok := oreDrops[strings.TrimPrefix(b.Name, "deepslate_")]; ok {
		return []world.Item{{Name: d, Count: 1}}
	}
	switch b.Name {
	case "stone":
		return []world.Item{{Name: "cobblestone", Count: 1}}
	case "grass_block":
		return []world.Item{{Name: "dirt", Count: 1}}
	case "bedrock", "air":
		return nil
	}
	return []world.Item{{Name: b.Name, Count: 1}}
}

func placedBlock(item string) string {
	if crop, ok := seedCrops[item]; ok {
		return crop
	}
	return item
}
