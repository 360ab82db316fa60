package resources

import (
	"strings"

	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
)

// ItemFilter selects inventory items. Deposits skip the items it matches.
type ItemFilter func(world.Item) bool

// MatchItems builds a filter from exact names and whole name tokens. Tokens
// are matched against underscore separated words, so "axe" does not match
// "pickaxe" and "chest" does not match "chestplate".
func MatchItems(m tuning.ItemMatch) ItemFilter {
	names := map[string]bool{}
	for _, n := range m.Names {
		names[strings.ToLower(strings.TrimSpace(n))] = true
	}
	toks := map[string]bool{}
	for _, t := range m.Tokens {
		toks[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return func(it world.Item) bool {
		if names[strings.ToLower(it.Name)] {
			return true
		}
		for _, tok := range world.Tokens(it.Name) {
			if toks[tok] {
				return true
			}
		}
		return false
	}
}

func keepNothing(world.Item) bool { return false }

// Any matches items matched by at least one of fs.
func Any(fs ...ItemFilter) ItemFilter {
	return func(it world.Item) bool {
		for _, f := range fs {
			if f != nil && f(it) {
				return true
			}
		}
		return false
	}
}
