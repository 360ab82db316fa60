package main

import (
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

// seedScene lays out something for every chore: two trees, a wheat and
// carrot patch, a chest next to spawn, an ore pocket below the surface,
// a player to follow and a zombie at the edge of the defend radius.
func seedScene(w *simworld.World) {
	for _, base := range []world.Vec3i{{X: 6, Y: 65, Z: 3}, {X: 9, Y: 65, Z: -5}} {
		for dy := 0; dy < 4; dy++ {
			w.SetBlock(base.Add(world.Vec3i{Y: dy}), "oak_log", 0)
		}
		w.SetBlock(base.Add(world.Vec3i{Y: 4}), "oak_leaves", 0)
	}

	for x := -6; x <= -3; x++ {
		w.SetBlock(world.Vec3i{X: x, Y: 65, Z: 4}, "wheat", 7)
		w.SetBlock(world.Vec3i{X: x, Y: 65, Z: 5}, "carrots", 3+(x&1)*4)
	}

	w.AddContainer(world.Vec3i{X: 2, Y: 65, Z: -2})

	for x := -2; x <= 2; x++ {
		for z := -2; z <= 2; z++ {
			for y := 59; y <= 62; y++ {
				name := "stone"
				switch {
				case x == 0 && z == 0:
					name = "iron_ore"
				case (x+z+y)%5 == 0:
					name = "coal_ore"
				}
				w.SetBlock(world.Vec3i{X: x, Y: y, Z: z}, name, 0)
			}
		}
	}
	w.SetBedrock(world.Vec3i{X: 0, Y: 58, Z: 0})

	w.Give("stone_sword", 1)
	w.Give("iron_pickaxe", 1)
	w.Give("wheat_seeds", 8)

	w.PutEntity(world.Entity{ID: "player-steve", Kind: world.EntityPlayer, Name: "Steve", Pos: world.Vec3{X: 6.5, Y: 65, Z: 6.5}})
	w.PutEntity(world.Entity{ID: "mob-zombie-1", Kind: world.EntityMob, Name: "zombie", Pos: world.Vec3{X: 30.5, Y: 65, Z: 30.5}})
}
