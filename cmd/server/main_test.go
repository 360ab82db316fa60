package main

import (
	"context"
	"testing"

	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"10.0.0.7:5000":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestSeedScene(t *testing.T) {
	w := simworld.New(simworld.Config{Spawn: world.Vec3{X: 0.5, Y: 65, Z: 0.5}})
	seedScene(w)
	ctx := context.Background()

	logs, err := w.QueryBlocks(ctx, func(b world.Block) bool { return world.HasToken(b.Name, "log") }, 50)
	if err != nil || len(logs) != 8 {
		t.Fatalf("logs: %d err=%v", len(logs), err)
	}
	chests, _ := w.QueryBlocks(ctx, func(b world.Block) bool { return b.Container }, 10)
	if len(chests) != 1 {
		t.Fatalf("chests: %+v", chests)
	}
	if _, ok, _ := world.Player(ctx, w, "Steve"); !ok {
		t.Fatalf("Steve missing")
	}
}
