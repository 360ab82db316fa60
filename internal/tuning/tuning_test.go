package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Follow.Period() != time.Second {
		t.Fatalf("follow period: got %v", got.Follow.Period())
	}
	if got.Defend.EngageRadius != 50 || got.Defend.LowHealth != 6 {
		t.Fatalf("defend defaults mismatch: %+v", got.Defend)
	}
	if p := got.Defend.Period(); p < 700*time.Millisecond || p > 800*time.Millisecond {
		t.Fatalf("defend period out of range: %v", p)
	}
}

func TestLoad_OverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte(`
inventory:
  min_free_slots: 4
defend:
  hostile_mobs: [" Zombie ", "CREEPER"]
chat:
  prefix: ""
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Inventory.MinFreeSlots != 4 {
		t.Fatalf("min_free_slots: got %d", got.Inventory.MinFreeSlots)
	}
	if got.Inventory.DefaultSlots != 36 {
		t.Fatalf("default_slots should keep default, got %d", got.Inventory.DefaultSlots)
	}
	if got.Defend.HostileMobs[0] != "zombie" || got.Defend.HostileMobs[1] != "creeper" {
		t.Fatalf("hostile mobs not normalized: %v", got.Defend.HostileMobs)
	}
	if got.Chat.Prefix != "!" {
		t.Fatalf("prefix: got %q", got.Chat.Prefix)
	}
}

func TestValidate_RejectsBadMelee(t *testing.T) {
	tu := Defaults()
	tu.Defend.MeleeRange = 60
	if err := tu.Validate(); err == nil {
		t.Fatalf("expected melee_range > engage_radius to fail")
	}
}
