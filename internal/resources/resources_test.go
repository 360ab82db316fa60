package resources

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/persistence/home"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

var botPos = world.Vec3{X: 0.5, Y: 65, Z: 0.5}

func newManager(t *testing.T) (*Manager, *home.Store) {
	t.Helper()
	homes, err := home.Open(filepath.Join(t.TempDir(), "bot_home.json"))
	if err != nil {
		t.Fatalf("home.Open: %v", err)
	}
	tu := tuning.Defaults()
	tu.Deposit.ArriveWaitMs = 0
	return New(tu, homes, nil), homes
}

func newActuator(w world.World) *arbiter.Actuator {
	return arbiter.New(nil).For(w, arbiter.Holder{ID: "chestdump", Priority: arbiter.PriorityCommand})
}

func TestRoute_Order(t *testing.T) {
	m, homes := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	below := world.Vec3i{X: 0, Y: 64, Z: 0}
	near := world.Vec3i{X: 2, Y: 65, Z: 0}
	far := world.Vec3i{X: 20, Y: 64, Z: 20}
	w.AddContainer(below)
	w.AddContainer(near)
	w.AddContainer(far)
	if err := homes.Set(far); err != nil {
		t.Fatal(err)
	}

	got, err := m.Route(context.Background(), w)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []Target{
		{Source: SourceBelow, Pos: below},
		{Source: SourceNearby, Pos: near},
		{Source: SourceHome, Pos: far},
	}
	if len(got) != len(want) {
		t.Fatalf("targets: got %+v want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("target %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestRoute_MissingHomeChestSkipped(t *testing.T) {
	m, homes := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	if err := homes.Set(world.Vec3i{X: 9, Y: 64, Z: 9}); err != nil {
		t.Fatal(err)
	}
	got, err := m.Route(context.Background(), w)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no targets, got %+v", got)
	}
	if _, err := m.DepositRouted(context.Background(), newActuator(w), nil); !errors.Is(err, ErrNoContainer) {
		t.Fatalf("expected ErrNoContainer, got %v", err)
	}
	if _, err := m.DepositHome(context.Background(), newActuator(w), nil); !errors.Is(err, ErrHomeMissing) {
		t.Fatalf("expected ErrHomeMissing, got %v", err)
	}
}

func TestDepositRouted_KeepsToolsAndChests(t *testing.T) {
	m, _ := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	below := world.Vec3i{X: 0, Y: 64, Z: 0}
	w.AddContainer(below)
	w.Give("cobblestone", 64)
	w.Give("iron_pickaxe", 1)
	w.Give("chest", 2)
	w.Give("oak_log", 10)
	w.Give("diamond_chestplate", 1)

	rep, err := m.DepositRouted(context.Background(), newActuator(w), Any(m.KeepTools, m.KeepOnDump))
	if err != nil {
		t.Fatalf("DepositRouted: %v", err)
	}
	if rep.Target.Source != SourceBelow {
		t.Fatalf("expected below chest, got %+v", rep.Target)
	}
	if rep.Deposited != 3 || rep.Kept != 2 || rep.Failed != 0 {
		t.Fatalf("report: %+v", rep)
	}
	if w.Count("iron_pickaxe") != 1 || w.Count("chest") != 2 {
		t.Fatalf("kept items left the inventory")
	}
	if w.Count("diamond_chestplate") != 0 {
		t.Fatalf("chestplate should not match the chest keep rule")
	}
	if got := len(w.ContainerItems(below)); got != 3 {
		t.Fatalf("chest contents: got %d stacks want 3", got)
	}
}

func TestDepositInto_ItemFailureDoesNotAbort(t *testing.T) {
	m, _ := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	below := world.Vec3i{X: 0, Y: 64, Z: 0}
	w.AddContainer(below)
	w.Give("dirt", 10)
	w.Give("cobblestone", 10)
	w.FailDeposit("dirt")

	rep, err := m.DepositInto(context.Background(), newActuator(w), Target{Source: SourceBelow, Pos: below}, nil)
	if err != nil {
		t.Fatalf("DepositInto: %v", err)
	}
	if rep.Deposited != 1 || rep.Failed != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if w.Count("dirt") != 10 || w.Count("cobblestone") != 0 {
		t.Fatalf("unexpected inventory after partial deposit")
	}
}

func TestDepositInto_RetriesOpenOnce(t *testing.T) {
	m, _ := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	pos := world.Vec3i{X: 2, Y: 65, Z: 0}
	w.AddContainer(pos)
	w.Give("dirt", 5)
	w.FailOpen(pos, 1)

	rep, err := m.DepositInto(context.Background(), newActuator(w), Target{Source: SourceNearby, Pos: pos}, nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if rep.Deposited != 1 {
		t.Fatalf("report: %+v", rep)
	}

	w.Give("dirt", 5)
	w.FailOpen(pos, 2)
	if _, err := m.DepositInto(context.Background(), newActuator(w), Target{Source: SourceNearby, Pos: pos}, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after two refusals, got %v", err)
	}
	if w.Count("dirt") != 5 {
		t.Fatalf("inventory changed after failed open")
	}
}

func TestDepositInto_BusyActuator(t *testing.T) {
	m, _ := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	below := world.Vec3i{X: 0, Y: 64, Z: 0}
	w.AddContainer(below)
	w.Give("dirt", 5)

	arb := arbiter.New(nil)
	if _, err := arb.Acquire(arbiter.Holder{ID: "defend", Priority: arbiter.PriorityDefend}); err != nil {
		t.Fatal(err)
	}
	act := arb.For(w, arbiter.Holder{ID: "chestdump", Priority: arbiter.PriorityCommand})
	if _, err := m.DepositInto(context.Background(), act, Target{Source: SourceBelow, Pos: below}, nil); !errors.Is(err, arbiter.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if w.Count("dirt") != 5 {
		t.Fatalf("deposit happened without the lease")
	}
}

func TestSetHomeNearby(t *testing.T) {
	m, homes := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos})
	if _, err := m.SetHomeNearby(context.Background(), w); !errors.Is(err, ErrNoContainer) {
		t.Fatalf("expected ErrNoContainer, got %v", err)
	}

	chest := world.Vec3i{X: 1, Y: 65, Z: 1}
	w.AddContainer(chest)
	got, err := m.SetHomeNearby(context.Background(), w)
	if err != nil {
		t.Fatalf("SetHomeNearby: %v", err)
	}
	if got != chest {
		t.Fatalf("home: got %v want %v", got, chest)
	}
	reopened, err := home.Open(homes.Path())
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := reopened.Get(); !ok || p != chest {
		t.Fatalf("persisted home: got %v ok=%v", p, ok)
	}
}

func TestNeedsDeposit(t *testing.T) {
	m, _ := newManager(t)
	w := simworld.New(simworld.Config{Spawn: botPos, InventorySlots: 8})
	w.Give("dirt", 64*3)
	free, err := m.FreeSlots(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if free != 5 {
		t.Fatalf("free slots: got %d want 5", free)
	}
	if !m.NeedsDeposit(free) {
		t.Fatalf("5 free slots is below the threshold of 6")
	}
	if m.NeedsDeposit(6) {
		t.Fatalf("exactly 6 free slots should not trigger a deposit")
	}
}
