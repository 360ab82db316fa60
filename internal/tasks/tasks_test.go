package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/persistence/home"
	"craftbot.ai/internal/resources"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

var spawn = world.Vec3{X: 0.5, Y: 65, Z: 0.5}

func newRunner(t *testing.T) (*Runner, *home.Store) {
	t.Helper()
	homes, err := home.Open(filepath.Join(t.TempDir(), "bot_home.json"))
	if err != nil {
		t.Fatalf("home.Open: %v", err)
	}
	tu := tuning.Defaults()
	tu.Tasks.SettleMs = 0
	tu.Deposit.ArriveWaitMs = 0
	return New(tu, resources.New(tu, homes, nil), nil), homes
}

func command(w world.World) *arbiter.Actuator {
	return arbiter.New(nil).For(w, arbiter.Holder{ID: "task-1", Priority: arbiter.PriorityCommand})
}

func countOps(w *simworld.World, kind string) int {
	n := 0
	for _, op := range w.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func TestStripMinePath_AxisMajor(t *testing.T) {
	got := StripMinePath(world.Vec3i{}, world.Vec3i{X: 2, Z: 2})
	want := []world.Vec3i{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 1}, {X: 2, Y: 0, Z: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("path: got %v want %v", got, want)
	}

	got = StripMinePath(world.Vec3i{X: 1, Y: 5, Z: 0}, world.Vec3i{X: 0, Y: 3, Z: -1})
	want = []world.Vec3i{{X: 1, Y: 5, Z: 0}, {X: 0, Y: 5, Z: 0}, {X: 0, Y: 4, Z: 0}, {X: 0, Y: 3, Z: 0}, {X: 0, Y: 3, Z: -1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("negative path: got %v want %v", got, want)
	}

	if got := StripMinePath(world.Vec3i{X: 4}, world.Vec3i{X: 4}); len(got) != 1 {
		t.Fatalf("single block path: %v", got)
	}
}

func TestStripMineLen(t *testing.T) {
	if n := StripMineLen(world.Vec3i{}, world.Vec3i{X: 2, Z: 2}); n != 5 {
		t.Fatalf("len: %d", n)
	}
	if n := StripMineLen(world.Vec3i{X: 4}, world.Vec3i{X: 4}); n != 1 {
		t.Fatalf("single block len: %d", n)
	}
	far := StripMineLen(world.Vec3i{X: -2e9, Y: -64, Z: -2e9}, world.Vec3i{X: 2e9, Y: 320, Z: 2e9})
	if far != 8e9+384+1 {
		t.Fatalf("far len: %d", far)
	}
}

func TestStripMine_RefusesLongSpan(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: world.Vec3{X: 0.5, Y: 61, Z: 0.5}})
	from, to := world.Vec3i{X: -2e9, Y: 60, Z: -2e9}, world.Vec3i{X: 2e9, Y: 60, Z: 2e9}

	res := r.StripMine(context.Background(), command(w), from, to, false)
	if !res.Aborted || !errors.Is(res.Err, ErrSpanTooLarge) || res.Processed != 0 {
		t.Fatalf("long span: %+v", res)
	}
	if ops := w.Ops(); len(ops) != 0 {
		t.Fatalf("refused span touched the world: %+v", ops)
	}
}

func TestDeforest_DepositsMidRunAndResumes(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	below := world.Vec3i{X: 0, Y: 64, Z: 0}
	w.AddContainer(below)
	w.Give("cobblestone", 64*30)
	w.Give("iron_axe", 1)
	logs := []world.Vec3i{{X: 3, Y: 65}, {X: 3, Y: 66}, {X: -4, Y: 65, Z: 2}}
	for _, p := range logs {
		w.SetBlock(p, "oak_log", 0)
	}
	w.SetBlock(world.Vec3i{X: 6, Y: 65}, "stripped_oak_log", 0)

	res := r.Deforest(context.Background(), command(w), 50)
	if res.Aborted {
		t.Fatalf("deforest aborted: %s", res.Reason)
	}
	if res.Processed != 3 {
		t.Fatalf("chopped: got %d want 3 (%+v)", res.Processed, res)
	}
	if res.Deposited != 30 {
		t.Fatalf("deposited stacks: got %d want 30", res.Deposited)
	}
	if w.Count("cobblestone") != 0 || w.Count("iron_axe") != 1 {
		t.Fatalf("deposit should move cobblestone and keep the axe")
	}
	if w.Count("oak_log") != 3 {
		t.Fatalf("logs gathered: got %d want 3", w.Count("oak_log"))
	}
	if _, ok := w.Block(world.Vec3i{X: 6, Y: 65}); !ok {
		t.Fatalf("stripped log should not be chopped")
	}
	// The deposit has to happen before the first dig.
	ops := w.Ops()
	firstDig, firstDeposit := -1, -1
	for i, op := range ops {
		if op.Kind == "dig" && firstDig < 0 {
			firstDig = i
		}
		if op.Kind == "deposit" && firstDeposit < 0 {
			firstDeposit = i
		}
	}
	if firstDeposit < 0 || firstDeposit > firstDig {
		t.Fatalf("expected deposit before digging, ops=%v", ops)
	}
}

func TestDeforest_NearestFirst(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.SetBlock(world.Vec3i{X: 9, Y: 65}, "birch_log", 0)
	w.SetBlock(world.Vec3i{X: -2, Y: 65}, "oak_log", 0)
	w.SetBlock(world.Vec3i{X: 5, Y: 65}, "spruce_log", 0)

	res := r.Deforest(context.Background(), command(w), 50)
	if res.Processed != 3 {
		t.Fatalf("result: %+v", res)
	}
	var order []string
	for _, op := range w.Ops() {
		if op.Kind == "dig" {
			order = append(order, op.Item)
		}
	}
	want := []string{"oak_log", "spruce_log", "birch_log"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("dig order: got %v want %v", order, want)
	}
}

func TestDeforest_AbortsWhenNothingCanTakeItems(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.Give("dirt", 64*31)
	w.SetBlock(world.Vec3i{X: 2, Y: 65}, "oak_log", 0)

	res := r.Deforest(context.Background(), command(w), 50)
	if !res.Aborted || !errors.Is(res.Err, ErrInventoryFull) {
		t.Fatalf("expected inventory full abort, got %+v", res)
	}
	if countOps(w, "dig") != 0 {
		t.Fatalf("no digging should happen with a full inventory")
	}
	if w.Count("dirt") != 64*31 {
		t.Fatalf("gathered items were discarded")
	}
}

func TestDeforest_RetriesOnceThenSkips(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.SetBlock(world.Vec3i{X: 2, Y: 65}, "oak_log", 0)
	w.FailNext(world.ActionDig, 1)

	res := r.Deforest(context.Background(), command(w), 50)
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("single rejection should be retried: %+v", res)
	}

	w.SetBlock(world.Vec3i{X: 2, Y: 65}, "oak_log", 0)
	w.SetBlock(world.Vec3i{X: 4, Y: 65}, "oak_log", 0)
	w.FailNext(world.ActionDig, 2)
	res = r.Deforest(context.Background(), command(w), 50)
	if res.Processed != 1 || res.Failed != 1 || res.Aborted {
		t.Fatalf("expected one failed and one chopped log: %+v", res)
	}
}

func TestDeforest_ProgressChat(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	for i := 0; i < 12; i++ {
		w.SetBlock(world.Vec3i{X: 2 + i, Y: 65}, "oak_log", 0)
	}
	res := r.Deforest(context.Background(), command(w), 50)
	if res.Processed != 12 {
		t.Fatalf("result: %+v", res)
	}
	said := w.Said()
	if len(said) != 1 || !strings.Contains(said[0], "10") {
		t.Fatalf("expected one progress line at 10, got %q", said)
	}
}

func TestDeforest_BusyAndCanceled(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.SetBlock(world.Vec3i{X: 2, Y: 65}, "oak_log", 0)

	arb := arbiter.New(nil)
	if _, err := arb.Acquire(arbiter.Holder{ID: "defend", Priority: arbiter.PriorityDefend}); err != nil {
		t.Fatal(err)
	}
	res := r.Deforest(context.Background(), arb.For(w, arbiter.Holder{ID: "deforest", Priority: arbiter.PriorityCommand}), 50)
	if !res.Aborted || !errors.Is(res.Err, arbiter.ErrBusy) {
		t.Fatalf("expected busy abort, got %+v", res)
	}
	if arb.Holder() != "defend" {
		t.Fatalf("defend lost the lease to a chore")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = r.Deforest(ctx, command(w), 50)
	if !res.Aborted || res.Reason != "stopped" {
		t.Fatalf("expected stopped, got %+v", res)
	}
}

func TestFarm_NoSeedNoHome(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	crop := world.Vec3i{X: 2, Y: 65}
	w.SetBlock(crop.Below(), "farmland", 0)
	w.SetBlock(crop, "wheat", 7)
	w.SetDrops("wheat", world.Item{Name: "wheat", Count: 1})

	res := r.Farm(context.Background(), command(w), 20)
	if res.Aborted || res.Failed != 0 {
		t.Fatalf("farm should finish cleanly: %+v", res)
	}
	if res.Processed != 1 || res.Replanted != 0 {
		t.Fatalf("expected one harvest and no replant: %+v", res)
	}
	if countOps(w, "place") != 0 {
		t.Fatalf("nothing should be planted")
	}
	if w.Count("wheat") != 1 {
		t.Fatalf("harvest missing")
	}
}

func TestFarm_ReplantsFromInventory(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	ripe := world.Vec3i{X: 2, Y: 65}
	young := world.Vec3i{X: 3, Y: 65}
	for _, p := range []world.Vec3i{ripe, young} {
		w.SetBlock(p.Below(), "farmland", 0)
	}
	w.SetBlock(ripe, "wheat", 7)
	w.SetBlock(young, "wheat", 3)

	res := r.Farm(context.Background(), command(w), 20)
	if res.Processed != 1 || res.Replanted != 1 {
		t.Fatalf("result: %+v", res)
	}
	b, ok := w.Block(ripe)
	if !ok || b.Name != "wheat" || b.Age != 0 {
		t.Fatalf("replanted block: %+v ok=%v", b, ok)
	}
	if b, _ := w.Block(young); b.Age != 3 {
		t.Fatalf("young crop touched: %+v", b)
	}
}

func TestFarm_ReplantsFromHomeChest(t *testing.T) {
	r, homes := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	crop := world.Vec3i{X: 2, Y: 65}
	chest := world.Vec3i{X: 6, Y: 65, Z: 6}
	w.SetBlock(crop.Below(), "farmland", 0)
	w.SetBlock(crop, "beetroots", 3)
	w.SetDrops("beetroots", world.Item{Name: "beetroot", Count: 1})
	w.AddContainer(chest, world.Item{Name: "beetroot_seeds", Count: 4})
	if err := homes.Set(chest); err != nil {
		t.Fatal(err)
	}

	res := r.Farm(context.Background(), command(w), 20)
	if res.Processed != 1 || res.Replanted != 1 {
		t.Fatalf("result: %+v", res)
	}
	left := w.ContainerItems(chest)
	if len(left) != 1 || left[0].Count != 3 {
		t.Fatalf("home chest after withdraw: %+v", left)
	}
	if b, _ := w.Block(crop); b.Name != "beetroots" {
		t.Fatalf("crop not replanted: %+v", b)
	}
}

func TestStripMine_OnlyOres(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: world.Vec3{X: 0.5, Y: 61, Z: 0.5}})
	w.SetBlock(world.Vec3i{Y: 60}, "stone", 0)
	w.SetBlock(world.Vec3i{X: 1, Y: 60}, "iron_ore", 0)
	w.SetBedrock(world.Vec3i{X: 3, Y: 60})
	from, to := world.Vec3i{Y: 60}, world.Vec3i{X: 3, Y: 60}

	res := r.StripMine(context.Background(), command(w), from, to, true)
	if res.Processed != 1 || res.Skipped != 3 {
		t.Fatalf("ores only: %+v", res)
	}
	if w.Count("raw_iron") != 1 {
		t.Fatalf("ore not mined")
	}
	if _, ok := w.Block(world.Vec3i{Y: 60}); !ok {
		t.Fatalf("stone mined in ores-only mode")
	}

	res = r.StripMine(context.Background(), command(w), from, to, false)
	if res.Processed != 1 || res.Skipped != 3 {
		t.Fatalf("everything: %+v", res)
	}
	if w.Count("cobblestone") != 1 {
		t.Fatalf("stone not mined")
	}
	if _, ok := w.Block(world.Vec3i{X: 3, Y: 60}); !ok {
		t.Fatalf("bedrock must never be dug")
	}
}

func TestChestDumpAndGoHome(t *testing.T) {
	r, homes := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.Give("dirt", 10)
	w.Give("chest", 1)

	res := r.ChestDump(context.Background(), command(w))
	if !res.Aborted || !errors.Is(res.Err, resources.ErrNoContainer) {
		t.Fatalf("expected no container, got %+v", res)
	}
	res = r.GoHome(context.Background(), command(w))
	if !res.Aborted || res.Reason != "home not set" {
		t.Fatalf("expected home not set, got %+v", res)
	}

	chest := world.Vec3i{X: 8, Y: 65, Z: 8}
	w.AddContainer(chest)
	if err := homes.Set(chest); err != nil {
		t.Fatal(err)
	}
	res = r.GoHome(context.Background(), command(w))
	if res.Aborted || res.Processed != 1 || res.Skipped != 1 {
		t.Fatalf("go home: %+v", res)
	}
	if w.Count("chest") != 1 || w.Count("dirt") != 0 {
		t.Fatalf("go home should keep the carried chest only")
	}
	if !strings.Contains(res.Summary(), "deposited 1") {
		t.Fatalf("summary: %q", res.Summary())
	}
}

func TestAutoRound(t *testing.T) {
	r, homes := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	chest := world.Vec3i{X: 3, Y: 65, Z: 3}
	w.AddContainer(chest)
	if err := homes.Set(chest); err != nil {
		t.Fatal(err)
	}
	w.Give("iron_pickaxe", 1)
	w.SetBlock(world.Vec3i{X: -3, Y: 65, Z: -3}, "oak_log", 0)
	// (0,64,-5) lies on the first leg of the mining path.
	w.SetBlock(world.Vec3i{X: 0, Y: 64, Z: -5}, "coal_ore", 0)

	res := r.AutoRound(context.Background(), command(w))
	if res.Aborted {
		t.Fatalf("auto round aborted: %s", res.Reason)
	}
	if res.Processed != 2 {
		t.Fatalf("processed: %+v", res)
	}
	got := map[string]int{}
	for _, it := range w.ContainerItems(chest) {
		got[it.Name] += it.Count
	}
	if got["oak_log"] != 1 || got["coal"] != 1 {
		t.Fatalf("home chest: %v", got)
	}
	if w.Count("iron_pickaxe") != 1 {
		t.Fatalf("tools must stay with the bot")
	}
}

func TestEquipComeJumpRespawn(t *testing.T) {
	r, _ := newRunner(t)
	w := simworld.New(simworld.Config{Spawn: spawn})
	w.Give("leather_helmet", 1)
	w.Give("iron_helmet", 1)
	w.Give("diamond_boots", 1)

	res := r.Equip(context.Background(), command(w))
	if res.Processed != 2 || res.Skipped != 2 {
		t.Fatalf("equip: %+v", res)
	}
	if w.Equipped(world.SlotHead) != "iron_helmet" || w.Equipped(world.SlotFeet) != "diamond_boots" {
		t.Fatalf("wrong armor equipped")
	}

	res = r.Come(context.Background(), command(w), ComeTarget{Player: "Steve"})
	if !res.Aborted || !errors.Is(res.Err, ErrTargetNotFound) {
		t.Fatalf("expected target not found, got %+v", res)
	}
	steve := world.Vec3{X: 10.5, Y: 65, Z: 0.5}
	w.PutEntity(world.Entity{ID: "p1", Kind: world.EntityPlayer, Name: "Steve", Pos: steve})
	res = r.Come(context.Background(), command(w), ComeTarget{Player: "Steve"})
	if res.Aborted {
		t.Fatalf("come: %+v", res)
	}
	self, _ := w.Self(context.Background())
	if d := self.Pos.DistanceTo(steve); d > 2 {
		t.Fatalf("bot is %.1f blocks from Steve", d)
	}

	if res := r.Jump(context.Background(), command(w)); res.Aborted || countOps(w, "jump") != 1 {
		t.Fatalf("jump: %+v", res)
	}
	if res := r.Respawn(context.Background(), command(w)); !res.Aborted {
		t.Fatalf("respawn while alive should be rejected")
	}
	w.SetHealth(0)
	if res := r.Respawn(context.Background(), command(w)); res.Aborted {
		t.Fatalf("respawn: %+v", res)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Policy
	}{
		{world.ErrRejected, PolicyRetry},
		{world.ErrNoPath, PolicyRetry},
		{arbiter.ErrLeaseLost, PolicyRetry},
		{world.ErrGone, PolicySkip},
		{arbiter.ErrBusy, PolicyAbort},
		{world.ErrDisconnected, PolicyAbort},
		{context.Canceled, PolicyAbort},
		{ErrInventoryFull, PolicyAbort},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v): got %d want %d", c.err, got, c.want)
		}
	}
}
