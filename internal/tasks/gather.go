package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/world"
)

const workRadius = 2

var errNoSeed = errors.New("no seed to replant")

func isLog(b world.Block) bool {
	return world.HasToken(b.Name, "log") && !strings.HasPrefix(strings.TrimPrefix(b.Name, "minecraft:"), "stripped_")
}

// Deforest chops every unstripped log within radius, nearest first.
func (r *Runner) Deforest(ctx context.Context, act *arbiter.Actuator, radius int) Result {
	defer act.Release()
	return r.deforest(ctx, act, radius)
}

func (r *Runner) deforest(ctx context.Context, act *arbiter.Actuator, radius int) Result {
	res := Result{Kind: KindDeforest}
	w := act.World()
	self, err := w.Self(ctx)
	if err != nil {
		res.abort(err)
		return res
	}
	logs, err := w.QueryBlocks(ctx, isLog, radius)
	if err != nil {
		res.abort(err)
		return res
	}
	if len(logs) == 0 {
		return res
	}

	every := r.tu.Tasks.ProgressEvery
	r.each(ctx, act, &res, listCursor(byDistance(self.Pos, logs)), nil, func(ctx context.Context, pos world.Vec3i) (bool, error) {
		if err := r.approach(ctx, act, pos, workRadius); err != nil {
			return false, err
		}
		// The tree may have been cut by someone else while we walked.
		b, err := w.BlockAt(ctx, pos)
		if err != nil {
			return false, err
		}
		if !isLog(b) || !b.Diggable {
			return false, nil
		}
		if err := r.dig(ctx, act, pos); err != nil {
			return false, err
		}
		if n := res.Processed + 1; every > 0 && n%every == 0 {
			r.say(ctx, w, "Chopped %d logs so far", n)
		}
		return true, nil
	})
	return res
}

// Farm harvests mature crops within radius and replants them.
func (r *Runner) Farm(ctx context.Context, act *arbiter.Actuator, radius int) Result {
	defer act.Release()
	return r.farm(ctx, act, radius)
}

func (r *Runner) mature(b world.Block) bool {
	c, ok := r.tu.Tasks.Crops[strings.TrimPrefix(b.Name, "minecraft:")]
	return ok && b.Age >= c.MatureAge
}

func (r *Runner) farm(ctx context.Context, act *arbiter.Actuator, radius int) Result {
	res := Result{Kind: KindFarm}
	w := act.World()
	self, err := w.Self(ctx)
	if err != nil {
		res.abort(err)
		return res
	}
	crops, err := w.QueryBlocks(ctx, r.mature, radius)
	if err != nil {
		res.abort(err)
		return res
	}

	r.each(ctx, act, &res, listCursor(byDistance(self.Pos, crops)), nil, func(ctx context.Context, pos world.Vec3i) (bool, error) {
		if err := r.approach(ctx, act, pos, workRadius); err != nil {
			return false, err
		}
		b, err := w.BlockAt(ctx, pos)
		if err != nil {
			return false, err
		}
		if !r.mature(b) {
			return false, nil
		}
		if err := r.dig(ctx, act, pos); err != nil {
			return false, err
		}
		seed := r.tu.Tasks.Crops[strings.TrimPrefix(b.Name, "minecraft:")].Seed
		switch err := r.replant(ctx, act, pos, seed); {
		case err == nil:
			res.Replanted++
		case Classify(err) == PolicyAbort:
			return true, err
		default:
			r.logf("replant %s at %s: %v", seed, pos, err)
		}
		return true, nil
	})
	return res
}

// replant puts seed back on the soil under pos, fetching it from the home
// chest when the inventory has none.
func (r *Runner) replant(ctx context.Context, act *arbiter.Actuator, pos world.Vec3i, seed string) error {
	w := act.World()
	item, ok, err := findItem(ctx, w, seed)
	if err != nil {
		return err
	}
	if !ok {
		hp, hasHome := r.res.Home()
		if !hasHome {
			return errNoSeed
		}
		if _, err := r.res.Withdraw(ctx, act, hp, func(it world.Item) bool { return it.Name == seed }, 1); err != nil {
			return fmt.Errorf("fetch %s from home: %w", seed, err)
		}
		if err := r.approach(ctx, act, pos, workRadius); err != nil {
			return err
		}
		if item, ok, err = findItem(ctx, w, seed); err != nil {
			return err
		} else if !ok {
			return errNoSeed
		}
	}
	if err := act.Equip(ctx, item, world.SlotHand); err != nil {
		return err
	}
	return act.PerformAction(ctx, world.ActionPlace, world.AtBlock(pos.Below()))
}

func findItem(ctx context.Context, w world.World, name string) (world.Item, bool, error) {
	items, err := w.Inventory(ctx)
	if err != nil {
		return world.Item{}, false, err
	}
	for _, it := range items {
		if it.Name == name && it.Count > 0 {
			return it, true, nil
		}
	}
	return world.Item{}, false, nil
}

// StripMineLen is the number of blocks on the strip mine path between two
// corners.
func StripMineLen(from, to world.Vec3i) int64 {
	return span(from.X, to.X) + span(from.Y, to.Y) + span(from.Z, to.Z) + 1
}

func span(a, b int) int64 {
	d := int64(b) - int64(a)
	if d < 0 {
		return -d
	}
	return d
}

// stripMineCursor walks from one corner to the other one axis at a time:
// x first, then y, then z.
func stripMineCursor(from, to world.Vec3i) cursor {
	cur, started := from, false
	return func() (world.Vec3i, bool) {
		if !started {
			started = true
			return cur, true
		}
		switch {
		case cur.X != to.X:
			cur.X += sign(to.X - cur.X)
		case cur.Y != to.Y:
			cur.Y += sign(to.Y - cur.Y)
		case cur.Z != to.Z:
			cur.Z += sign(to.Z - cur.Z)
		default:
			return world.Vec3i{}, false
		}
		return cur, true
	}
}

// StripMinePath collects the positions stripMineCursor visits.
func StripMinePath(from, to world.Vec3i) []world.Vec3i {
	var out []world.Vec3i
	next := stripMineCursor(from, to)
	for pos, ok := next(); ok; pos, ok = next() {
		out = append(out, pos)
	}
	return out
}

// StripMine digs along the path from one corner to the other. With onlyOres
// set, only blocks whose name carries the ore token are dug. Spans longer
// than tasks.max_strip_path are refused before anything is dug.
func (r *Runner) StripMine(ctx context.Context, act *arbiter.Actuator, from, to world.Vec3i, onlyOres bool) Result {
	defer act.Release()
	return r.stripMine(ctx, act, from, to, onlyOres)
}

func (r *Runner) stripMine(ctx context.Context, act *arbiter.Actuator, from, to world.Vec3i, onlyOres bool) Result {
	res := Result{Kind: KindStripMine}
	if n := StripMineLen(from, to); n > int64(r.tu.Tasks.MaxStripPath) {
		res.abort(fmt.Errorf("%w: %d blocks, limit %d", ErrSpanTooLarge, n, r.tu.Tasks.MaxStripPath))
		return res
	}
	w := act.World()
	minable := func(b world.Block) bool {
		if b.IsAir() || !b.Diggable {
			return false
		}
		return !onlyOres || world.HasToken(b.Name, r.tu.Tasks.OreToken)
	}
	want := func(ctx context.Context, pos world.Vec3i) (bool, error) {
		b, err := w.BlockAt(ctx, pos)
		if err != nil {
			return false, err
		}
		return minable(b), nil
	}
	r.each(ctx, act, &res, stripMineCursor(from, to), want, func(ctx context.Context, pos world.Vec3i) (bool, error) {
		if err := r.approach(ctx, act, pos, workRadius); err != nil {
			return false, err
		}
		if ok, err := want(ctx, pos); err != nil || !ok {
			return false, err
		}
		if err := r.dig(ctx, act, pos); err != nil {
			return false, err
		}
		return true, nil
	})
	return res
}
