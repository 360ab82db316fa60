package tasks

import (
	"context"
	"errors"
	"fmt"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/gear"
	"craftbot.ai/internal/resources"
	"craftbot.ai/internal/world"
)

// ChestDump empties the inventory into the first routed chest, keeping any
// chests the bot carries.
func (r *Runner) ChestDump(ctx context.Context, act *arbiter.Actuator) Result {
	defer act.Release()
	rep, err := r.res.DepositRouted(ctx, act, r.res.KeepOnDump)
	return depositResult(KindChestDump, rep, err)
}

// GoHome walks to the home chest and empties the inventory into it.
func (r *Runner) GoHome(ctx context.Context, act *arbiter.Actuator) Result {
	defer act.Release()
	rep, err := r.res.DepositHome(ctx, act, r.res.KeepOnDump)
	return depositResult(KindGoHome, rep, err)
}

func depositResult(kind Kind, rep resources.Report, err error) Result {
	res := Result{Kind: kind, Processed: rep.Deposited, Skipped: rep.Kept, Failed: rep.Failed}
	if err != nil {
		res.abort(err)
	}
	return res
}

// AutoRound runs one chop pass, one farm pass and one ore-only strip mine
// around the bot, taking everything but tools home after each pass.
func (r *Runner) AutoRound(ctx context.Context, act *arbiter.Actuator) Result {
	defer act.Release()
	total := Result{Kind: KindAutoRound}

	self, err := act.World().Self(ctx)
	if err != nil {
		total.abort(err)
		return total
	}
	origin := self.Pos.Block()
	a := r.tu.Auto
	from := origin.Add(world.Vec3i{X: a.MineFrom[0], Y: a.MineFrom[1], Z: a.MineFrom[2]})
	to := origin.Add(world.Vec3i{X: a.MineTo[0], Y: a.MineTo[1], Z: a.MineTo[2]})

	passes := []func() Result{
		func() Result { return r.deforest(ctx, act, a.ChopRadius) },
		func() Result { return r.farm(ctx, act, a.FarmRadius) },
		func() Result { return r.stripMine(ctx, act, from, to, true) },
	}
	for _, pass := range passes {
		res := pass()
		total.Processed += res.Processed
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		total.Replanted += res.Replanted
		total.Deposited += res.Deposited
		if res.Aborted {
			total.Aborted, total.Reason, total.Err = true, fmt.Sprintf("%s: %s", res.Kind, res.Reason), res.Err
			return total
		}

		rep, err := r.res.DepositHome(ctx, act, r.res.KeepTools)
		total.Deposited += rep.Deposited
		switch {
		case err == nil:
		case errors.Is(err, resources.ErrNoHome), errors.Is(err, resources.ErrHomeMissing):
			r.logf("auto: %s after %s pass", Reason(err), res.Kind)
		case Classify(err) == PolicyAbort:
			total.abort(err)
			return total
		default:
			r.logf("auto: deposit after %s pass: %v", res.Kind, err)
		}
	}
	return total
}

// Equip takes the lease and dresses the bot in its best armor.
func (r *Runner) Equip(ctx context.Context, act *arbiter.Actuator) Result {
	defer act.Release()
	if _, err := act.Acquire(); err != nil {
		res := Result{Kind: KindEquip}
		res.abort(err)
		return res
	}
	return r.EquipArmor(ctx, act)
}

// EquipArmor puts the best armor piece from the inventory in every armor
// slot. A slot that fails to equip does not stop the others. The caller
// must hold the lease.
func (r *Runner) EquipArmor(ctx context.Context, act *arbiter.Actuator) Result {
	res := Result{Kind: KindEquip}
	items, err := act.World().Inventory(ctx)
	if err != nil {
		res.abort(err)
		return res
	}
	for _, slot := range world.ArmorSlots {
		it, ok := gear.BestArmor(items, slot)
		if !ok {
			res.Skipped++
			continue
		}
		if err := act.Equip(ctx, it, slot); err != nil {
			if Classify(err) == PolicyAbort {
				res.abort(err)
				return res
			}
			r.logf("equip %s on %s: %v", it.Name, slot, err)
			res.Failed++
			continue
		}
		res.Processed++
	}
	return res
}

// ComeTarget is either a player name or a block position.
type ComeTarget struct {
	Player string
	Pos    *world.Vec3i
}

// Come walks once to a player or a position.
func (r *Runner) Come(ctx context.Context, act *arbiter.Actuator, t ComeTarget) Result {
	defer act.Release()
	res := Result{Kind: KindCome}
	var goal world.Goal
	switch {
	case t.Pos != nil:
		goal = world.GoalNear(*t.Pos, 1)
	case t.Player != "":
		p, ok, err := world.Player(ctx, act.World(), t.Player)
		if err != nil {
			res.abort(err)
			return res
		}
		if !ok {
			res.abort(fmt.Errorf("%w: %s", ErrTargetNotFound, t.Player))
			return res
		}
		goal = world.Goal{Pos: p.Pos, Radius: 1}
	default:
		res.abort(fmt.Errorf("%w: no player or position", ErrTargetNotFound))
		return res
	}
	if _, err := act.Acquire(); err != nil {
		res.abort(err)
		return res
	}
	if err := act.MoveTo(ctx, goal); err != nil {
		res.abort(err)
		return res
	}
	res.Processed = 1
	return res
}

func (r *Runner) Jump(ctx context.Context, act *arbiter.Actuator) Result {
	return r.single(ctx, act, KindJump, world.ActionJump)
}

func (r *Runner) Respawn(ctx context.Context, act *arbiter.Actuator) Result {
	return r.single(ctx, act, KindRespawn, world.ActionRespawn)
}

func (r *Runner) single(ctx context.Context, act *arbiter.Actuator, kind Kind, action world.ActionKind) Result {
	defer act.Release()
	res := Result{Kind: kind}
	if _, err := act.Acquire(); err != nil {
		res.abort(err)
		return res
	}
	if err := act.PerformAction(ctx, action, world.Target{}); err != nil {
		res.abort(err)
		return res
	}
	res.Processed = 1
	return res
}
