package behavior

import (
	"context"
	"errors"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/gear"
	"craftbot.ai/internal/world"
)

// hostileMatcher matches mob names against the hostile list on whole name
// tokens, so variants count too: cave_spider is a spider and
// zombie_villager a zombie.
func hostileMatcher(names []string) func(string) bool {
	want := make([][]string, 0, len(names))
	for _, n := range names {
		if toks := world.Tokens(n); len(toks) > 0 {
			want = append(want, toks)
		}
	}
	return func(name string) bool {
		got := world.Tokens(name)
		for _, w := range want {
			if hasRun(got, w) {
				return true
			}
		}
		return false
	}
}

// hasRun reports whether run appears as consecutive elements of toks.
func hasRun(toks, run []string) bool {
	for i := 0; i+len(run) <= len(toks); i++ {
		match := true
		for j := range run {
			if toks[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// defendTick fights the nearest hostile mob inside the engage radius and
// falls back when health is low. With nothing to fight it lets go of the
// lease so other behaviors can move the bot.
func (r *Registry) defendTick(s *session) TickFunc {
	hostile := hostileMatcher(r.tu.Defend.HostileMobs)
	ticks, lastArmor := 0, 0
	return func(ctx context.Context) {
		dt := r.tu.Defend
		ticks++

		mobs, err := r.w.QueryEntities(ctx, func(e world.Entity) bool {
			return e.Kind == world.EntityMob && hostile(e.Name)
		})
		if err != nil {
			return
		}
		self, err := r.w.Self(ctx)
		if err != nil {
			return
		}
		target, d, found := nearestEntity(self.Pos, mobs)
		if !found || d >= dt.EngageRadius {
			s.act.Release()
			return
		}
		if _, err := s.act.Acquire(); err != nil {
			return
		}

		if ticks-lastArmor >= dt.ArmorEveryTicks {
			lastArmor = ticks
			if res := r.runner.EquipArmor(ctx, s.act); res.Failed > 0 {
				r.logf("[defend] armor: %s", res.Summary())
			}
		}

		if self.Health <= dt.LowHealth {
			r.retreat(ctx, s.act, self, target)
			return
		}

		if inv, err := r.w.Inventory(ctx); err == nil {
			if wpn, ok := gear.BestWeapon(inv); ok {
				if err := s.act.Equip(ctx, wpn, world.SlotHand); err != nil && !errors.Is(err, arbiter.ErrLeaseLost) {
					r.logf("[defend] equip %s: %v", wpn.Name, err)
				}
			}
		}

		if d > dt.MeleeRange {
			mctx, cancel := context.WithTimeout(ctx, dt.ChaseTimeout())
			err := s.act.MoveTo(mctx, world.Goal{Pos: target.Pos, Radius: 1})
			cancel()
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if self, err = r.w.Self(ctx); err != nil {
				return
			}
			if self.Pos.DistanceTo(target.Pos) > dt.MeleeRange {
				return
			}
		}
		if err := s.act.PerformAction(ctx, world.ActionAttack, world.AtEntity(target.ID)); err != nil && !errors.Is(err, arbiter.ErrLeaseLost) {
			r.logf("[defend] attack %s: %v", target.Name, err)
		}
	}
}

// retreat heads for home when one is set, otherwise straight away from the
// threat, for at most the retreat duration.
func (r *Registry) retreat(ctx context.Context, act *arbiter.Actuator, self world.Self, threat world.Entity) {
	dt := r.tu.Defend
	var goal world.Goal
	if hp, ok := r.runner.Resources().Home(); ok {
		goal = world.GoalNear(hp, 2)
	} else {
		away := self.Pos.Sub(threat.Pos)
		if l := away.Len(); l > 0 {
			away = away.Scale(dt.RetreatDistance / l)
		} else {
			away = world.Vec3{X: dt.RetreatDistance}
		}
		goal = world.Goal{Pos: self.Pos.Add(away), Radius: 1}
	}
	mctx, cancel := context.WithTimeout(ctx, dt.RetreatDuration())
	defer cancel()
	if err := act.MoveTo(mctx, goal); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, arbiter.ErrLeaseLost) {
		r.logf("[defend] retreat: %v", err)
	}
}

func nearestEntity(from world.Vec3, ents []world.Entity) (world.Entity, float64, bool) {
	var (
		best  world.Entity
		bestD float64
		found bool
	)
	for _, e := range ents {
		if d := from.DistanceTo(e.Pos); !found || d < bestD {
			best, bestD, found = e, d, true
		}
	}
	return best, bestD, found
}
