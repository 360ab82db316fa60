package behavior

import (
	"context"
	"errors"
	"fmt"

	"craftbot.ai/internal/world"
)

// followTick keeps a navigation goal on the target player. The goal is only
// re-issued when the player has moved or the last goal was never reached.
func (r *Registry) followTick(s *session) TickFunc {
	var last *world.Goal
	return func(ctx context.Context) {
		ft := r.tu.Follow
		p, ok, err := world.Player(ctx, r.w, s.Target)
		if err != nil {
			if ctx.Err() == nil {
				r.logf("[follow] lookup %s: %v", s.Target, err)
			}
			return
		}
		if !ok {
			r.stopSession(s)
			r.emit(Notice{Kind: KindFollow, SessionID: s.ID, Message: fmt.Sprintf("target lost: %s", s.Target)})
			return
		}
		self, err := r.w.Self(ctx)
		if err != nil {
			return
		}
		if last != nil && last.Pos.DistanceTo(p.Pos) <= ft.Epsilon && last.Reached(self.Pos) {
			return
		}
		if _, err := s.act.Acquire(); err != nil {
			return
		}
		goal := world.Goal{Pos: p.Pos, Radius: ft.GoalRadius}
		last = &goal

		mctx, cancel := context.WithTimeout(ctx, ft.MoveTimeout())
		defer cancel()
		if err := s.act.MoveTo(mctx, goal); err != nil && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.logf("[follow] move to %s: %v", s.Target, err)
		}
	}
}
