package arbiter

import (
	"context"
	"errors"

	"craftbot.ai/internal/world"
)

// Actuator is one holder's view of the world. Reads pass straight through;
// movement and actions are dropped with ErrLeaseLost unless the holder owns
// the lease at the moment of dispatch.
type Actuator struct {
	arb    *Arbiter
	w      world.World
	holder Holder
}

func (a *Arbiter) For(w world.World, h Holder) *Actuator {
	return &Actuator{arb: a, w: w, holder: h}
}

func (x *Actuator) HolderID() string { return x.holder.ID }

func (x *Actuator) World() world.World { return x.w }

func (x *Actuator) Acquire() (*Lease, error) { return x.arb.Acquire(x.holder) }

func (x *Actuator) Release() bool { return x.arb.Release(x.holder.ID) }

func (x *Actuator) Held() bool { return x.arb.IsHeldBy(x.holder.ID) }

// MoveTo navigates under the lease. Revoking the lease cancels the pending
// navigation and MoveTo returns ErrLeaseLost.
func (x *Actuator) MoveTo(ctx context.Context, goal world.Goal) error {
	l := x.arb.lease(x.holder.ID)
	if l == nil {
		return ErrLeaseLost
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-l.Done():
			cancel(ErrLeaseLost)
		case <-ctx.Done():
		}
	}()
	err := x.w.MoveTo(ctx, goal)
	if err != nil && errors.Is(context.Cause(ctx), ErrLeaseLost) {
		return ErrLeaseLost
	}
	return err
}

func (x *Actuator) PerformAction(ctx context.Context, kind world.ActionKind, target world.Target) error {
	if !x.Held() {
		return ErrLeaseLost
	}
	return x.w.PerformAction(ctx, kind, target)
}

func (x *Actuator) Equip(ctx context.Context, item world.Item, slot world.Slot) error {
	if !x.Held() {
		return ErrLeaseLost
	}
	return x.w.Equip(ctx, item, slot)
}

func (x *Actuator) OpenContainer(ctx context.Context, pos world.Vec3i) (world.Container, error) {
	if !x.Held() {
		return nil, ErrLeaseLost
	}
	c, err := x.w.OpenContainer(ctx, pos)
	if err != nil {
		return nil, err
	}
	return &guardedContainer{Container: c, x: x}, nil
}

type guardedContainer struct {
	world.Container
	x *Actuator
}

func (g *guardedContainer) Deposit(ctx context.Context, item world.Item) error {
	if !g.x.Held() {
		return ErrLeaseLost
	}
	return g.Container.Deposit(ctx, item)
}

func (g *guardedContainer) Withdraw(ctx context.Context, name string, count int) (world.Item, error) {
	if !g.x.Held() {
		return world.Item{}, ErrLeaseLost
	}
	return g.Container.Withdraw(ctx, name, count)
}
