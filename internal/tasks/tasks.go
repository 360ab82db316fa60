// Package tasks runs one-shot chores (chopping, farming, mining, chest
// runs) against the world through an arbiter lease.
//
// Every executor walks a work list in order. Before each item it makes sure
// the inventory has room, depositing through the resource manager when it
// does not, and before each navigation it re-acquires the lease. A failing
// item is retried once and then skipped; only resource exhaustion, lost
// connections, a busy actuator or cancellation end a run early.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/resources"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
)

type Kind string

const (
	KindDeforest  Kind = "DEFOREST"
	KindFarm      Kind = "FARM"
	KindStripMine Kind = "STRIP_MINE"
	KindChestDump Kind = "CHEST_DUMP"
	KindGoHome    Kind = "GO_HOME"
	KindAutoRound Kind = "AUTO_ROUND"
	KindEquip     Kind = "EQUIP"
	KindCome      Kind = "COME"
	KindJump      Kind = "JUMP"
	KindRespawn   Kind = "RESPAWN"
)

var (
	ErrInventoryFull  = errors.New("inventory full and nowhere to deposit")
	ErrTargetNotFound = errors.New("target not found")
	ErrSpanTooLarge   = errors.New("strip mine span too large")
)

type Result struct {
	Kind      Kind   `json:"kind"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Replanted int    `json:"replanted,omitempty"`
	Deposited int    `json:"deposited,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Err error `json:"-"`
}

func (r Result) OK() bool { return !r.Aborted }

var verbs = map[Kind]string{
	KindDeforest:  "chopped",
	KindFarm:      "harvested",
	KindStripMine: "mined",
	KindChestDump: "deposited",
	KindGoHome:    "deposited",
	KindAutoRound: "processed",
	KindEquip:     "equipped",
}

// Summary is the one-line report sent back to whoever asked for the task.
func (r Result) Summary() string {
	var b strings.Builder
	name := strings.ToLower(strings.ReplaceAll(string(r.Kind), "_", " "))
	if r.Aborted {
		fmt.Fprintf(&b, "%s stopped: %s", name, r.Reason)
	} else {
		fmt.Fprintf(&b, "%s done", name)
	}
	if v, ok := verbs[r.Kind]; ok {
		fmt.Fprintf(&b, " (%s %d", v, r.Processed)
		if r.Replanted > 0 {
			fmt.Fprintf(&b, ", replanted %d", r.Replanted)
		}
		if r.Deposited > 0 && r.Kind != KindChestDump && r.Kind != KindGoHome {
			fmt.Fprintf(&b, ", deposited %d", r.Deposited)
		}
		if r.Skipped > 0 {
			fmt.Fprintf(&b, ", skipped %d", r.Skipped)
		}
		if r.Failed > 0 {
			fmt.Fprintf(&b, ", failed %d", r.Failed)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (r *Result) abort(err error) {
	r.Aborted = true
	r.Err = err
	r.Reason = Reason(err)
}

// Reason renders err for players.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "stopped"
	case errors.Is(err, arbiter.ErrBusy):
		return "busy defending"
	case errors.Is(err, world.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, resources.ErrNoHome):
		return "home not set"
	case errors.Is(err, resources.ErrHomeMissing):
		return "home chest is gone"
	}
	return err.Error()
}

// Policy says what an executor does with a failed step.
type Policy int

const (
	// PolicyRetry re-runs the item once, then counts it as failed.
	PolicyRetry Policy = iota
	// PolicySkip counts the item as failed without retrying.
	PolicySkip
	// PolicyAbort ends the whole run.
	PolicyAbort
)

func Classify(err error) Policy {
	switch {
	case errors.Is(err, arbiter.ErrBusy),
		errors.Is(err, world.ErrDisconnected),
		errors.Is(err, ErrInventoryFull),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return PolicyAbort
	case errors.Is(err, world.ErrGone):
		return PolicySkip
	}
	return PolicyRetry
}

type Runner struct {
	tu  tuning.Tuning
	res *resources.Manager
	log *log.Logger
}

func New(t tuning.Tuning, res *resources.Manager, logger *log.Logger) *Runner {
	return &Runner{tu: t, res: res, log: logger}
}

func (r *Runner) Resources() *resources.Manager { return r.res }

// workFunc handles one item. It returns false when there was nothing to do.
type workFunc func(ctx context.Context, pos world.Vec3i) (bool, error)

// each drives the work list. want, when set, is consulted before the
// inventory check so items that will be skipped cost no deposit.
// cursor yields work positions one at a time until it reports false.
type cursor func() (world.Vec3i, bool)

func listCursor(items []world.Vec3i) cursor {
	i := 0
	return func() (world.Vec3i, bool) {
		if i >= len(items) {
			return world.Vec3i{}, false
		}
		i++
		return items[i-1], true
	}
}

func (r *Runner) each(ctx context.Context, act *arbiter.Actuator, res *Result, next cursor, want, work workFunc) {
	for pos, ok := next(); ok; pos, ok = next() {
		if err := ctx.Err(); err != nil {
			res.abort(err)
			return
		}
		if want != nil {
			ok, err := want(ctx, pos)
			if err != nil {
				if Classify(err) == PolicyAbort {
					res.abort(err)
					return
				}
				res.Failed++
				continue
			}
			if !ok {
				res.Skipped++
				continue
			}
		}
		if err := r.ensureSpace(ctx, act, res); err != nil {
			res.abort(err)
			return
		}

		done, err := work(ctx, pos)
		if err != nil && Classify(err) == PolicyRetry {
			r.logf("%s %s: %v; retrying", res.Kind, pos, err)
			done, err = work(ctx, pos)
		}
		switch {
		case err != nil && Classify(err) == PolicyAbort:
			res.abort(err)
			return
		case err != nil:
			r.logf("%s %s: %v; skipping", res.Kind, pos, err)
			res.Failed++
		case done:
			res.Processed++
		default:
			res.Skipped++
		}
	}
}

// ensureSpace deposits when the inventory is below the free slot
// threshold. Tools and chests stay with the bot.
func (r *Runner) ensureSpace(ctx context.Context, act *arbiter.Actuator, res *Result) error {
	w := act.World()
	free, err := r.res.FreeSlots(ctx, w)
	if err != nil {
		return err
	}
	if !r.res.NeedsDeposit(free) {
		return nil
	}
	r.logf("%s: %d free slots, depositing", res.Kind, free)
	rep, err := r.res.DepositRouted(ctx, act, r.keepGear())
	res.Deposited += rep.Deposited
	if err != nil {
		if Classify(err) == PolicyAbort {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInventoryFull, err)
	}
	if free, err = r.res.FreeSlots(ctx, w); err != nil {
		return err
	}
	if r.res.NeedsDeposit(free) {
		return fmt.Errorf("%w: %d free slots after deposit", ErrInventoryFull, free)
	}
	return nil
}

func (r *Runner) keepGear() resources.ItemFilter {
	return resources.Any(r.res.KeepTools, r.res.KeepOnDump)
}

// approach takes the lease and walks to within radius of pos.
func (r *Runner) approach(ctx context.Context, act *arbiter.Actuator, pos world.Vec3i, radius float64) error {
	if _, err := act.Acquire(); err != nil {
		return err
	}
	return act.MoveTo(ctx, world.GoalNear(pos, radius))
}

func (r *Runner) dig(ctx context.Context, act *arbiter.Actuator, pos world.Vec3i) error {
	if err := act.PerformAction(ctx, world.ActionDig, world.AtBlock(pos)); err != nil {
		return err
	}
	r.settle(ctx)
	return nil
}

func (r *Runner) settle(ctx context.Context) {
	d := r.tu.Tasks.Settle()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Runner) say(ctx context.Context, w world.World, format string, args ...any) {
	if err := w.Chat(ctx, fmt.Sprintf(format, args...)); err != nil {
		r.logf("chat: %v", err)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}

func byDistance(from world.Vec3, blocks []world.Block) []world.Vec3i {
	sort.SliceStable(blocks, func(i, j int) bool {
		return from.DistanceTo(blocks[i].Pos.Center()) < from.DistanceTo(blocks[j].Pos.Center())
	})
	out := make([]world.Vec3i, len(blocks))
	for i, b := range blocks {
		out[i] = b.Pos
	}
	return out
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
