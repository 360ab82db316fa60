// Package resources watches inventory space and routes deposits to the
// nearest usable container.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/persistence/home"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
)

var (
	ErrNoContainer = errors.New("no chest below, nearby or at home")
	ErrNoHome      = errors.New("no home chest set")
	ErrHomeMissing = errors.New("home chest not found at saved coordinates")
	// ErrUnavailable means a container was found but could not be opened.
	ErrUnavailable = errors.New("chest could not be opened")
)

type Source string

const (
	SourceBelow  Source = "below"
	SourceNearby Source = "nearby"
	SourceHome   Source = "home"
)

type Target struct {
	Source Source
	Pos    world.Vec3i
}

type Report struct {
	Target    Target
	Attempted []Target
	Deposited int
	Kept      int
	Failed    int
}

type Manager struct {
	inv     tuning.InventoryTuning
	deposit tuning.DepositTuning
	homes   *home.Store
	log     *log.Logger

	// KeepOnDump skips the bot's own container items; KeepTools skips tools.
	KeepOnDump ItemFilter
	KeepTools  ItemFilter
}

func New(t tuning.Tuning, homes *home.Store, logger *log.Logger) *Manager {
	return &Manager{
		inv:        t.Inventory,
		deposit:    t.Deposit,
		homes:      homes,
		log:        logger,
		KeepOnDump: MatchItems(t.Deposit.KeepOnDump),
		KeepTools:  MatchItems(t.Deposit.KeepTools),
	}
}

func (m *Manager) Home() (world.Vec3i, bool) { return m.homes.Get() }

// FreeSlots counts empty inventory slots.
func (m *Manager) FreeSlots(ctx context.Context, w world.World) (int, error) {
	self, err := w.Self(ctx)
	if err != nil {
		return 0, err
	}
	items, err := w.Inventory(ctx)
	if err != nil {
		return 0, err
	}
	slots := self.InventorySlots
	if slots <= 0 {
		slots = m.inv.DefaultSlots
	}
	free := slots - len(items)
	if free < 0 {
		free = 0
	}
	return free, nil
}

// NeedsDeposit reports whether free is below the inventory threshold.
func (m *Manager) NeedsDeposit(free int) bool { return free < m.inv.MinFreeSlots }

// Route lists usable containers in priority order: directly below the bot,
// the nearest one within the nearby radius, then the home chest.
func (m *Manager) Route(ctx context.Context, w world.World) ([]Target, error) {
	self, err := w.Self(ctx)
	if err != nil {
		return nil, err
	}
	var out []Target

	below := self.Pos.Block().Below()
	if b, err := w.BlockAt(ctx, below); err != nil {
		return nil, err
	} else if b.Container {
		out = append(out, Target{Source: SourceBelow, Pos: below})
	}

	near, err := w.QueryBlocks(ctx, func(b world.Block) bool { return b.Container }, m.deposit.NearbyRadius)
	if err != nil {
		return nil, err
	}
	if p, ok := nearest(self.Pos, near, below); ok {
		out = append(out, Target{Source: SourceNearby, Pos: p})
	}

	if hp, ok := m.homes.Get(); ok {
		b, err := w.BlockAt(ctx, hp)
		if err != nil {
			return nil, err
		}
		if b.Container {
			out = append(out, Target{Source: SourceHome, Pos: hp})
		}
	}
	return out, nil
}

// DepositRouted unloads into the first routed container.
func (m *Manager) DepositRouted(ctx context.Context, act *arbiter.Actuator, keep ItemFilter) (Report, error) {
	targets, err := m.Route(ctx, act.World())
	if err != nil {
		return Report{}, err
	}
	if len(targets) == 0 {
		return Report{}, ErrNoContainer
	}
	rep, err := m.DepositInto(ctx, act, targets[0], keep)
	rep.Attempted = targets[:1]
	return rep, err
}

// DepositHome unloads into the home chest.
func (m *Manager) DepositHome(ctx context.Context, act *arbiter.Actuator, keep ItemFilter) (Report, error) {
	hp, ok := m.homes.Get()
	if !ok {
		return Report{}, ErrNoHome
	}
	b, err := act.World().BlockAt(ctx, hp)
	if err != nil {
		return Report{}, err
	}
	if !b.Container {
		return Report{}, ErrHomeMissing
	}
	t := Target{Source: SourceHome, Pos: hp}
	rep, err := m.DepositInto(ctx, act, t, keep)
	rep.Attempted = []Target{t}
	return rep, err
}

// DepositInto walks to t, opens it and moves every stack not matched by keep.
func (m *Manager) DepositInto(ctx context.Context, act *arbiter.Actuator, t Target, keep ItemFilter) (Report, error) {
	rep := Report{Target: t}
	if keep == nil {
		keep = keepNothing
	}
	c, err := m.open(ctx, act, t.Pos)
	if err != nil {
		return rep, err
	}
	defer c.Close()

	items, err := act.World().Inventory(ctx)
	if err != nil {
		return rep, err
	}
	for _, it := range items {
		if keep(it) {
			rep.Kept++
			continue
		}
		if err := c.Deposit(ctx, it); err != nil {
			if errors.Is(err, arbiter.ErrLeaseLost) || ctx.Err() != nil {
				return rep, err
			}
			m.logf("deposit %s x%d into %s: %v", it.Name, it.Count, t.Pos, err)
			rep.Failed++
			continue
		}
		rep.Deposited++
	}
	return rep, nil
}

// Withdraw takes up to count items matching want out of the container at pos.
func (m *Manager) Withdraw(ctx context.Context, act *arbiter.Actuator, pos world.Vec3i, want func(world.Item) bool, count int) (world.Item, error) {
	c, err := m.open(ctx, act, pos)
	if err != nil {
		return world.Item{}, err
	}
	defer c.Close()
	items, err := c.Items(ctx)
	if err != nil {
		return world.Item{}, err
	}
	for _, it := range items {
		if want(it) {
			return c.Withdraw(ctx, it.Name, count)
		}
	}
	return world.Item{}, fmt.Errorf("withdraw from %s: %w", pos, world.ErrGone)
}

// SetHomeNearby records the chest under the bot, or the nearest one within
// the sethome radius, as home.
func (m *Manager) SetHomeNearby(ctx context.Context, w world.World) (world.Vec3i, error) {
	self, err := w.Self(ctx)
	if err != nil {
		return world.Vec3i{}, err
	}
	below := self.Pos.Block().Below()
	b, err := w.BlockAt(ctx, below)
	if err != nil {
		return world.Vec3i{}, err
	}
	pos, found := below, b.Container
	if !found {
		near, err := w.QueryBlocks(ctx, func(b world.Block) bool { return b.Container }, m.deposit.SethomeRadius)
		if err != nil {
			return world.Vec3i{}, err
		}
		pos, found = nearest(self.Pos, near)
	}
	if !found {
		return world.Vec3i{}, ErrNoContainer
	}
	if err := m.homes.Set(pos); err != nil {
		return world.Vec3i{}, fmt.Errorf("save home: %w", err)
	}
	return pos, nil
}

// open navigates next to pos and opens it, retrying once after waiting for
// arrival when the first open is refused.
func (m *Manager) open(ctx context.Context, act *arbiter.Actuator, pos world.Vec3i) (world.Container, error) {
	if _, err := act.Acquire(); err != nil {
		return nil, err
	}
	goal := world.GoalNear(pos, 1)
	if err := act.MoveTo(ctx, goal); err != nil {
		if errors.Is(err, arbiter.ErrLeaseLost) || ctx.Err() != nil {
			return nil, err
		}
		m.logf("approach chest %s: %v", pos, err)
	}
	c, err := act.OpenContainer(ctx, pos)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, arbiter.ErrLeaseLost) || errors.Is(err, world.ErrGone) {
		return nil, err
	}
	m.logf("open chest %s: %v; retrying after arrival", pos, err)
	if err := act.MoveTo(ctx, goal); err != nil && (errors.Is(err, arbiter.ErrLeaseLost) || ctx.Err() != nil) {
		return nil, err
	}
	if err := sleep(ctx, m.deposit.ArriveWait()); err != nil {
		return nil, err
	}
	c, err = act.OpenContainer(ctx, pos)
	if err != nil {
		if errors.Is(err, arbiter.ErrLeaseLost) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, pos, err)
	}
	return c, nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}

func nearest(from world.Vec3, blocks []world.Block, skip ...world.Vec3i) (world.Vec3i, bool) {
	var (
		best  world.Vec3i
		bestD = math.Inf(1)
		found bool
	)
	for _, b := range blocks {
		if slices.Contains(skip, b.Pos) {
			continue
		}
		if d := from.DistanceTo(b.Pos.Center()); d < bestD {
			best, bestD, found = b.Pos, d, true
		}
	}
	return best, found
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
