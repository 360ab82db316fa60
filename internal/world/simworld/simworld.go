// Package simworld is a small deterministic in-memory world. It backs the
// test suites and the development server in cmd/server.
package simworld

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"craftbot.ai/internal/world"
)

const (
	stackSize   = 64
	reachBlocks = 5.5
	attackReach = 4.0
	mobHits     = 3
)

type Config struct {
	Name           string
	Spawn          world.Vec3
	Health         float64
	InventorySlots int
	// MoveDelay is how long a MoveTo takes before the agent is placed at the goal.
	MoveDelay time.Duration
}

// Op records an accepted actuator request.
type Op struct {
	Kind   string
	Pos    world.Vec3i
	Entity string
	Item   string
}

type World struct {
	mu  sync.Mutex
	cfg Config

	self       world.Self
	blocks     map[world.Vec3i]world.Block
	entities   map[string]world.Entity
	mobHits    map[string]int
	inv        []world.Item
	equipped   map[world.Slot]string
	containers map[world.Vec3i][]world.Item

	unreachable map[world.Vec3i]bool
	failNext    map[world.ActionKind]int
	failOpen    map[world.Vec3i]int
	failDeposit map[string]bool
	dropTable   map[string][]world.Item

	ops  []Op
	said []string

	events chan world.Event
	closed bool
}

func New(cfg Config) *World {
	if cfg.Name == "" {
		cfg.Name = "bot"
	}
	if cfg.Health <= 0 {
		cfg.Health = 20
	}
	if cfg.InventorySlots <= 0 {
		cfg.InventorySlots = 36
	}
	return &World{
		cfg: cfg,
		self: world.Self{
			Name:           cfg.Name,
			Pos:            cfg.Spawn,
			Health:         cfg.Health,
			Food:           20,
			InventorySlots: cfg.InventorySlots,
		},
		blocks:      map[world.Vec3i]world.Block{},
		entities:    map[string]world.Entity{},
		mobHits:     map[string]int{},
		inv:         make([]world.Item, cfg.InventorySlots),
		equipped:    map[world.Slot]string{},
		containers:  map[world.Vec3i][]world.Item{},
		unreachable: map[world.Vec3i]bool{},
		failNext:    map[world.ActionKind]int{},
		failOpen:    map[world.Vec3i]int{},
		failDeposit: map[string]bool{},
		dropTable:   map[string][]world.Item{},
		events:      make(chan world.Event, 64),
	}
}

// --- scenario setup ---

func (w *World) SetBlock(pos world.Vec3i, name string, age int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[pos] = world.Block{Pos: pos, Name: name, Age: age, Diggable: true}
}

func (w *World) SetBedrock(pos world.Vec3i) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[pos] = world.Block{Pos: pos, Name: "bedrock"}
}

func (w *World) AddContainer(pos world.Vec3i, items ...world.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[pos] = world.Block{Pos: pos, Name: "chest", Diggable: true, Container: true}
	w.containers[pos] = append([]world.Item(nil), items...)
}

func (w *World) RemoveBlock(pos world.Vec3i) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.blocks, pos)
	delete(w.containers, pos)
}

func (w *World) SetUnreachable(pos world.Vec3i) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unreachable[pos] = true
}

func (w *World) PutEntity(e world.Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[e.ID] = e
}

func (w *World) RemoveEntity(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, id)
}

func (w *World) SetPos(p world.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Pos = p
}

func (w *World) SetHealth(h float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Health = h
}

// Give adds count of name to the inventory, stacking where possible.
// It returns the amount that did not fit.
func (w *World) Give(name string, count int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.giveLocked(name, count)
}

// FailNext makes the next n actions of kind fail with ErrRejected.
func (w *World) FailNext(kind world.ActionKind, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext[kind] = n
}

func (w *World) FailOpen(pos world.Vec3i, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failOpen[pos] = n
}

func (w *World) FailDeposit(item string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failDeposit[item] = true
}

// SetDrops overrides what digging a block called name yields. No items
// means the block drops nothing.
func (w *World) SetDrops(name string, items ...world.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropTable[name] = append([]world.Item{}, items...)
}

// EmitChat simulates a chat line from another player.
func (w *World) EmitChat(user, msg string) {
	w.emit(world.Event{Kind: world.EventChat, User: user, Message: msg})
}

// Disconnect ends the world session and closes the event stream.
func (w *World) Disconnect(reason string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.events <- world.Event{Kind: world.EventEnd, Message: reason}
	close(w.events)
}

// --- inspection ---

func (w *World) Ops() []Op {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Op(nil), w.ops...)
}

func (w *World) Said() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.said...)
}

func (w *World) Block(pos world.Vec3i) (world.Block, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.blocks[pos]
	return b, ok
}

func (w *World) ContainerItems(pos world.Vec3i) []world.Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Item(nil), w.containers[pos]...)
}

func (w *World) Equipped(slot world.Slot) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.equipped[slot]
}

func (w *World) Count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, it := range w.inv {
		if it.Name == name {
			n += it.Count
		}
	}
	return n
}

// --- world.World ---

func (w *World) Self(ctx context.Context) (world.Self, error) {
	if err := w.check(ctx); err != nil {
		return world.Self{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.self, nil
}

func (w *World) BlockAt(ctx context.Context, pos world.Vec3i) (world.Block, error) {
	if err := w.check(ctx); err != nil {
		return world.Block{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.blocks[pos]; ok {
		return b, nil
	}
	return world.Block{Pos: pos, Name: "air"}, nil
}

func (w *World) MoveTo(ctx context.Context, goal world.Goal) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	blocked := w.unreachable[goal.Pos.Block()]
	delay := w.cfg.MoveDelay
	w.mu.Unlock()
	if blocked {
		return world.ErrNoPath
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.self.Pos
	if !goal.Reached(cur) {
		// Stop on the near edge of the goal sphere.
		d := cur.Sub(goal.Pos)
		if l := d.Len(); l > 0 {
			cur = goal.Pos.Add(d.Scale(goal.Radius / l))
		} else {
			cur = goal.Pos
		}
		w.self.Pos = cur
	}
	w.ops = append(w.ops, Op{Kind: "move", Pos: goal.Pos.Block()})
	return nil
}

func (w *World) PerformAction(ctx context.Context, kind world.ActionKind, target world.Target) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.failNext[kind]; n > 0 {
		w.failNext[kind] = n - 1
		return fmt.Errorf("%s: %w", kind, world.ErrRejected)
	}

	switch kind {
	case world.ActionDig:
		if target.Block == nil {
			return fmt.Errorf("dig without block: %w", world.ErrRejected)
		}
		pos := *target.Block
		b, ok := w.blocks[pos]
		if !ok || b.IsAir() {
			return fmt.Errorf("dig %s: %w", pos, world.ErrGone)
		}
		if !b.Diggable {
			return fmt.Errorf("dig %s: %w", pos, world.ErrRejected)
		}
		if w.self.Pos.DistanceTo(pos.Center()) > reachBlocks {
			return fmt.Errorf("dig %s out of reach: %w", pos, world.ErrRejected)
		}
		delete(w.blocks, pos)
		delete(w.containers, pos)
		yield, ok := w.dropTable[b.Name]
		if !ok {
			yield = drops(b)
		}
		for _, d := range yield {
			w.giveLocked(d.Name, d.Count)
		}
		w.ops = append(w.ops, Op{Kind: "dig", Pos: pos, Item: b.Name})
		return nil

	case world.ActionPlace:
		if target.Block == nil {
			return fmt.Errorf("place without block: %w", world.ErrRejected)
		}
		soil := *target.Block
		if _, ok := w.blocks[soil]; !ok {
			return fmt.Errorf("place on %s: %w", soil, world.ErrGone)
		}
		held := w.equipped[world.SlotHand]
		if held == "" || !w.takeLocked(held, 1) {
			return fmt.Errorf("place: nothing in hand: %w", world.ErrRejected)
		}
		above := soil.Add(world.Vec3i{Y: 1})
		if b, ok := w.blocks[above]; ok && !b.IsAir() {
			return fmt.Errorf("place %s occupied: %w", above, world.ErrRejected)
		}
		w.blocks[above] = world.Block{Pos: above, Name: placedBlock(held), Diggable: true}
		w.ops = append(w.ops, Op{Kind: "place", Pos: above, Item: held})
		return nil

	case world.ActionAttack:
		e, ok := w.entities[target.EntityID]
		if !ok {
			return fmt.Errorf("attack %s: %w", target.EntityID, world.ErrGone)
		}
		if w.self.Pos.DistanceTo(e.Pos) > attackReach {
			return fmt.Errorf("attack %s out of reach: %w", e.ID, world.ErrRejected)
		}
		w.mobHits[e.ID]++
		if w.mobHits[e.ID] >= mobHits {
			delete(w.entities, e.ID)
		}
		w.ops = append(w.ops, Op{Kind: "attack", Entity: e.ID, Item: w.equipped[world.SlotHand]})
		return nil

	case world.ActionJump:
		w.ops = append(w.ops, Op{Kind: "jump"})
		return nil

	case world.ActionRespawn:
		if w.self.Health > 0 {
			return fmt.Errorf("respawn while alive: %w", world.ErrRejected)
		}
		w.self.Health = w.cfg.Health
		w.self.Pos = w.cfg.Spawn
		w.ops = append(w.ops, Op{Kind: "respawn"})
		return nil
	}
	return fmt.Errorf("unknown action %q: %w", kind, world.ErrRejected)
}

func (w *World) QueryBlocks(ctx context.Context, match world.BlockPredicate, radius int) ([]world.Block, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []world.Block{}
	for _, b := range w.blocks {
		if w.self.Pos.DistanceTo(b.Pos.Center()) > float64(radius) {
			continue
		}
		if match == nil || match(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessPos(out[i].Pos, out[j].Pos) })
	return out, nil
}

func (w *World) QueryEntities(ctx context.Context, match world.EntityPredicate) ([]world.Entity, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []world.Entity{}
	for _, e := range w.entities {
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (w *World) Inventory(ctx context.Context) ([]world.Item, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []world.Item{}
	for _, it := range w.inv {
		if it.Count > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}

func (w *World) Equip(ctx context.Context, item world.Item, slot world.Slot) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	found := false
	for _, it := range w.inv {
		if it.Name == item.Name && it.Count > 0 {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("equip %s: %w", item.Name, world.ErrGone)
	}
	w.equipped[slot] = item.Name
	w.ops = append(w.ops, Op{Kind: "equip", Item: item.Name})
	return nil
}

func (w *World) OpenContainer(ctx context.Context, pos world.Vec3i) (world.Container, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.blocks[pos]
	if !ok || !b.Container {
		return nil, fmt.Errorf("open %s: %w", pos, world.ErrGone)
	}
	if n := w.failOpen[pos]; n > 0 {
		w.failOpen[pos] = n - 1
		return nil, fmt.Errorf("open %s: %w", pos, world.ErrRejected)
	}
	if w.self.Pos.DistanceTo(pos.Center()) > reachBlocks {
		return nil, fmt.Errorf("open %s out of reach: %w", pos, world.ErrRejected)
	}
	w.ops = append(w.ops, Op{Kind: "open", Pos: pos})
	return &container{w: w, pos: pos}, nil
}

func (w *World) Chat(ctx context.Context, text string) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.said = append(w.said, text)
	return nil
}

func (w *World) Events() <-chan world.Event { return w.events }

func (w *World) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return world.ErrDisconnected
	}
	return nil
}

func (w *World) emit(ev world.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
	}
}

func (w *World) giveLocked(name string, count int) int {
	for i := range w.inv {
		if count == 0 {
			return 0
		}
		if w.inv[i].Name == name && w.inv[i].Count > 0 && w.inv[i].Count < stackSize {
			n := min(stackSize-w.inv[i].Count, count)
			w.inv[i].Count += n
			count -= n
		}
	}
	for i := range w.inv {
		if count == 0 {
			return 0
		}
		if w.inv[i].Count == 0 {
			n := min(stackSize, count)
			w.inv[i] = world.Item{Slot: i, Name: name, Count: n}
			count -= n
		}
	}
	return count
}

func (w *World) takeLocked(name string, count int) bool {
	for i := range w.inv {
		if w.inv[i].Name == name && w.inv[i].Count >= count {
			w.inv[i].Count -= count
			if w.inv[i].Count == 0 {
				w.inv[i] = world.Item{Slot: i}
				if w.equippedOnlyLocked(name) {
					delete(w.equipped, world.SlotHand)
				}
			}
			return true
		}
	}
	return false
}

func (w *World) equippedOnlyLocked(name string) bool {
	if w.equipped[world.SlotHand] != name {
		return false
	}
	for _, it := range w.inv {
		if it.Name == name && it.Count > 0 {
			return false
		}
	}
	return true
}

type container struct {
	w   *World
	pos world.Vec3i
}

func (c *container) Items(ctx context.Context) ([]world.Item, error) {
	if err := c.w.check(ctx); err != nil {
		return nil, err
	}
	return c.w.ContainerItems(c.pos), nil
}

func (c *container) Deposit(ctx context.Context, item world.Item) error {
	if err := c.w.check(ctx); err != nil {
		return err
	}
	w := c.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.containers[c.pos]; !ok {
		if b, exists := w.blocks[c.pos]; !exists || !b.Container {
			return fmt.Errorf("deposit into %s: %w", c.pos, world.ErrGone)
		}
	}
	if w.failDeposit[item.Name] {
		return fmt.Errorf("deposit %s: %w", item.Name, world.ErrRejected)
	}
	if item.Slot < 0 || item.Slot >= len(w.inv) || w.inv[item.Slot].Name != item.Name || w.inv[item.Slot].Count == 0 {
		return fmt.Errorf("deposit %s: %w", item.Name, world.ErrGone)
	}
	stack := w.inv[item.Slot]
	w.inv[item.Slot] = world.Item{Slot: item.Slot}
	w.containers[c.pos] = append(w.containers[c.pos], world.Item{Name: stack.Name, Count: stack.Count})
	w.ops = append(w.ops, Op{Kind: "deposit", Pos: c.pos, Item: stack.Name})
	return nil
}

func (c *container) Withdraw(ctx context.Context, name string, count int) (world.Item, error) {
	if err := c.w.check(ctx); err != nil {
		return world.Item{}, err
	}
	w := c.w
	w.mu.Lock()
	defer w.mu.Unlock()
	items := w.containers[c.pos]
	for i := range items {
		if items[i].Name != name || items[i].Count == 0 {
			continue
		}
		n := min(count, items[i].Count)
		if left := w.giveLocked(name, n); left > 0 {
			n -= left
		}
		if n == 0 {
			return world.Item{}, fmt.Errorf("withdraw %s: inventory full: %w", name, world.ErrRejected)
		}
		items[i].Count -= n
		if items[i].Count == 0 {
			items = append(items[:i], items[i+1:]...)
		}
		w.containers[c.pos] = items
		w.ops = append(w.ops, Op{Kind: "withdraw", Pos: c.pos, Item: name})
		return world.Item{Name: name, Count: n}, nil
	}
	return world.Item{}, fmt.Errorf("withdraw %s: %w", name, world.ErrGone)
}

func (c *container) Close() error { return nil }

func lessPos(a, b world.Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
