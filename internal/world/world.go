// Package world defines the interface the bot uses to observe and act on the
// game world. Pathfinding, digging and container handling live behind it.
package world

import (
	"context"
	"errors"
)

var (
	// ErrNoPath is returned by MoveTo when the goal cannot be reached.
	ErrNoPath = errors.New("world: no path to goal")
	// ErrGone means the addressed block, entity or container no longer exists.
	ErrGone = errors.New("world: target gone")
	// ErrRejected means the world refused the action (range, timing, permissions).
	ErrRejected = errors.New("world: action rejected")
	// ErrDisconnected is fatal: the connection to the world is lost.
	ErrDisconnected = errors.New("world: disconnected")
)

type BlockPredicate func(Block) bool

type EntityPredicate func(Entity) bool

type World interface {
	Self(ctx context.Context) (Self, error)
	BlockAt(ctx context.Context, pos Vec3i) (Block, error)

	// MoveTo blocks until the goal is reached (nil), found unreachable
	// (ErrNoPath) or ctx is done.
	MoveTo(ctx context.Context, goal Goal) error
	PerformAction(ctx context.Context, kind ActionKind, target Target) error

	QueryBlocks(ctx context.Context, match BlockPredicate, radius int) ([]Block, error)
	QueryEntities(ctx context.Context, match EntityPredicate) ([]Entity, error)

	Inventory(ctx context.Context) ([]Item, error)
	Equip(ctx context.Context, item Item, slot Slot) error

	OpenContainer(ctx context.Context, pos Vec3i) (Container, error)

	Chat(ctx context.Context, text string) error
	Events() <-chan Event
}

// Container is an opened chest. It must be closed after use.
type Container interface {
	Items(ctx context.Context) ([]Item, error)
	Deposit(ctx context.Context, item Item) error
	Withdraw(ctx context.Context, name string, count int) (Item, error)
	Close() error
}

// IsTransient reports whether err is a recoverable world-state error
// (target vanished, action rejected, unreachable).
func IsTransient(err error) bool {
	return errors.Is(err, ErrGone) || errors.Is(err, ErrRejected) || errors.Is(err, ErrNoPath)
}

// Player finds a player entity by username.
func Player(ctx context.Context, w World, name string) (Entity, bool, error) {
	ents, err := w.QueryEntities(ctx, func(e Entity) bool {
		return e.Kind == EntityPlayer && e.Name == name
	})
	if err != nil {
		return Entity{}, false, err
	}
	if len(ents) == 0 {
		return Entity{}, false, nil
	}
	return ents[0], true, nil
}
