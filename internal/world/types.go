package world

import (
	"fmt"
	"math"
	"strings"
)

// Vec3i is a block coordinate.
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) Below() Vec3i { return Vec3i{X: v.X, Y: v.Y - 1, Z: v.Z} }

// Center returns the middle of the block, which is what entity distances are measured against.
func (v Vec3i) Center() Vec3 {
	return Vec3{X: float64(v.X) + 0.5, Y: float64(v.Y) + 0.5, Z: float64(v.Z) + 0.5}
}

func (v Vec3i) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

// Vec3 is an entity coordinate.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }

func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

func (v Vec3) DistanceTo(o Vec3) float64 { return v.Sub(o).Len() }

// Block returns the block containing v.
func (v Vec3) Block() Vec3i {
	return Vec3i{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y)), Z: int(math.Floor(v.Z))}
}

func (v Vec3) String() string { return fmt.Sprintf("%.1f,%.1f,%.1f", v.X, v.Y, v.Z) }

// Goal is a proximity navigation target.
type Goal struct {
	Pos    Vec3    `json:"pos"`
	Radius float64 `json:"radius"`
}

func GoalNear(p Vec3i, radius float64) Goal { return Goal{Pos: p.Center(), Radius: radius} }

// Reached reports whether pos satisfies the goal. Positions are measured from
// the feet, so one block of slack is allowed on top of the radius.
func (g Goal) Reached(pos Vec3) bool {
	return pos.DistanceTo(g.Pos) <= g.Radius+1
}

type Block struct {
	Pos       Vec3i  `json:"pos"`
	Name      string `json:"name"`
	Age       int    `json:"age,omitempty"`
	Diggable  bool   `json:"diggable"`
	Container bool   `json:"container,omitempty"`
}

func (b Block) IsAir() bool { return b.Name == "" || b.Name == "air" }

type EntityKind string

const (
	EntityPlayer EntityKind = "player"
	EntityMob    EntityKind = "mob"
	EntityObject EntityKind = "object"
)

type Entity struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
	// Name is the username for players and the mob type otherwise.
	Name string `json:"name"`
	Pos  Vec3   `json:"pos"`
}

type Item struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Tokens splits an item or block name into its underscore separated words.
func Tokens(name string) []string {
	name = strings.ToLower(strings.TrimPrefix(name, "minecraft:"))
	return strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == ' ' })
}

// HasToken reports whether name contains tok as a whole word.
func HasToken(name, tok string) bool {
	for _, t := range Tokens(name) {
		if t == tok {
			return true
		}
	}
	return false
}

type Slot string

const (
	SlotHand  Slot = "hand"
	SlotHead  Slot = "head"
	SlotTorso Slot = "torso"
	SlotLegs  Slot = "legs"
	SlotFeet  Slot = "feet"
)

var ArmorSlots = []Slot{SlotHead, SlotTorso, SlotLegs, SlotFeet}

type ActionKind string

const (
	ActionDig     ActionKind = "dig"
	ActionPlace   ActionKind = "place"
	ActionAttack  ActionKind = "attack"
	ActionJump    ActionKind = "jump"
	ActionRespawn ActionKind = "respawn"
)

// Target addresses a world action. Dig and place use Block, attack uses EntityID.
type Target struct {
	Block    *Vec3i `json:"block,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

func AtBlock(p Vec3i) Target { return Target{Block: &p} }

func AtEntity(id string) Target { return Target{EntityID: id} }

type Self struct {
	Name           string  `json:"name"`
	Pos            Vec3    `json:"pos"`
	Health         float64 `json:"health"`
	Food           int     `json:"food"`
	InventorySlots int     `json:"inventory_slots"`
}

type EventKind string

const (
	EventSpawn EventKind = "spawn"
	EventChat  EventKind = "chat"
	EventError EventKind = "error"
	EventEnd   EventKind = "end"
)

// Event is pushed by the world outside of any request.
type Event struct {
	Kind    EventKind `json:"kind"`
	User    string    `json:"user,omitempty"`
	Message string    `json:"message,omitempty"`
}
