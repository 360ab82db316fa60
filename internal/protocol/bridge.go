package protocol

import "craftbot.ai/internal/world"

// Bridge RPC operations (client -> server).
const (
	OpSelf              = "self"
	OpBlockAt           = "block_at"
	OpMoveTo            = "move_to"
	OpAction            = "action"
	OpQueryBlocks       = "query_blocks"
	OpQueryEntities     = "query_entities"
	OpInventory         = "inventory"
	OpEquip             = "equip"
	OpOpenContainer     = "open_container"
	OpContainerItems    = "container_items"
	OpContainerDeposit  = "container_deposit"
	OpContainerWithdraw = "container_withdraw"
	OpContainerClose    = "container_close"
	OpChat              = "chat"
	// OpCancel aborts the in-flight request named by Request.Name. The
	// cancelled request answers with an error of its own.
	OpCancel = "cancel"
)

// Request is one bridge call. Only the fields the op needs are set.
//
// Block and entity queries carry no predicate: the server returns every
// non-air block (or every entity) in range and the client filters locally.
type Request struct {
	ID     string           `json:"id"`
	Op     string           `json:"op"`
	Pos    *world.Vec3i     `json:"pos,omitempty"`
	Goal   *world.Goal      `json:"goal,omitempty"`
	Action world.ActionKind `json:"action,omitempty"`
	Target *world.Target    `json:"target,omitempty"`
	Radius int              `json:"radius,omitempty"`
	Item   *world.Item      `json:"item,omitempty"`
	Slot   world.Slot       `json:"slot,omitempty"`
	Handle string           `json:"handle,omitempty"`
	Name   string           `json:"name,omitempty"`
	Count  int              `json:"count,omitempty"`
	Text   string           `json:"text,omitempty"`
}

// Message is everything the server sends: responses to requests (Type
// "response") and pushed world events (Type "event").
type Message struct {
	Type  string     `json:"type"`
	ID    string     `json:"id,omitempty"`
	OK    bool       `json:"ok,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`

	Self     *world.Self    `json:"self,omitempty"`
	Block    *world.Block   `json:"block,omitempty"`
	Blocks   []world.Block  `json:"blocks,omitempty"`
	Entities []world.Entity `json:"entities,omitempty"`
	Items    []world.Item   `json:"items,omitempty"`
	Item     *world.Item    `json:"item,omitempty"`
	Handle   string         `json:"handle,omitempty"`

	Event *world.Event `json:"event,omitempty"`
}

func Response(id string, err error) Message {
	m := Message{Type: TypeResponse, ID: id, OK: err == nil}
	if err != nil {
		m.Error = &ErrorInfo{Code: WorldCode(err), Message: err.Error()}
	}
	return m
}

func Push(ev world.Event) Message { return Message{Type: TypeEvent, Event: &ev} }
