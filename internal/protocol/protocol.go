// Package protocol defines the wire formats: commands read from the command
// source, events written back to it, and the bridge RPC spoken between the
// bot and a world server.
package protocol

// Version is sent by bridge clients when they connect; servers reject other
// versions.
const Version = "1.0"

// Bridge message types (server -> client).
const (
	TypeResponse = "response"
	TypeEvent    = "event"
)
