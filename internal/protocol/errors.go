package protocol

import (
	"errors"
	"fmt"

	"craftbot.ai/internal/world"
)

const (
	// Command and transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownCommand  = "E_UNKNOWN_COMMAND"

	// Behavior and task layer.
	ErrBusy          = "E_BUSY"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrConflict      = "E_CONFLICT"

	// World layer.
	ErrNotFound     = "E_NOT_FOUND"
	ErrRejected     = "E_REJECTED"
	ErrNoPath       = "E_NO_PATH"
	ErrDisconnected = "E_DISCONNECTED"
	ErrTimeout      = "E_TIMEOUT"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownCommand:  {},
	ErrBusy:            {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrConflict:        {},
	ErrNotFound:        {},
	ErrRejected:        {},
	ErrNoPath:          {},
	ErrDisconnected:    {},
	ErrTimeout:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorInfo is the error half of a bridge response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorldCode maps a world error onto its bridge code.
func WorldCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, world.ErrGone):
		return ErrNotFound
	case errors.Is(err, world.ErrRejected):
		return ErrRejected
	case errors.Is(err, world.ErrNoPath):
		return ErrNoPath
	case errors.Is(err, world.ErrDisconnected):
		return ErrDisconnected
	}
	return ErrInternal
}

// WorldError rebuilds a world error from a bridge error so callers can keep
// using errors.Is against the world sentinels.
func WorldError(e *ErrorInfo) error {
	if e == nil {
		return nil
	}
	var base error
	switch e.Code {
	case ErrNotFound:
		base = world.ErrGone
	case ErrRejected:
		base = world.ErrRejected
	case ErrNoPath:
		base = world.ErrNoPath
	case ErrDisconnected:
		base = world.ErrDisconnected
	default:
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return fmt.Errorf("%s: %w", e.Message, base)
}
