package dispatch

import (
	"context"
	"errors"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/behavior"
	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/resources"
	"craftbot.ai/internal/tasks"
)

// errorCode maps a run or session error onto its wire code.
func errorCode(err error) string {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrTimeout
	case errors.Is(err, arbiter.ErrBusy):
		return protocol.ErrBusy
	case errors.Is(err, behavior.ErrAlreadyActive):
		return protocol.ErrConflict
	case errors.Is(err, tasks.ErrSpanTooLarge):
		return protocol.ErrProtoBadRequest
	case errors.Is(err, tasks.ErrTargetNotFound):
		return protocol.ErrInvalidTarget
	case errors.Is(err, tasks.ErrInventoryFull),
		errors.Is(err, resources.ErrNoContainer),
		errors.Is(err, resources.ErrNoHome),
		errors.Is(err, resources.ErrHomeMissing),
		errors.Is(err, resources.ErrUnavailable):
		return protocol.ErrNoResource
	}
	return protocol.WorldCode(err)
}
