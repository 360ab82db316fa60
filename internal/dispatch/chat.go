package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/world"
)

// HandleEvent reacts to a world event: it is forwarded to the command source,
// chat lines may carry commands, and a lost connection stops everything.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev world.Event) {
	switch ev.Kind {
	case world.EventSpawn:
		msg := ev.Message
		if msg == "" {
			msg = "Bot spawned!"
		}
		e := protocol.SpawnEvent()
		e.Message = msg
		d.send(e)
	case world.EventChat:
		d.send(protocol.ChatEvent(ev.User, ev.Message))
		d.HandleChat(ctx, ev.User, ev.Message)
	case world.EventError:
		d.send(protocol.ErrorEvent("", protocol.ErrInternal, ev.Message))
	case world.EventEnd:
		stopped := d.reg.StopAll()
		n := d.cancelRuns()
		d.logf("[dispatch] world ended (%s): stopped sessions=%v runs=%d", ev.Message, stopped, n)
		msg := ev.Message
		if msg == "" {
			msg = "Bot disconnected"
		}
		d.send(protocol.EndEvent(msg))
	}
}

// HandleChat runs a chat line as a command when it starts with the command
// prefix and comes from an allowed player.
func (d *Dispatcher) HandleChat(ctx context.Context, user, text string) {
	if user == "" || user == d.self || !d.allowed(user) {
		return
	}
	line, ok := chatCommand(d.tu.Chat.Prefix, user, text)
	if !ok {
		return
	}
	d.handle(ctx, origin{user: user}, line)
}

func (d *Dispatcher) allowed(user string) bool {
	return slices.Contains(d.tu.Chat.AllowedUsers, "*") || slices.Contains(d.tu.Chat.AllowedUsers, user)
}

// chatCommand turns "!stripmine 0 0 0 2 0 2 ores" into a command line. Word
// arguments that do not fit their command are passed through as-is and left
// for validation to reject.
func chatCommand(prefix, user, text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return nil, false
	}
	name, words := strings.ToLower(fields[0]), fields[1:]

	args := map[string]any{}
	switch name {
	case protocol.CmdChat:
		if len(words) > 0 {
			args["message"] = strings.Join(words, " ")
		}
	case protocol.CmdCome, protocol.CmdFollow:
		if len(words) > 0 {
			args["player"] = words[0]
		} else {
			args["player"] = user
		}
	case protocol.CmdDeforest, protocol.CmdFarm:
		if len(words) > 0 {
			args["radius"] = number(words[0])
		}
	case protocol.CmdStripMine:
		if len(words) >= 6 {
			args["start"] = map[string]any{"x": number(words[0]), "y": number(words[1]), "z": number(words[2])}
			args["end"] = map[string]any{"x": number(words[3]), "y": number(words[4]), "z": number(words[5])}
		}
		if len(words) >= 7 {
			args["onlyOres"] = truthy(words[6])
		}
	case protocol.CmdAuto:
		if len(words) > 0 {
			switch strings.ToLower(words[0]) {
			case "on", "true", "start":
				args["state"] = true
			case "off", "false", "stop":
				args["state"] = false
			default:
				args["state"] = words[0]
			}
		}
	}

	env := map[string]any{"command": name}
	if len(args) > 0 {
		env["args"] = args
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, false
	}
	return b, true
}

func number(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

func truthy(s string) any {
	switch strings.ToLower(s) {
	case "ores", "onlyores", "true", "yes", "1":
		return true
	case "all", "false", "no", "0":
		return false
	}
	return s
}

// usage is the chat hint sent when a chat command does not validate.
func usage(prefix, command string) string {
	name := strings.ToLower(command)
	switch name {
	case protocol.CmdStripMine:
		return fmt.Sprintf("Usage: %sstripmine x1 y1 z1 x2 y2 z2 [onlyOres]", prefix)
	case protocol.CmdFollow, protocol.CmdCome:
		return fmt.Sprintf("Usage: %s%s [player]", prefix, name)
	case protocol.CmdAuto:
		return fmt.Sprintf("Usage: %sauto <on/off>", prefix)
	case protocol.CmdDeforest, protocol.CmdFarm:
		return fmt.Sprintf("Usage: %s%s [radius]", prefix, name)
	case protocol.CmdChat:
		return fmt.Sprintf("Usage: %schat <message>", prefix)
	}
	return "Invalid arguments for " + command
}
