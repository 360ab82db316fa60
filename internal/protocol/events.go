package protocol

import "encoding/json"

// Outbound event names.
const (
	EventSpawn  = "spawn"
	EventChat   = "chat"
	EventError  = "error"
	EventEnd    = "end"
	EventReport = "report"
)

// Event is one outbound line to the command source.
type Event struct {
	Event string `json:"event"`
	// ID echoes the request id of the command this event answers.
	ID      string `json:"id,omitempty"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Command string `json:"command,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func SpawnEvent() Event { return Event{Event: EventSpawn} }

func ChatEvent(user, message string) Event {
	return Event{Event: EventChat, User: user, Message: message}
}

func ErrorEvent(id, code, message string) Event {
	return Event{Event: EventError, ID: id, Code: code, Message: message}
}

func EndEvent(message string) Event { return Event{Event: EventEnd, Message: message} }

// ReportEvent carries the outcome of one command.
func ReportEvent(id, command string, ok bool, message string) Event {
	return Event{Event: EventReport, ID: id, Command: command, OK: &ok, Message: message}
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }
