package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"craftbot.ai/internal/world"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://craftbot.ai/schemas/"

// Command names as they appear on the wire.
const (
	CmdChat      = "chat"
	CmdCome      = "come"
	CmdFollow    = "follow"
	CmdStop      = "stop"
	CmdJump      = "jump"
	CmdChest     = "chest"
	CmdSetHome   = "sethome"
	CmdHome      = "home"
	CmdDeforest  = "deforest"
	CmdFarm      = "farm"
	CmdStripMine = "stripmine"
	CmdEquip     = "equip"
	CmdDefend    = "defend"
	CmdAuto      = "auto"
	CmdHelp      = "help"
	CmdRespawn   = "respawn"
	CmdStatus    = "status"
)

var (
	// ErrMalformed covers unparsable lines and argument shapes that fail
	// validation.
	ErrMalformed = errors.New("malformed command")
)

// UnknownCommandError is returned for a well-formed envelope naming a
// command we do not have.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string { return "unknown command: " + e.Name }

// Envelope is one inbound command line.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Command is the tagged union of everything the dispatcher accepts.
type Command interface {
	Name() string
}

type ChatCmd struct {
	Message string `json:"message"`
}

// ComeCmd targets a player by name, or a fixed position.
type ComeCmd struct {
	Player string       `json:"player,omitempty"`
	Pos    *world.Vec3i `json:"position,omitempty"`
}

type FollowCmd struct {
	Player string `json:"player"`
}

// DeforestCmd and FarmCmd take an optional search radius; zero means the
// configured default.
type DeforestCmd struct {
	Radius int `json:"radius,omitempty"`
}

type FarmCmd struct {
	Radius int `json:"radius,omitempty"`
}

type StripMineCmd struct {
	Start    world.Vec3i `json:"start"`
	End      world.Vec3i `json:"end"`
	OnlyOres bool        `json:"onlyOres,omitempty"`
}

// AutoCmd sets the auto loop on or off. A nil State toggles it.
type AutoCmd struct {
	State *bool `json:"state,omitempty"`
}

type (
	StopCmd    struct{}
	JumpCmd    struct{}
	ChestCmd   struct{}
	SetHomeCmd struct{}
	HomeCmd    struct{}
	EquipCmd   struct{}
	DefendCmd  struct{}
	HelpCmd    struct{}
	RespawnCmd struct{}
	StatusCmd  struct{}
)

func (ChatCmd) Name() string      { return CmdChat }
func (ComeCmd) Name() string      { return CmdCome }
func (FollowCmd) Name() string    { return CmdFollow }
func (StopCmd) Name() string      { return CmdStop }
func (JumpCmd) Name() string      { return CmdJump }
func (ChestCmd) Name() string     { return CmdChest }
func (SetHomeCmd) Name() string   { return CmdSetHome }
func (HomeCmd) Name() string      { return CmdHome }
func (DeforestCmd) Name() string  { return CmdDeforest }
func (FarmCmd) Name() string      { return CmdFarm }
func (StripMineCmd) Name() string { return CmdStripMine }
func (EquipCmd) Name() string     { return CmdEquip }
func (DefendCmd) Name() string    { return CmdDefend }
func (AutoCmd) Name() string      { return CmdAuto }
func (HelpCmd) Name() string      { return CmdHelp }
func (RespawnCmd) Name() string   { return CmdRespawn }
func (StatusCmd) Name() string    { return CmdStatus }

type commandSpec struct {
	schema string
	decode func(json.RawMessage) (Command, error)
	help   string
}

var commands = map[string]commandSpec{
	CmdChat:      {"chat", decodeInto[ChatCmd], "chat <message>: say something"},
	CmdCome:      {"come", decodeInto[ComeCmd], "come [player]: walk to a player"},
	CmdFollow:    {"follow", decodeInto[FollowCmd], "follow <player>: keep following a player"},
	CmdStop:      {"noargs", decodeInto[StopCmd], "stop: stop everything"},
	CmdJump:      {"noargs", decodeInto[JumpCmd], "jump: jump once"},
	CmdChest:     {"noargs", decodeInto[ChestCmd], "chest: dump the inventory into a nearby chest"},
	CmdSetHome:   {"noargs", decodeInto[SetHomeCmd], "sethome: use the chest underfoot or nearby as home"},
	CmdHome:      {"noargs", decodeInto[HomeCmd], "home: go home and deposit"},
	CmdDeforest:  {"radius", decodeInto[DeforestCmd], "deforest [radius]: chop nearby trees"},
	CmdFarm:      {"radius", decodeInto[FarmCmd], "farm [radius]: harvest and replant crops"},
	CmdStripMine: {"stripmine", decodeInto[StripMineCmd], "stripmine x1 y1 z1 x2 y2 z2 [ores]: mine a box"},
	CmdEquip:     {"noargs", decodeInto[EquipCmd], "equip: put on the best armor"},
	CmdDefend:    {"noargs", decodeInto[DefendCmd], "defend: fight hostile mobs"},
	CmdAuto:      {"auto", decodeInto[AutoCmd], "auto [on|off]: loop chopping, farming and mining"},
	CmdHelp:      {"noargs", decodeInto[HelpCmd], "help: list commands"},
	CmdRespawn:   {"noargs", decodeInto[RespawnCmd], "respawn: respawn after dying"},
	CmdStatus:    {"noargs", decodeInto[StatusCmd], "status: show what is running"},
}

func decodeInto[T Command](raw json.RawMessage) (Command, error) {
	var c T
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// Help lists one line per command, sorted by name.
func Help() []string {
	out := make([]string, 0, len(commands))
	for _, name := range Names() {
		out = append(out, commands[name].help)
	}
	return out
}

// Names returns the known command names in order.
func Names() []string {
	out := make([]string, 0, len(commands))
	for name := range commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func IsKnownCommand(name string) bool {
	_, ok := commands[name]
	return ok
}

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[string]*jsonschema.Schema
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		entries, err := fs.ReadDir(schemaFS, "schemas")
		if err != nil {
			schemaErr = err
			return
		}
		for _, e := range entries {
			b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemaErr = err
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
				schemaErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}
		out := map[string]*jsonschema.Schema{}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".schema.json")
			s, err := c.Compile(schemaBase + e.Name())
			if err != nil {
				schemaErr = fmt.Errorf("compile %s: %w", e.Name(), err)
				return
			}
			out[name] = s
		}
		schemas = out
	})
	return schemas, schemaErr
}

// ParseCommand validates one inbound line and decodes it into its command
// variant. The returned envelope is filled as far as parsing got, so callers
// can echo the request id on errors.
func ParseCommand(line []byte) (Envelope, Command, error) {
	var env Envelope
	ss, err := loadSchemas()
	if err != nil {
		return env, nil, err
	}
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ss["envelope"].Validate(doc); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	spec, ok := commands[strings.ToLower(env.Command)]
	if !ok {
		return env, nil, &UnknownCommandError{Name: env.Command}
	}
	var args any = map[string]any{}
	if len(env.Args) > 0 {
		if err := json.Unmarshal(env.Args, &args); err != nil {
			return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := ss[spec.schema].Validate(args); err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Command, err)
	}
	cmd, err := spec.decode(env.Args)
	if err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Command, err)
	}
	return env, cmd, nil
}

// Encode builds the wire line for cmd.
func Encode(id string, cmd Command) ([]byte, error) {
	env := Envelope{ID: id, Command: cmd.Name()}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if string(b) != "{}" {
		env.Args = b
	}
	return json.Marshal(env)
}
