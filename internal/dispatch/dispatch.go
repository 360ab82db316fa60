// Package dispatch turns inbound commands into behavior sessions and task
// runs, and reports every outcome back to the command source and in-world
// chat.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/behavior"
	"craftbot.ai/internal/persistence/indexdb"
	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/tasks"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
)

// RunLog is where finished runs are recorded. *indexdb.SQLiteIndex
// implements it.
type RunLog interface {
	RecordRun(indexdb.Run)
	RecentRuns(ctx context.Context, limit int) ([]indexdb.Run, error)
}

type Options struct {
	World    world.World
	Arbiter  *arbiter.Arbiter
	Registry *behavior.Registry
	Runner   *tasks.Runner
	Tuning   tuning.Tuning
	Logger   *log.Logger

	// Emit receives every outbound event.
	Emit func(protocol.Event)
	// Runs is optional.
	Runs RunLog
	// Username is the bot's own name; its chat lines are never parsed as
	// commands.
	Username string
	// PoolSize bounds concurrent one-shot runs.
	PoolSize int
}

// origin is who asked for a command.
type origin struct {
	id   string
	user string // set for in-world chat commands
}

func (o origin) source() string {
	if o.user != "" {
		return "chat:" + o.user
	}
	return "stdin"
}

type run struct {
	id      string
	command string
	holder  string
	started time.Time
	cancel  context.CancelFunc
}

type Dispatcher struct {
	w      world.World
	arb    *arbiter.Arbiter
	reg    *behavior.Registry
	runner *tasks.Runner
	tu     tuning.Tuning
	log    *log.Logger
	emit   func(protocol.Event)
	runs   RunLog
	self   string
	pool   *ants.Pool
	now    func() time.Time

	base context.Context

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

func New(ctx context.Context, o Options) (*Dispatcher, error) {
	size := o.PoolSize
	if size <= 0 {
		size = 4
	}
	d := &Dispatcher{
		w:       o.World,
		arb:     o.Arbiter,
		reg:     o.Registry,
		runner:  o.Runner,
		tu:      o.Tuning,
		log:     o.Logger,
		emit:    o.Emit,
		runs:    o.Runs,
		self:    o.Username,
		now:     time.Now,
		base:    ctx,
		running: map[string]*run{},
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) { d.logf("[dispatch] run panic: %v", p) }),
	)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Close cancels running tasks and waits for them to report.
func (d *Dispatcher) Close() {
	d.cancelRuns()
	d.wg.Wait()
	d.pool.Release()
}

// Wait blocks until every submitted run has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Handle processes one inbound command line.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) {
	d.handle(ctx, origin{}, line)
}

func (d *Dispatcher) handle(ctx context.Context, o origin, line []byte) {
	env, cmd, err := protocol.ParseCommand(line)
	o.id = env.ID
	if err != nil {
		var unknown *protocol.UnknownCommandError
		switch {
		case errors.As(err, &unknown):
			d.reportCode(ctx, o, unknown.Name, false, "Unknown command: "+unknown.Name, protocol.ErrUnknownCommand, "")
		case errors.Is(err, protocol.ErrMalformed):
			d.send(protocol.ErrorEvent(env.ID, protocol.ErrProtoBadRequest, err.Error()))
			if o.user != "" {
				d.say(ctx, usage(d.tu.Chat.Prefix, env.Command))
			}
		default:
			d.logf("[dispatch] parse: %v", err)
			d.send(protocol.ErrorEvent(env.ID, protocol.ErrInternal, err.Error()))
		}
		return
	}
	d.exec(ctx, o, cmd)
}

// exec runs one parsed command. Session commands and quick queries answer
// inline; chores are submitted to the run pool and answer when they finish.
func (d *Dispatcher) exec(ctx context.Context, o origin, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.ChatCmd:
		err := d.w.Chat(ctx, c.Message)
		d.reportQuiet(o, c.Name(), err)

	case protocol.ComeCmd:
		t := tasks.ComeTarget{Player: c.Player, Pos: c.Pos}
		if t.Player == "" && t.Pos == nil {
			t.Player = o.user
		}
		if t.Pos == nil && t.Player != "" {
			d.say(ctx, fmt.Sprintf("Coming to you, %s!", t.Player))
		}
		d.submit(ctx, o, c.Name(), func(ctx context.Context, act *arbiter.Actuator) tasks.Result {
			return d.runner.Come(ctx, act, t)
		})

	case protocol.FollowCmd:
		_, err := d.reg.Start(ctx, behavior.KindFollow, behavior.Params{Target: c.Player})
		switch {
		case err == nil:
			d.report(ctx, o, c.Name(), true, fmt.Sprintf("Following %s...", c.Player))
		case errors.Is(err, tasks.ErrTargetNotFound):
			d.reportCode(ctx, o, c.Name(), false, fmt.Sprintf("Can't find %s", c.Player), protocol.ErrInvalidTarget, "")
		default:
			d.reportErr(ctx, o, c.Name(), err)
		}

	case protocol.StopCmd:
		stopped := d.reg.StopAll()
		n := d.cancelRuns()
		d.logf("[dispatch] stop: sessions=%v runs=%d", stopped, n)
		d.report(ctx, o, c.Name(), true, "Stopped active behaviors.")

	case protocol.JumpCmd:
		d.submit(ctx, o, c.Name(), d.runner.Jump)

	case protocol.ChestCmd:
		d.submit(ctx, o, c.Name(), d.runner.ChestDump)

	case protocol.SetHomeCmd:
		pos, err := d.runner.Resources().SetHomeNearby(ctx, d.w)
		if err != nil {
			d.reportCode(ctx, o, c.Name(), false,
				"No chest under/near you to set as home. Stand on/next to the chest and run "+d.tu.Chat.Prefix+"sethome.",
				errorCode(err), "")
			return
		}
		d.report(ctx, o, c.Name(), true, fmt.Sprintf("Home chest set at %d, %d, %d", pos.X, pos.Y, pos.Z))

	case protocol.HomeCmd:
		d.submit(ctx, o, c.Name(), d.runner.GoHome)

	case protocol.DeforestCmd:
		radius := c.Radius
		if radius == 0 {
			radius = d.tu.Tasks.DeforestRadius
		}
		d.submit(ctx, o, c.Name(), func(ctx context.Context, act *arbiter.Actuator) tasks.Result {
			return d.runner.Deforest(ctx, act, radius)
		})

	case protocol.FarmCmd:
		radius := c.Radius
		if radius == 0 {
			radius = d.tu.Tasks.FarmRadius
		}
		d.submit(ctx, o, c.Name(), func(ctx context.Context, act *arbiter.Actuator) tasks.Result {
			return d.runner.Farm(ctx, act, radius)
		})

	case protocol.StripMineCmd:
		if n, limit := tasks.StripMineLen(c.Start, c.End), d.tu.Tasks.MaxStripPath; n > int64(limit) {
			d.reportCode(ctx, o, c.Name(), false,
				fmt.Sprintf("Strip mine too long: %d blocks, limit is %d.", n, limit),
				protocol.ErrProtoBadRequest, "")
			return
		}
		d.submit(ctx, o, c.Name(), func(ctx context.Context, act *arbiter.Actuator) tasks.Result {
			return d.runner.StripMine(ctx, act, c.Start, c.End, c.OnlyOres)
		})

	case protocol.EquipCmd:
		d.submit(ctx, o, c.Name(), d.runner.Equip)

	case protocol.DefendCmd:
		_, err := d.reg.Start(ctx, behavior.KindDefend, behavior.Params{})
		switch {
		case err == nil:
			d.report(ctx, o, c.Name(), true, "Entering defense mode: I will engage nearby hostile mobs.")
		case errors.Is(err, behavior.ErrAlreadyActive):
			d.reportCode(ctx, o, c.Name(), false, "Already in defense mode.", protocol.ErrConflict, "")
		default:
			d.reportErr(ctx, o, c.Name(), err)
		}

	case protocol.AutoCmd:
		d.auto(ctx, o, c)

	case protocol.HelpCmd:
		names := protocol.Names()
		for i, n := range names {
			names[i] = d.tu.Chat.Prefix + n
		}
		d.report(ctx, o, c.Name(), true, "Commands: "+strings.Join(names, ", "))

	case protocol.RespawnCmd:
		self, err := d.w.Self(ctx)
		if err != nil {
			d.reportErr(ctx, o, c.Name(), err)
			return
		}
		if self.Health > 0 {
			d.report(ctx, o, c.Name(), true, "I am still alive!")
			return
		}
		d.submit(ctx, o, c.Name(), d.runner.Respawn)

	case protocol.StatusCmd:
		d.report(ctx, o, c.Name(), true, d.status(ctx))

	default:
		d.reportCode(ctx, o, cmd.Name(), false, "Unknown command: "+cmd.Name(), protocol.ErrUnknownCommand, "")
	}
}

func (d *Dispatcher) auto(ctx context.Context, o origin, c protocol.AutoCmd) {
	var (
		on      bool
		changed = true
		err     error
	)
	if c.State == nil {
		on, err = d.reg.ToggleAuto()
	} else {
		on = *c.State
		changed, err = d.reg.SetAuto(on)
	}
	if err != nil {
		d.reportErr(ctx, o, c.Name(), err)
		return
	}
	switch {
	case on && changed:
		d.report(ctx, o, c.Name(), true, "Auto mode enabled")
	case on:
		d.reportCode(ctx, o, c.Name(), false, "Auto mode already running.", protocol.ErrConflict, "")
	case changed:
		d.report(ctx, o, c.Name(), true, "Auto mode disabled")
	default:
		d.report(ctx, o, c.Name(), true, "Auto mode is not running.")
	}
}

type choreFunc func(ctx context.Context, act *arbiter.Actuator) tasks.Result

// submit runs fn on the pool under a fresh command-priority holder. Runs may
// overlap; the arbiter decides which of them moves the bot.
func (d *Dispatcher) submit(ctx context.Context, o origin, name string, fn choreFunc) {
	r := &run{
		id:      indexdb.NewRunID(),
		command: name,
		holder:  "task:" + name + ":" + uuid.NewString(),
		started: d.now(),
	}
	rctx, cancel := context.WithCancel(d.base)
	r.cancel = cancel
	act := d.arb.For(d.w, arbiter.Holder{ID: r.holder, Priority: arbiter.PriorityCommand})

	d.mu.Lock()
	d.running[r.id] = r
	d.mu.Unlock()
	d.wg.Add(1)

	err := d.pool.Submit(func() {
		defer d.wg.Done()
		defer d.finish(r)
		res := fn(rctx, act)
		d.record(o, r, res.OK(), res.Summary(), res.Processed, res.Failed)
		d.reportCode(d.base, o, name, res.OK(), res.Summary(), errorCode(res.Err), r.id)
		if errors.Is(res.Err, world.ErrDisconnected) {
			d.logf("[dispatch] %s: world disconnected", name)
		}
	})
	if err != nil {
		d.wg.Done()
		d.finish(r)
		msg := "too many tasks running"
		if !errors.Is(err, ants.ErrPoolOverload) {
			msg = err.Error()
		}
		d.reportCode(ctx, o, name, false, msg, protocol.ErrBusy, r.id)
	}
}

func (d *Dispatcher) finish(r *run) {
	r.cancel()
	d.mu.Lock()
	delete(d.running, r.id)
	d.mu.Unlock()
}

// cancelRuns stops every running chore at its next step and returns how many
// there were.
func (d *Dispatcher) cancelRuns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.running {
		r.cancel()
	}
	return len(d.running)
}

// Running lists the chores in flight, oldest first.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	rs := make([]*run, 0, len(d.running))
	for _, r := range d.running {
		rs = append(rs, r)
	}
	d.mu.Unlock()
	sort.Slice(rs, func(i, j int) bool { return rs[i].id < rs[j].id })
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.command
	}
	return out
}

func (d *Dispatcher) status(ctx context.Context) string {
	var parts []string
	var sessions []string
	for _, s := range d.reg.Sessions() {
		if s.Target != "" {
			sessions = append(sessions, fmt.Sprintf("%s(%s)", s.Kind, s.Target))
		} else {
			sessions = append(sessions, string(s.Kind))
		}
	}
	if len(sessions) == 0 {
		sessions = []string{"none"}
	}
	parts = append(parts, "behaviors: "+strings.Join(sessions, ", "))
	if running := d.Running(); len(running) > 0 {
		parts = append(parts, "tasks: "+strings.Join(running, ", "))
	} else {
		parts = append(parts, "tasks: none")
	}
	if hp, ok := d.runner.Resources().Home(); ok {
		parts = append(parts, "home: "+hp.String())
	} else {
		parts = append(parts, "home: not set")
	}
	if d.runs != nil {
		if last, err := d.runs.RecentRuns(ctx, 3); err == nil && len(last) > 0 {
			var rs []string
			for _, r := range last {
				rs = append(rs, r.Summary)
			}
			parts = append(parts, "last: "+strings.Join(rs, "; "))
		}
	}
	return strings.Join(parts, " | ")
}

func (d *Dispatcher) record(o origin, r *run, ok bool, summary string, processed, failed int) {
	if d.runs == nil {
		return
	}
	d.runs.RecordRun(indexdb.Run{
		ID:        r.id,
		Command:   r.command,
		Holder:    r.holder,
		Source:    o.source(),
		Started:   r.started,
		Ended:     d.now(),
		OK:        ok,
		Summary:   summary,
		Processed: processed,
		Failed:    failed,
	})
}

// Notice forwards something a running behavior reported.
func (d *Dispatcher) Notice(n behavior.Notice) {
	d.reportCode(d.base, origin{}, string(n.Kind), n.OK, n.Message, "", n.SessionID)
}

func (d *Dispatcher) report(ctx context.Context, o origin, command string, ok bool, msg string) {
	d.reportCode(ctx, o, command, ok, msg, "", "")
}

func (d *Dispatcher) reportErr(ctx context.Context, o origin, command string, err error) {
	d.reportCode(ctx, o, command, false, tasks.Reason(err), errorCode(err), "")
}

// reportCode emits a report event and repeats the message in chat.
func (d *Dispatcher) reportCode(ctx context.Context, o origin, command string, ok bool, msg, code, runID string) {
	ev := protocol.ReportEvent(o.id, command, ok, msg)
	ev.Code = code
	ev.RunID = runID
	d.send(ev)
	d.say(ctx, msg)
}

// reportQuiet reports without echoing into chat.
func (d *Dispatcher) reportQuiet(o origin, command string, err error) {
	ev := protocol.ReportEvent(o.id, command, err == nil, tasks.Reason(err))
	ev.Code = errorCode(err)
	d.send(ev)
}

func (d *Dispatcher) send(ev protocol.Event) {
	if d.emit != nil {
		d.emit(ev)
	}
}

func (d *Dispatcher) say(ctx context.Context, msg string) {
	if msg == "" {
		return
	}
	if ctx.Err() != nil {
		ctx = d.base
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.w.Chat(cctx, msg); err != nil && !errors.Is(err, world.ErrDisconnected) {
		d.logf("[dispatch] chat: %v", err)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.log != nil {
		d.log.Printf(format, args...)
	}
}
