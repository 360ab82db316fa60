// Package behavior keeps the bot's continuous behaviors (follow, defend,
// auto) and the scheduler that ticks them.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/tasks"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world"
)

type Kind string

const (
	KindFollow Kind = "follow"
	KindDefend Kind = "defend"
	KindAuto   Kind = "auto"
)

type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

var ErrAlreadyActive = errors.New("already active")

type Params struct {
	// Target is the player to follow.
	Target string
}

// Session is a snapshot of one behavior session.
type Session struct {
	Kind    Kind      `json:"kind"`
	ID      string    `json:"id"`
	Status  Status    `json:"status"`
	Target  string    `json:"target,omitempty"`
	Started time.Time `json:"started"`
}

// Notice is something a running behavior wants the command source to hear
// about, such as a lost follow target or an auto round summary.
type Notice struct {
	Kind      Kind
	SessionID string
	Message   string
	OK        bool
}

type session struct {
	Session

	act   *arbiter.Actuator
	group *Group
	tick  TickFunc

	// auto loop
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	World   world.World
	Arbiter *arbiter.Arbiter
	Sched   *Scheduler
	Runner  *tasks.Runner
	Tuning  tuning.Tuning
	Logger  *log.Logger
	Notify  func(Notice)
}

type Registry struct {
	w      world.World
	arb    *arbiter.Arbiter
	sched  *Scheduler
	runner *tasks.Runner
	tu     tuning.Tuning
	log    *log.Logger
	notify func(Notice)
	now    func() time.Time

	// base is the parent of every session context.
	base context.Context

	mu       sync.Mutex
	sessions map[Kind]*session
}

func NewRegistry(ctx context.Context, o Options) *Registry {
	return &Registry{
		w:        o.World,
		arb:      o.Arbiter,
		sched:    o.Sched,
		runner:   o.Runner,
		tu:       o.Tuning,
		log:      o.Logger,
		notify:   o.Notify,
		now:      time.Now,
		base:     ctx,
		sessions: map[Kind]*session{},
	}
}

// Start begins a session of kind. Follow replaces a running follow; defend
// and auto return ErrAlreadyActive when already running.
func (r *Registry) Start(ctx context.Context, kind Kind, p Params) (string, error) {
	switch kind {
	case KindFollow:
		return r.startFollow(ctx, p.Target)
	case KindDefend:
		return r.startDefend(ctx)
	case KindAuto:
		return r.startAuto()
	}
	return "", fmt.Errorf("unknown behavior %q", kind)
}

func (r *Registry) newSession(kind Kind, target string, prio arbiter.Priority) *session {
	id := uuid.NewString()
	return &session{
		Session: Session{Kind: kind, ID: id, Status: StatusStarting, Target: target, Started: r.now()},
		act:     r.arb.For(r.w, arbiter.Holder{ID: string(kind) + ":" + id, Priority: prio}),
	}
}

func (r *Registry) startFollow(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: no player named", tasks.ErrTargetNotFound)
	}
	if _, ok, err := world.Player(ctx, r.w, target); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("%w: %s", tasks.ErrTargetNotFound, target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.sessions[KindFollow]; old != nil {
		r.stopLocked(old)
	}
	s := r.newSession(KindFollow, target, arbiter.PriorityBackground)
	if _, err := s.act.Acquire(); err != nil {
		// Defend outranks follow; the ticks pick the lease up once it is free.
		r.logf("[behavior] follow %s: %v", target, err)
	}
	s.tick = r.followTick(s)
	s.group = r.sched.Add(r.base, "follow:"+s.ID, r.tu.Follow.Period(), s.tick)
	s.Status = StatusRunning
	r.sessions[KindFollow] = s
	r.logf("[behavior] follow %s started (%s)", target, s.ID)
	return s.ID, nil
}

func (r *Registry) startDefend(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.sessions[KindDefend]; cur != nil {
		return cur.ID, ErrAlreadyActive
	}
	s := r.newSession(KindDefend, "", arbiter.PriorityDefend)
	if _, err := s.act.Acquire(); err != nil {
		return "", err
	}
	if res := r.runner.EquipArmor(ctx, s.act); res.Failed > 0 || res.Aborted {
		r.logf("[behavior] defend: armor %s", res.Summary())
	}
	s.tick = r.defendTick(s)
	s.group = r.sched.Add(r.base, "defend:"+s.ID, r.tu.Defend.Period(), s.tick)
	s.Status = StatusRunning
	r.sessions[KindDefend] = s
	r.logf("[behavior] defend started (%s)", s.ID)
	return s.ID, nil
}

func (r *Registry) startAuto() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.sessions[KindAuto]; cur != nil {
		return cur.ID, ErrAlreadyActive
	}
	s := r.newSession(KindAuto, "", arbiter.PriorityBackground)
	ctx, cancel := context.WithCancel(r.base)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.Status = StatusRunning
	r.sessions[KindAuto] = s
	go r.autoLoop(ctx, s)
	r.logf("[behavior] auto started (%s)", s.ID)
	return s.ID, nil
}

// SetAuto turns the auto loop on or off. It reports whether anything changed.
func (r *Registry) SetAuto(on bool) (bool, error) {
	if !on {
		return r.Stop(KindAuto), nil
	}
	if _, err := r.startAuto(); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ToggleAuto flips the auto loop and returns the new state.
func (r *Registry) ToggleAuto() (bool, error) {
	if r.IsRunning(KindAuto) {
		r.Stop(KindAuto)
		return false, nil
	}
	_, err := r.SetAuto(true)
	return err == nil, err
}

func (r *Registry) autoLoop(ctx context.Context, s *session) {
	defer close(s.done)
	interval := r.tu.Auto.RoundInterval()
	for {
		res := r.runner.AutoRound(ctx, s.act)
		if ctx.Err() != nil {
			return
		}
		r.emit(Notice{Kind: KindAuto, SessionID: s.ID, Message: res.Summary(), OK: res.OK()})
		if errors.Is(res.Err, world.ErrDisconnected) {
			r.stopSession(s)
			return
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop ends the session of kind. It returns false when none was active.
func (r *Registry) Stop(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[kind]
	if s == nil {
		return false
	}
	r.stopLocked(s)
	return true
}

// StopAll ends every session and clears whatever lease is still live.
func (r *Registry) StopAll() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stopped []Kind
	for _, k := range []Kind{KindFollow, KindDefend, KindAuto} {
		if s := r.sessions[k]; s != nil {
			r.stopLocked(s)
			stopped = append(stopped, k)
		}
	}
	r.arb.Clear()
	return stopped
}

// stopSession stops s if it is still the registered session of its kind.
func (r *Registry) stopSession(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.Kind] == s {
		r.stopLocked(s)
	}
}

func (r *Registry) stopLocked(s *session) {
	s.Status = StatusStopping
	if s.group != nil {
		s.group.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.act.Release()
	s.Status = StatusStopped
	delete(r.sessions, s.Kind)
	r.logf("[behavior] %s stopped (%s)", s.Kind, s.ID)
}

func (r *Registry) IsRunning(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[kind]
	return s != nil && s.Status == StatusRunning
}

func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (r *Registry) emit(n Notice) {
	if r.notify != nil {
		r.notify(n)
	}
}

func (r *Registry) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}
