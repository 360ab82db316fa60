package behavior

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// TickFunc runs one evaluation of a continuous behavior. ctx is canceled
// when the group is stopped.
type TickFunc func(ctx context.Context)

// Group is a named set of periodic ticks owned by one behavior session.
type Group struct {
	name   string
	period time.Duration
	tick   TickFunc

	ctx    context.Context
	cancel context.CancelFunc

	// next is only touched by the scheduler loop.
	next time.Time

	inflight atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64

	s *Scheduler
}

func (g *Group) Name() string { return g.name }

// Stop cancels the group's context and takes it off the timeline. A tick
// already in flight finishes on its own.
func (g *Group) Stop() {
	g.cancel()
	select {
	case g.s.remove <- g:
	case <-g.s.done:
	}
}

type GroupStats struct {
	Name    string        `json:"name"`
	Period  time.Duration `json:"period"`
	Runs    uint64        `json:"runs"`
	Skipped uint64        `json:"skipped"`
}

func (g *Group) Stats() GroupStats {
	return GroupStats{Name: g.name, Period: g.period, Runs: g.runs.Load(), Skipped: g.skipped.Load()}
}

// Scheduler drives every tick group from a single loop. Due ticks are handed
// to a worker pool without waiting; a group whose previous tick is still
// running skips its turn.
type Scheduler struct {
	resolution time.Duration
	pool       *ants.Pool
	log        *log.Logger

	add    chan *Group
	remove chan *Group
	stats  chan chan []GroupStats
	done   chan struct{}

	groups map[*Group]struct{}
}

func NewScheduler(resolution time.Duration, poolSize int, logger *log.Logger) (*Scheduler, error) {
	if resolution <= 0 {
		resolution = 50 * time.Millisecond
	}
	opts := []ants.Option{
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(p any) {
			if logger != nil {
				logger.Printf("[sched] tick panic: %v", p)
			}
		}),
	}
	if logger != nil {
		opts = append(opts, ants.WithLogger(logger))
	}
	pool, err := ants.NewPool(poolSize, opts...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		resolution: resolution,
		pool:       pool,
		log:        logger,
		add:        make(chan *Group, 16),
		remove:     make(chan *Group, 16),
		stats:      make(chan chan []GroupStats),
		done:       make(chan struct{}),
		groups:     map[*Group]struct{}{},
	}, nil
}

// Add registers a tick group. The first tick is due on the next pass.
func (s *Scheduler) Add(parent context.Context, name string, period time.Duration, tick TickFunc) *Group {
	ctx, cancel := context.WithCancel(parent)
	g := &Group{name: name, period: period, tick: tick, ctx: ctx, cancel: cancel, s: s}
	select {
	case s.add <- g:
	case <-s.done:
		cancel()
	}
	return g
}

// Submit runs fn on the worker pool. It fails instead of blocking when the
// pool is saturated.
func (s *Scheduler) Submit(fn func()) error {
	return s.pool.Submit(fn)
}

// Stats returns per-group counters, or nil once the loop has exited.
func (s *Scheduler) Stats() []GroupStats {
	reply := make(chan []GroupStats, 1)
	select {
	case s.stats <- reply:
	case <-s.done:
		return nil
	}
	return <-reply
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	defer close(s.done)
	defer s.pool.Release()

	for {
		select {
		case <-ctx.Done():
			s.drop()
			return ctx.Err()
		case g := <-s.add:
			s.groups[g] = struct{}{}
		case g := <-s.remove:
			delete(s.groups, g)
		case reply := <-s.stats:
			reply <- s.snapshot()
		case now := <-ticker.C:
			s.step(now)
		}
	}
}

func (s *Scheduler) step(now time.Time) {
	for g := range s.groups {
		if g.ctx.Err() != nil {
			delete(s.groups, g)
			continue
		}
		if now.Before(g.next) {
			continue
		}
		g.next = now.Add(g.period)
		if !g.inflight.CompareAndSwap(false, true) {
			g.skipped.Add(1)
			continue
		}
		err := s.pool.Submit(func() {
			defer g.inflight.Store(false)
			g.tick(g.ctx)
			g.runs.Add(1)
		})
		if err != nil {
			g.inflight.Store(false)
			g.skipped.Add(1)
			if !errors.Is(err, ants.ErrPoolOverload) {
				s.logf("[sched] submit %s: %v", g.name, err)
			}
		}
	}
}

func (s *Scheduler) snapshot() []GroupStats {
	out := make([]GroupStats, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) drop() {
	for g := range s.groups {
		g.cancel()
		delete(s.groups, g)
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
