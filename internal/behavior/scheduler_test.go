package behavior

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_SkipsWhileInFlight(t *testing.T) {
	s, err := NewScheduler(time.Millisecond, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.pool.Release()

	release := make(chan struct{})
	g := s.Add(context.Background(), "slow", 100*time.Millisecond, func(ctx context.Context) {
		<-release
	})
	s.groups[<-s.add] = struct{}{}

	now := time.Now()
	s.step(now)
	s.step(now.Add(50 * time.Millisecond)) // not due yet
	s.step(now.Add(100 * time.Millisecond))
	if got := g.Stats().Skipped; got != 1 {
		t.Fatalf("skipped: got %d want 1", got)
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for g.Stats().Runs != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("tick never completed")
		}
		time.Sleep(time.Millisecond)
	}
	for g.inflight.Load() {
		time.Sleep(time.Millisecond)
	}
	s.step(now.Add(200 * time.Millisecond))
	deadline = time.Now().Add(time.Second)
	for g.Stats().Runs != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second tick never ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_RunAndStop(t *testing.T) {
	s, err := NewScheduler(5*time.Millisecond, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	var n atomic.Int32
	g := s.Add(ctx, "count", 10*time.Millisecond, func(ctx context.Context) { n.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("ticks did not run, n=%d", n.Load())
		}
		time.Sleep(2 * time.Millisecond)
	}
	if stats := s.Stats(); len(stats) != 1 || stats[0].Name != "count" {
		t.Fatalf("stats: %+v", stats)
	}

	g.Stop()
	if g.ctx.Err() == nil {
		t.Fatalf("stopped group context still live")
	}
	time.Sleep(30 * time.Millisecond)
	before := n.Load()
	time.Sleep(50 * time.Millisecond)
	if after := n.Load(); after != before {
		t.Fatalf("ticks after stop: %d -> %d", before, after)
	}

	cancel()
	select {
	case <-errc:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}
	if s.Stats() != nil {
		t.Fatalf("stats after exit should be nil")
	}
}
