package bridge

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"craftbot.ai/internal/transport/ws"
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

func startServer(t *testing.T, cfg simworld.Config) (*simworld.World, string) {
	t.Helper()
	w := simworld.New(cfg)
	srv := httptest.NewServer(ws.NewServer(w, nil).Handler())
	t.Cleanup(srv.Close)
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: url, Username: "bot", RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) (world.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("no event")
		return world.Event{}, false
	}
}

func TestClient_RoundTrip(t *testing.T) {
	w, url := startServer(t, simworld.Config{Spawn: world.Vec3{X: 0.5, Y: 65, Z: 0.5}})
	w.SetBlock(world.Vec3i{X: 2, Y: 65, Z: 0}, "oak_log", 0)
	w.SetBlock(world.Vec3i{X: 3, Y: 65, Z: 0}, "stone", 0)
	w.AddContainer(world.Vec3i{X: 1, Y: 65, Z: 1})
	w.PutEntity(world.Entity{ID: "p1", Kind: world.EntityPlayer, Name: "Steve", Pos: world.Vec3{X: 4, Y: 65, Z: 4}})
	w.Give("cobblestone", 10)
	c := dial(t, url)
	ctx := context.Background()

	if ev, _ := nextEvent(t, c); ev.Kind != world.EventSpawn {
		t.Fatalf("first event: %+v", ev)
	}

	self, err := c.Self(ctx)
	if err != nil || self.Name != "bot" || self.Pos.X != 0.5 {
		t.Fatalf("self: %+v err=%v", self, err)
	}
	b, err := c.BlockAt(ctx, world.Vec3i{X: 2, Y: 65, Z: 0})
	if err != nil || b.Name != "oak_log" {
		t.Fatalf("block_at: %+v err=%v", b, err)
	}
	logs, err := c.QueryBlocks(ctx, func(b world.Block) bool { return world.HasToken(b.Name, "log") }, 16)
	if err != nil || len(logs) != 1 {
		t.Fatalf("query_blocks: %+v err=%v", logs, err)
	}
	p, ok, err := world.Player(ctx, c, "Steve")
	if err != nil || !ok || p.ID != "p1" {
		t.Fatalf("player: %+v ok=%v err=%v", p, ok, err)
	}

	inv, err := c.Inventory(ctx)
	if err != nil || len(inv) != 1 || inv[0].Count != 10 {
		t.Fatalf("inventory: %+v err=%v", inv, err)
	}
	box, err := c.OpenContainer(ctx, world.Vec3i{X: 1, Y: 65, Z: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := box.Deposit(ctx, inv[0]); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	items, err := box.Items(ctx)
	if err != nil || len(items) != 1 || items[0].Name != "cobblestone" {
		t.Fatalf("container items: %+v err=%v", items, err)
	}
	if err := box.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := box.Items(ctx); !errors.Is(err, world.ErrGone) {
		t.Fatalf("closed handle should be gone, got %v", err)
	}

	if err := c.Chat(ctx, "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if said := w.Said(); len(said) != 1 || said[0] != "hello" {
		t.Fatalf("said: %v", said)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	w, url := startServer(t, simworld.Config{})
	w.SetUnreachable(world.Vec3i{X: 9, Y: 9, Z: 9})
	c := dial(t, url)
	ctx := context.Background()

	if _, err := c.OpenContainer(ctx, world.Vec3i{X: 5, Y: 5, Z: 5}); !errors.Is(err, world.ErrGone) {
		t.Fatalf("open missing chest: %v", err)
	}
	if err := c.MoveTo(ctx, world.GoalNear(world.Vec3i{X: 9, Y: 9, Z: 9}, 0)); !errors.Is(err, world.ErrNoPath) {
		t.Fatalf("unreachable goal: %v", err)
	}
	if !world.IsTransient(c.PerformAction(ctx, world.ActionAttack, world.AtEntity("nope"))) {
		t.Fatalf("attack on a missing entity should be transient")
	}
}

func TestClient_ChatEventsArePushed(t *testing.T) {
	w, url := startServer(t, simworld.Config{})
	c := dial(t, url)
	nextEvent(t, c) // spawn

	w.EmitChat("Steve", "!come")
	ev, _ := nextEvent(t, c)
	if ev.Kind != world.EventChat || ev.User != "Steve" || ev.Message != "!come" {
		t.Fatalf("chat event: %+v", ev)
	}
}

func TestClient_DisconnectEndsStream(t *testing.T) {
	w, url := startServer(t, simworld.Config{})
	c := dial(t, url)
	nextEvent(t, c) // spawn

	w.Disconnect("kicked")
	ev, ok := nextEvent(t, c)
	if !ok || ev.Kind != world.EventEnd || ev.Message != "kicked" {
		t.Fatalf("end event: %+v ok=%v", ev, ok)
	}
	if _, ok := nextEvent(t, c); ok {
		t.Fatalf("stream should close without reconnect")
	}
	if _, err := c.Self(context.Background()); !errors.Is(err, world.ErrDisconnected) {
		t.Fatalf("call after disconnect: %v", err)
	}
	if c.Connected() || c.LastError() == "" {
		t.Fatalf("connected=%v lastErr=%q", c.Connected(), c.LastError())
	}
}

func TestClient_CancelStopsNavigation(t *testing.T) {
	w, url := startServer(t, simworld.Config{MoveDelay: 300 * time.Millisecond})
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.MoveTo(ctx, world.Goal{Pos: world.Vec3{X: 20, Y: 65, Z: 0}, Radius: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("move did not return on cancel")
	}
	time.Sleep(500 * time.Millisecond)
	for _, op := range w.Ops() {
		if op.Kind == "move" {
			t.Fatalf("cancelled navigation still completed: %+v", w.Ops())
		}
	}
}

func TestServer_OneBotAtATime(t *testing.T) {
	_, url := startServer(t, simworld.Config{})
	dial(t, url)

	second, err := Dial(context.Background(), Config{URL: url, Username: "other"})
	if err != nil {
		return
	}
	defer second.Close()
	ev, ok := nextEvent(t, second)
	if !ok || ev.Kind != world.EventEnd {
		t.Fatalf("second bot should be turned away, got %+v ok=%v", ev, ok)
	}
}
