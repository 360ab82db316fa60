package dispatch

import (
	"context"
	"testing"

	"craftbot.ai/internal/behavior"
	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

func TestChatCommand_ParsesIntoTheCommandUnion(t *testing.T) {
	cases := []struct {
		text string
		want protocol.Command
	}{
		{"!follow", protocol.FollowCmd{Player: "Steve"}},
		{"!follow Alex", protocol.FollowCmd{Player: "Alex"}},
		{"!come", protocol.ComeCmd{Player: "Steve"}},
		{"!farm 12", protocol.FarmCmd{Radius: 12}},
		{"  !JUMP  ", protocol.JumpCmd{}},
		{"!stripmine 0 0 0 2 0 2", protocol.StripMineCmd{End: world.Vec3i{X: 2, Z: 2}}},
		{"!stripmine 0 0 0 2 0 2 ores", protocol.StripMineCmd{End: world.Vec3i{X: 2, Z: 2}, OnlyOres: true}},
		{"!chat hello there", protocol.ChatCmd{Message: "hello there"}},
	}
	for _, c := range cases {
		line, ok := chatCommand("!", "Steve", c.text)
		if !ok {
			t.Fatalf("%q: not a command", c.text)
		}
		_, got, err := protocol.ParseCommand(line)
		if err != nil {
			t.Fatalf("%q: %v", c.text, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %#v want %#v", c.text, got, c.want)
		}
	}

	line, _ := chatCommand("!", "Steve", "!auto off")
	_, cmd, err := protocol.ParseCommand(line)
	if err != nil || cmd.(protocol.AutoCmd).State == nil || *cmd.(protocol.AutoCmd).State {
		t.Fatalf("auto off: %#v %v", cmd, err)
	}

	for _, text := range []string{"hello", "!", ""} {
		if _, ok := chatCommand("!", "Steve", text); ok {
			t.Fatalf("%q should not be a command", text)
		}
	}
	for _, text := range []string{"!stripmine 1 2", "!stripmine a b c d e f", "!farm wide", "!auto maybe"} {
		line, _ := chatCommand("!", "Steve", text)
		if _, _, err := protocol.ParseCommand(line); err == nil {
			t.Fatalf("%q should fail validation", text)
		}
	}
}

func TestHandleChat_AllowedUsersOnly(t *testing.T) {
	f := newFixture(t, simworld.Config{})
	f.w.PutEntity(world.Entity{ID: "p1", Kind: world.EntityPlayer, Name: "Steve", Pos: world.Vec3{X: 5.5, Y: 65, Z: 0.5}})
	f.w.PutEntity(world.Entity{ID: "p2", Kind: world.EntityPlayer, Name: "Mallory", Pos: world.Vec3{X: -5.5, Y: 65, Z: 0.5}})

	f.d.HandleEvent(context.Background(), world.Event{Kind: world.EventChat, User: "Mallory", Message: "!follow"})
	if f.reg.IsRunning(behavior.KindFollow) {
		t.Fatalf("chat from a user outside the allow list must be ignored")
	}
	if ev := f.last(); ev.Event != protocol.EventChat || ev.User != "Mallory" {
		t.Fatalf("chat should still be forwarded: %+v", ev)
	}

	f.d.HandleEvent(context.Background(), world.Event{Kind: world.EventChat, User: "Steve", Message: "!follow"})
	ss := f.reg.Sessions()
	if len(ss) != 1 || ss[0].Target != "Steve" {
		t.Fatalf("!follow should follow the speaker: %+v", ss)
	}

	f.d.HandleEvent(context.Background(), world.Event{Kind: world.EventChat, User: "Steve", Message: "!stripmine 1 2"})
	said := f.w.Said()
	if len(said) == 0 || said[len(said)-1] != "Usage: !stripmine x1 y1 z1 x2 y2 z2 [onlyOres]" {
		t.Fatalf("expected usage hint, chat: %v", said)
	}
}

func TestHandleChat_IgnoresOwnLines(t *testing.T) {
	f := newFixture(t, simworld.Config{})
	f.d.tu.Chat.AllowedUsers = []string{"*"}
	f.d.HandleChat(context.Background(), "bot", "!jump")
	f.d.Wait()
	if f.ops("jump") != 0 {
		t.Fatalf("the bot must not run its own chat lines")
	}
	f.d.HandleChat(context.Background(), "Anyone", "!jump")
	f.d.Wait()
	if f.ops("jump") != 1 {
		t.Fatalf("wildcard allow list should accept anyone")
	}
}
