package home

import (
	"os"
	"path/filepath"
	"testing"

	"craftbot.ai/internal/world"
)

func TestStore_SetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_home.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Fatalf("fresh store should have no home")
	}
	want := world.Vec3i{X: 12, Y: 64, Z: -7}
	if err := s.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := s2.Get()
	if !ok || got != want {
		t.Fatalf("reopened home: got %v ok=%v want %v", got, ok, want)
	}
}

func TestOpen_NullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_home.json")
	if err := os.WriteFile(path, []byte("null\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Fatalf("null file should load as unset")
	}
}

func TestOpen_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_home.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
