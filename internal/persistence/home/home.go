// Package home persists the bot's home container position as a JSON object
// {x,y,z} or null.
package home

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"craftbot.ai/internal/world"
)

type position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type Store struct {
	path string

	mu  sync.RWMutex
	pos *world.Vec3i
}

// Open reads path if it exists. An empty path gives an in-memory store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return s, nil
	}
	var p position
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse home file: %w", err)
	}
	s.pos = &world.Vec3i{X: p.X, Y: p.Y, Z: p.Z}
	return s, nil
}

func (s *Store) Get() (world.Vec3i, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pos == nil {
		return world.Vec3i{}, false
	}
	return *s.pos, true
}

// Set overwrites the home position and persists it atomically.
func (s *Store) Set(p world.Vec3i) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(position{X: p.X, Y: p.Y, Z: p.Z}, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return err
	}
	s.pos = &p
	return nil
}

func (s *Store) Path() string { return s.path }

func writeFileAtomic(path string, b []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
