package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"craftbot.ai/internal/world"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:25565", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

// chatCmd speaks as a player, which is how in-game commands reach the bot.
func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:25565", "server base url")
	user := fs.String("user", "Steve", "speaking player")
	_ = fs.Parse(args)

	msg := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(msg) == "" {
		fmt.Fprintln(os.Stderr, "missing message")
		os.Exit(2)
	}
	post(*baseURL, "/admin/v1/chat", map[string]string{"user": *user, "message": msg})
}

func entityCmd(args []string) {
	fs := flag.NewFlagSet("entity", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:25565", "server base url")
	id := fs.String("id", "", "entity id (required)")
	kind := fs.String("kind", string(world.EntityMob), "player|mob|object")
	name := fs.String("name", "zombie", "username or mob type")
	pos := fs.String("pos", "", "position x,y,z (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	p, err := parseVec(*pos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -pos:", err)
		os.Exit(2)
	}
	post(*baseURL, "/admin/v1/entity", world.Entity{ID: *id, Kind: world.EntityKind(*kind), Name: *name, Pos: p})
}

func post(baseURL, path string, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(b))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(out)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func parseVec(s string) (world.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return world.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return world.Vec3{}, err
		}
		v[i] = f
	}
	return world.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}
