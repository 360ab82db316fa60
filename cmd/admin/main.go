package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"craftbot.ai/internal/persistence/home"
)

// admin drives a local development server and inspects a bot's data dir.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "chat":
			chatCmd(os.Args[2:])
			return
		case "entity":
			entityCmd(os.Args[2:])
			return
		case "home":
			homeCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin state|chat|entity|home [flags]")
	os.Exit(2)
}

func homeCmd(args []string) {
	fs := flag.NewFlagSet("home", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "bot data directory")
	_ = fs.Parse(args)

	s, err := home.Open(filepath.Join(*dataDir, "bot_home.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "home:", err)
		os.Exit(1)
	}
	p, ok := s.Get()
	if !ok {
		fmt.Println("home: not set")
		return
	}
	fmt.Printf("home: %s\n", p)
}
