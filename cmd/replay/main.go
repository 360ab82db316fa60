package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"craftbot.ai/internal/persistence/indexdb"
	"craftbot.ai/internal/persistence/journal"
	"craftbot.ai/internal/protocol"
)

// replay prints what a bot saw and did: the journaled command/event stream,
// or the most recent task runs from the index.
func main() {
	var (
		dataDir = flag.String("data", "./data", "bot data directory")
		prefix  = flag.String("prefix", "bot", "journal file prefix")
		dir     = flag.String("dir", "", "only show entries in this direction (in|out)")
		source  = flag.String("source", "", "only show entries from this source (stdin|world|chat:<user>)")
		since   = flag.String("since", "", "only show entries at or after this RFC3339 time")
		runs    = flag.Int("runs", 0, "print the N most recent task runs from the index instead")
	)
	flag.Parse()

	if *runs > 0 {
		if err := printRuns(filepath.Join(*dataDir, "index", "bot.sqlite"), *runs); err != nil {
			fmt.Fprintln(os.Stderr, "runs:", err)
			os.Exit(1)
		}
		return
	}

	var from time.Time
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
		from = t
	}

	files, err := journal.Files(filepath.Join(*dataDir, "journal"), *prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", filepath.Join(*dataDir, "journal"))
		os.Exit(1)
	}

	var shown, errs, reports int
	for _, path := range files {
		err := journal.ReadFile(path, func(e journal.Entry) error {
			if *dir != "" && e.Dir != *dir {
				return nil
			}
			if *source != "" && e.Source != *source {
				return nil
			}
			if !from.IsZero() && e.Time.Before(from) {
				return nil
			}
			shown++
			if e.Dir == journal.DirOut {
				var ev protocol.Event
				if json.Unmarshal(e.Data, &ev) == nil {
					switch ev.Event {
					case protocol.EventError:
						errs++
					case protocol.EventReport:
						reports++
					}
				}
			}
			src := e.Source
			if src == "" {
				src = "-"
			}
			fmt.Printf("%s %-3s %-12s %s\n", e.Time.Format(time.RFC3339Nano), e.Dir, src, e.Data)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: entries=%d reports=%d errors=%d files=%d\n", shown, reports, errs, len(files))
}

func printRuns(path string, limit int) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rs, err := idx.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range rs {
		status := "ok"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Printf("%s %-10s %-4s %6s processed=%d failed=%d source=%s %s\n",
			r.ID, r.Command, status, r.Ended.Sub(r.Started).Round(time.Millisecond), r.Processed, r.Failed, r.Source, r.Summary)
	}
	return nil
}
