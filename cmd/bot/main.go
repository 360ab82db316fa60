package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"craftbot.ai/internal/arbiter"
	"craftbot.ai/internal/behavior"
	"craftbot.ai/internal/dispatch"
	"craftbot.ai/internal/persistence/home"
	"craftbot.ai/internal/persistence/indexdb"
	"craftbot.ai/internal/persistence/journal"
	"craftbot.ai/internal/resources"
	"craftbot.ai/internal/tasks"
	"craftbot.ai/internal/transport/stdio"
	"craftbot.ai/internal/tuning"
	"craftbot.ai/internal/world/bridge"
)

func main() {
	var (
		worldURL   = flag.String("world", envOr("BOT_WORLD_URL", ""), "world bridge url (default: ws://<HOST>:<PORT>/v1/bridge)")
		username   = flag.String("username", envOr("USERNAME", "bot"), "bot username")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		reconnect  = flag.Bool("reconnect", false, "keep reconnecting after the world connection drops")
		disableDB  = flag.Bool("disable_db", false, "disable the run index")
	)
	flag.Parse()

	// Stdout carries the event stream.
	logger := log.New(os.Stderr, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	url := strings.TrimSpace(*worldURL)
	if url == "" {
		url = "ws://" + net.JoinHostPort(envOr("HOST", "localhost"), envOr("PORT", "25565")) + "/v1/bridge"
	}

	tu, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	homes, err := home.Open(filepath.Join(*dataDir, "bot_home.json"))
	if err != nil {
		logger.Fatalf("home: %v", err)
	}

	var runs dispatch.RunLog
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "bot.sqlite"))
		if err != nil {
			logger.Fatalf("index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertConfig("tuning", tu); err != nil {
			logger.Printf("index tuning: %v", err)
		}
		runs = idx
	}

	jw := journal.NewWriter(filepath.Join(*dataDir, "journal"), "bot")
	defer jw.Close()
	out := stdio.NewWriter(os.Stdout, jw, logger)

	ctx, cancel := signalContext()
	defer cancel()

	w, err := bridge.Dial(ctx, bridge.Config{
		URL:       url,
		Username:  *username,
		Reconnect: *reconnect,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer w.Close()
	logger.Printf("connected to %s as %s", url, *username)

	arb := arbiter.New(logger)
	res := resources.New(tu, homes, logger)
	runner := tasks.New(tu, res, logger)

	sched, err := behavior.NewScheduler(tu.Scheduler.Resolution(), tu.Scheduler.PoolSize, logger)
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("scheduler: %v", err)
		}
	}()

	var d *dispatch.Dispatcher
	reg := behavior.NewRegistry(ctx, behavior.Options{
		World:   w,
		Arbiter: arb,
		Sched:   sched,
		Runner:  runner,
		Tuning:  tu,
		Logger:  logger,
		Notify: func(n behavior.Notice) {
			if d != nil {
				d.Notice(n)
			}
		},
	})
	d, err = dispatch.New(ctx, dispatch.Options{
		World:    w,
		Arbiter:  arb,
		Registry: reg,
		Runner:   runner,
		Tuning:   tu,
		Logger:   logger,
		Emit:     out.Emit,
		Runs:     runs,
		Username: *username,
		PoolSize: tu.Scheduler.PoolSize,
	})
	if err != nil {
		logger.Fatalf("dispatcher: %v", err)
	}

	go func() {
		if err := stdio.Serve(ctx, os.Stdin, jw, d.Handle); err != nil && ctx.Err() == nil {
			logger.Printf("stdin: %v", err)
		}
	}()

	events := w.Events()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if b, err := json.Marshal(ev); err == nil {
				_ = jw.Record(journal.DirIn, "world", b)
			}
			d.HandleEvent(ctx, ev)
		}
	}

	logger.Printf("shutting down")
	reg.StopAll()
	cancel()

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Printf("tasks still running at exit")
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
