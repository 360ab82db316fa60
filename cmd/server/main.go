package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"craftbot.ai/internal/transport/ws"
	"craftbot.ai/internal/world"
	"craftbot.ai/internal/world/simworld"
)

// The development world server: one simulated world with a seeded scene,
// served over the bridge protocol to a single bot.
func main() {
	var (
		addr  = flag.String("addr", ":25565", "http listen address")
		name  = flag.String("name", "bot", "bot username inside the world")
		slots = flag.Int("slots", 36, "bot inventory slots")
		delay = flag.Duration("move_delay", 250*time.Millisecond, "simulated navigation time per move")
		empty = flag.Bool("empty", false, "start without the seeded scene")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	w := simworld.New(simworld.Config{
		Name:           *name,
		Spawn:          world.Vec3{X: 0.5, Y: 65, Z: 0.5},
		InventorySlots: *slots,
		MoveDelay:      *delay,
	})
	if !*empty {
		seedScene(w)
	}
	bridge := ws.NewServer(w, logger)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		attached := 0
		if _, ok := bridge.Attached(); ok {
			attached = 1
		}
		ops := map[string]int{}
		for _, op := range w.Ops() {
			ops[op.Kind]++
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP craftbot_world_attached Whether a bot is attached.\n")
		fmt.Fprintf(rw, "# TYPE craftbot_world_attached gauge\n")
		fmt.Fprintf(rw, "craftbot_world_attached %d\n", attached)

		fmt.Fprintf(rw, "# HELP craftbot_world_ops_total Accepted actuator operations.\n")
		fmt.Fprintf(rw, "# TYPE craftbot_world_ops_total counter\n")
		for _, kind := range []string{"move", "dig", "place", "attack", "equip", "open", "deposit", "withdraw"} {
			fmt.Fprintf(rw, "craftbot_world_ops_total{kind=%q} %d\n", kind, ops[kind])
		}
	})

	if envBool("BOT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints to drive the scene by hand.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel2()
			self, _ := w.Self(ctx2)
			inv, _ := w.Inventory(ctx2)
			user, _ := bridge.Attached()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{
				"attached":  user,
				"self":      self,
				"inventory": inv,
				"said":      w.Said(),
			})
		})
		mux.HandleFunc("/admin/v1/chat", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var req struct {
				User    string `json:"user"`
				Message string `json:"message"`
			}
			if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&req); err != nil || req.User == "" || req.Message == "" {
				http.Error(rw, "want {\"user\":...,\"message\":...}", http.StatusBadRequest)
				return
			}
			w.EmitChat(req.User, req.Message)
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
		})
		mux.HandleFunc("/admin/v1/entity", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var e world.Entity
			if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&e); err != nil || e.ID == "" {
				http.Error(rw, "bad entity", http.StatusBadRequest)
				return
			}
			w.PutEntity(e)
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
		})
	} else {
		logger.Printf("admin endpoints disabled (BOT_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("BOT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/bridge", bridge.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		w.Disconnect("Server closed")
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
