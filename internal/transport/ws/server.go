// Package ws serves a world.World over the bridge protocol. One bot is
// attached at a time; requests run concurrently and can be cancelled by id.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/world"
)

const maxQueryRadius = 128

type Server struct {
	world world.World
	log   *log.Logger

	upgrader websocket.Upgrader

	pumpOnce sync.Once

	mu   sync.Mutex
	sess *session
}

func NewServer(w world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Attached returns the username of the connected bot, if any.
func (s *Server) Attached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return "", false
	}
	return s.sess.username, true
}

type session struct {
	username string
	conn     *websocket.Conn
	out      chan []byte
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	inflight   map[string]context.CancelFunc
	containers map[string]world.Container
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("v"); v != protocol.Version {
			http.Error(rw, "bad protocol version", http.StatusBadRequest)
			return
		}
		username := r.URL.Query().Get("username")
		if username == "" {
			username = "bot"
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sess := &session{
			username:   username,
			conn:       conn,
			out:        make(chan []byte, 256),
			ctx:        ctx,
			cancel:     cancel,
			inflight:   map[string]context.CancelFunc{},
			containers: map[string]world.Container{},
		}
		if !s.attach(sess) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bot already connected"), time.Now().Add(time.Second))
			return
		}
		defer s.detach(sess)
		s.pumpOnce.Do(func() { go s.pump() })
		s.logf("[ws] %s attached from %s", username, r.RemoteAddr)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		sess.send(protocol.Push(world.Event{Kind: world.EventSpawn}))

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			var req protocol.Request
			if err := json.Unmarshal(msg, &req); err != nil || req.ID == "" {
				s.logf("[ws] %s: bad request", username)
				continue
			}
			if req.Op == protocol.OpCancel {
				sess.cancelRequest(req.Name)
				sess.send(protocol.Response(req.ID, nil))
				continue
			}
			rctx, rcancel := context.WithCancel(ctx)
			sess.mu.Lock()
			sess.inflight[req.ID] = rcancel
			sess.mu.Unlock()
			go func() {
				defer sess.cancelRequest(req.ID)
				sess.send(s.serve(rctx, sess, req))
			}()
		}
		s.logf("[ws] %s detached", username)
	}
}

func (s *Server) attach(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		return false
	}
	s.sess = sess
	return true
}

func (s *Server) detach(sess *session) {
	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()

	sess.mu.Lock()
	for id, cancel := range sess.inflight {
		cancel()
		delete(sess.inflight, id)
	}
	containers := sess.containers
	sess.containers = map[string]world.Container{}
	sess.mu.Unlock()
	for _, c := range containers {
		_ = c.Close()
	}
}

// pump forwards world events to whichever bot is attached. Events with
// nobody attached are dropped. After the end event the bot is cut off.
func (s *Server) pump() {
	for ev := range s.world.Events() {
		s.mu.Lock()
		sess := s.sess
		s.mu.Unlock()
		if sess == nil {
			continue
		}
		sess.send(protocol.Push(ev))
		if ev.Kind == world.EventEnd {
			// Let the writer flush the end event before hanging up.
			time.Sleep(100 * time.Millisecond)
			sess.cancel()
			_ = sess.conn.Close()
		}
	}
}

func (sess *session) cancelRequest(id string) {
	sess.mu.Lock()
	cancel := sess.inflight[id]
	delete(sess.inflight, id)
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (sess *session) send(m protocol.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	case <-sess.ctx.Done():
	}
}

func (sess *session) container(handle string) (world.Container, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	c, ok := sess.containers[handle]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", handle, world.ErrGone)
	}
	return c, nil
}

func badRequest(id, msg string) protocol.Message {
	return protocol.Message{
		Type:  protocol.TypeResponse,
		ID:    id,
		Error: &protocol.ErrorInfo{Code: protocol.ErrProtoBadRequest, Message: msg},
	}
}

func (s *Server) serve(ctx context.Context, sess *session, req protocol.Request) protocol.Message {
	w := s.world
	switch req.Op {
	case protocol.OpSelf:
		self, err := w.Self(ctx)
		m := protocol.Response(req.ID, err)
		if err == nil {
			m.Self = &self
		}
		return m

	case protocol.OpBlockAt:
		if req.Pos == nil {
			return badRequest(req.ID, "block_at: missing pos")
		}
		b, err := w.BlockAt(ctx, *req.Pos)
		m := protocol.Response(req.ID, err)
		if err == nil {
			m.Block = &b
		}
		return m

	case protocol.OpMoveTo:
		if req.Goal == nil {
			return badRequest(req.ID, "move_to: missing goal")
		}
		return protocol.Response(req.ID, w.MoveTo(ctx, *req.Goal))

	case protocol.OpAction:
		if req.Target == nil {
			return badRequest(req.ID, "action: missing target")
		}
		return protocol.Response(req.ID, w.PerformAction(ctx, req.Action, *req.Target))

	case protocol.OpQueryBlocks:
		radius := req.Radius
		if radius <= 0 || radius > maxQueryRadius {
			return badRequest(req.ID, fmt.Sprintf("query_blocks: radius must be 1..%d", maxQueryRadius))
		}
		blocks, err := w.QueryBlocks(ctx, func(b world.Block) bool { return !b.IsAir() }, radius)
		m := protocol.Response(req.ID, err)
		m.Blocks = blocks
		return m

	case protocol.OpQueryEntities:
		ents, err := w.QueryEntities(ctx, nil)
		m := protocol.Response(req.ID, err)
		m.Entities = ents
		return m

	case protocol.OpInventory:
		items, err := w.Inventory(ctx)
		m := protocol.Response(req.ID, err)
		m.Items = items
		return m

	case protocol.OpEquip:
		if req.Item == nil {
			return badRequest(req.ID, "equip: missing item")
		}
		return protocol.Response(req.ID, w.Equip(ctx, *req.Item, req.Slot))

	case protocol.OpOpenContainer:
		if req.Pos == nil {
			return badRequest(req.ID, "open_container: missing pos")
		}
		c, err := w.OpenContainer(ctx, *req.Pos)
		m := protocol.Response(req.ID, err)
		if err == nil {
			m.Handle = uuid.NewString()
			sess.mu.Lock()
			sess.containers[m.Handle] = c
			sess.mu.Unlock()
		}
		return m

	case protocol.OpContainerItems:
		c, err := sess.container(req.Handle)
		if err != nil {
			return protocol.Response(req.ID, err)
		}
		items, err := c.Items(ctx)
		m := protocol.Response(req.ID, err)
		m.Items = items
		return m

	case protocol.OpContainerDeposit:
		if req.Item == nil {
			return badRequest(req.ID, "container_deposit: missing item")
		}
		c, err := sess.container(req.Handle)
		if err != nil {
			return protocol.Response(req.ID, err)
		}
		return protocol.Response(req.ID, c.Deposit(ctx, *req.Item))

	case protocol.OpContainerWithdraw:
		c, err := sess.container(req.Handle)
		if err != nil {
			return protocol.Response(req.ID, err)
		}
		it, err := c.Withdraw(ctx, req.Name, req.Count)
		m := protocol.Response(req.ID, err)
		if err == nil {
			m.Item = &it
		}
		return m

	case protocol.OpContainerClose:
		c, err := sess.container(req.Handle)
		if err != nil {
			return protocol.Response(req.ID, err)
		}
		sess.mu.Lock()
		delete(sess.containers, req.Handle)
		sess.mu.Unlock()
		return protocol.Response(req.ID, c.Close())

	case protocol.OpChat:
		return protocol.Response(req.ID, w.Chat(ctx, req.Text))

	default:
		return badRequest(req.ID, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
