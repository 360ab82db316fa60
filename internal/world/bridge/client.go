// Package bridge implements world.World over a websocket connection to a
// world server. Requests are JSON RPCs matched to responses by id; the server
// also pushes world events (chat, spawn, errors) on the same connection.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"craftbot.ai/internal/protocol"
	"craftbot.ai/internal/world"
)

type Config struct {
	// URL is the server's bridge endpoint, e.g. ws://localhost:25565/v1/bridge.
	URL      string
	Username string
	// Reconnect keeps redialing with backoff after the connection drops.
	// Without it the event stream ends with the first disconnect.
	Reconnect bool
	// RequestTimeout bounds every request except navigation, which is
	// bounded by its caller's context.
	RequestTimeout time.Duration
	Logger         *log.Logger
}

type Client struct {
	cfg Config
	log *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastErr   string
	pending   map[string]chan protocol.Message

	writeMu sync.Mutex
	seq     atomic.Uint64

	events chan world.Event

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ world.World = (*Client)(nil)

// Dial connects once and starts the read loop. The first connection must
// succeed; later drops are handled per Config.Reconnect.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: map[string]chan protocol.Message{},
		events:  make(chan world.Event, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}
	q := u.Query()
	q.Set("username", c.cfg.Username)
	q.Set("v", protocol.Version)
	u.RawQuery = q.Encode()

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = conn != nil
	if conn != nil {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

// Close stops the client and closes the event stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.dropConn()
		<-c.done
	})
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)

	backoff := 200 * time.Millisecond
	for {
		ended, err := c.readLoop(conn)
		c.dropConn()
		c.failPending()

		select {
		case <-c.stop:
			return
		default:
		}
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.logf("[bridge] connection lost: %v", err)
		if !ended {
			c.push(world.Event{Kind: world.EventEnd, Message: "Bot disconnected"})
		}
		if !c.cfg.Reconnect {
			return
		}

		for {
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			next, err := c.dial(ctx)
			cancel()
			if err != nil {
				c.logf("[bridge] reconnect: %v", err)
				continue
			}
			conn = next
			c.setConn(conn)
			backoff = 200 * time.Millisecond
			c.logf("[bridge] reconnected")
			break
		}
	}
}

// readLoop reports whether the server announced the end of the session
// before the connection went away.
func (c *Client) readLoop(conn *websocket.Conn) (bool, error) {
	ended := false
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return ended, err
		}
		var msg protocol.Message
		if err := json.Unmarshal(b, &msg); err != nil {
			c.logf("[bridge] bad message: %v", err)
			continue
		}
		switch msg.Type {
		case protocol.TypeEvent:
			if msg.Event != nil {
				ended = ended || msg.Event.Kind == world.EventEnd
				c.push(*msg.Event)
			}
		case protocol.TypeResponse:
			c.mu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		}
	}
}

// push never stalls the read loop, since the event consumer may itself be
// waiting on a response. Only the end event blocks.
func (c *Client) push(ev world.Event) {
	if ev.Kind == world.EventEnd {
		select {
		case c.events <- ev:
		case <-c.stop:
		}
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logf("[bridge] event queue full, dropped %s", ev.Kind)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan protocol.Message{}
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- protocol.Message{
			Type:  protocol.TypeResponse,
			ID:    id,
			Error: &protocol.ErrorInfo{Code: protocol.ErrDisconnected, Message: "connection lost"},
		}
	}
}

func (c *Client) call(ctx context.Context, req protocol.Request) (protocol.Message, error) {
	if req.Op != protocol.OpMoveTo {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	req.ID = strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan protocol.Message, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("%s: %w", req.Op, world.ErrDisconnected)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(conn, req); err != nil {
		c.forget(req.ID)
		return protocol.Message{}, fmt.Errorf("%s: %v: %w", req.Op, err, world.ErrDisconnected)
	}

	select {
	case msg := <-ch:
		if !msg.OK {
			if msg.Error == nil {
				return msg, fmt.Errorf("%s: request failed", req.Op)
			}
			return msg, protocol.WorldError(msg.Error)
		}
		return msg, nil
	case <-ctx.Done():
		c.forget(req.ID)
		// Navigation keeps running server-side until cancelled.
		_ = c.write(conn, protocol.Request{ID: req.ID + "-cancel", Op: protocol.OpCancel, Name: req.ID})
		return protocol.Message{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

// --- world.World ---

func (c *Client) Self(ctx context.Context) (world.Self, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpSelf})
	if err != nil {
		return world.Self{}, err
	}
	if msg.Self == nil {
		return world.Self{}, errors.New("self: empty response")
	}
	return *msg.Self, nil
}

func (c *Client) BlockAt(ctx context.Context, pos world.Vec3i) (world.Block, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpBlockAt, Pos: &pos})
	if err != nil {
		return world.Block{}, err
	}
	if msg.Block == nil {
		return world.Block{Pos: pos, Name: "air"}, nil
	}
	return *msg.Block, nil
}

func (c *Client) MoveTo(ctx context.Context, goal world.Goal) error {
	_, err := c.call(ctx, protocol.Request{Op: protocol.OpMoveTo, Goal: &goal})
	return err
}

func (c *Client) PerformAction(ctx context.Context, kind world.ActionKind, target world.Target) error {
	_, err := c.call(ctx, protocol.Request{Op: protocol.OpAction, Action: kind, Target: &target})
	return err
}

// QueryBlocks fetches every non-air block in range and filters locally.
func (c *Client) QueryBlocks(ctx context.Context, match world.BlockPredicate, radius int) ([]world.Block, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpQueryBlocks, Radius: radius})
	if err != nil {
		return nil, err
	}
	var out []world.Block
	for _, b := range msg.Blocks {
		if match == nil || match(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Client) QueryEntities(ctx context.Context, match world.EntityPredicate) ([]world.Entity, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpQueryEntities})
	if err != nil {
		return nil, err
	}
	var out []world.Entity
	for _, e := range msg.Entities {
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *Client) Inventory(ctx context.Context) ([]world.Item, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpInventory})
	if err != nil {
		return nil, err
	}
	return msg.Items, nil
}

func (c *Client) Equip(ctx context.Context, item world.Item, slot world.Slot) error {
	_, err := c.call(ctx, protocol.Request{Op: protocol.OpEquip, Item: &item, Slot: slot})
	return err
}

func (c *Client) OpenContainer(ctx context.Context, pos world.Vec3i) (world.Container, error) {
	msg, err := c.call(ctx, protocol.Request{Op: protocol.OpOpenContainer, Pos: &pos})
	if err != nil {
		return nil, err
	}
	if msg.Handle == "" {
		return nil, fmt.Errorf("open %s: no handle: %w", pos, world.ErrRejected)
	}
	return &container{c: c, handle: msg.Handle}, nil
}

func (c *Client) Chat(ctx context.Context, text string) error {
	_, err := c.call(ctx, protocol.Request{Op: protocol.OpChat, Text: text})
	return err
}

// Events is closed when the client closes, or after the first disconnect
// when reconnecting is off.
func (c *Client) Events() <-chan world.Event { return c.events }

type container struct {
	c      *Client
	handle string
}

func (k *container) Items(ctx context.Context) ([]world.Item, error) {
	msg, err := k.c.call(ctx, protocol.Request{Op: protocol.OpContainerItems, Handle: k.handle})
	if err != nil {
		return nil, err
	}
	return msg.Items, nil
}

func (k *container) Deposit(ctx context.Context, item world.Item) error {
	_, err := k.c.call(ctx, protocol.Request{Op: protocol.OpContainerDeposit, Handle: k.handle, Item: &item})
	return err
}

func (k *container) Withdraw(ctx context.Context, name string, count int) (world.Item, error) {
	msg, err := k.c.call(ctx, protocol.Request{Op: protocol.OpContainerWithdraw, Handle: k.handle, Name: name, Count: count})
	if err != nil {
		return world.Item{}, err
	}
	if msg.Item == nil {
		return world.Item{}, fmt.Errorf("withdraw %s: %w", name, world.ErrGone)
	}
	return *msg.Item, nil
}

func (k *container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := k.c.call(ctx, protocol.Request{Op: protocol.OpContainerClose, Handle: k.handle})
	return err
}
