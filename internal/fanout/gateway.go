package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/logging"
	"github.com/fntelecomllc/writepath/internal/trending"
)

// Gateway is the Fan-out Gateway hub: it tracks every locally-connected
// Client's room subscriptions and bridges Redis pub/sub so that a message
// published by any server instance (via an engine's publish call) reaches
// every instance's locally-subscribed clients exactly once.
type Gateway struct {
	kv  *kv.Client
	log *logging.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	stateLoader StateLoader

	upgrader websocket.Upgrader
}

// New returns a Gateway bridging pub/sub over kvClient. stateLoader may be
// nil, in which case subscribe requests skip STATE_SYNC.
func New(kvClient *kv.Client, stateLoader StateLoader) *Gateway {
	return &Gateway{
		kv:          kvClient,
		log:         logging.New("fanout"),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		stateLoader: stateLoader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is the caller's responsibility (CORS/auth
			// middleware in front of the upgrade handler); this package
			// only routes already-authenticated connections.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade upgrades an inbound HTTP request to a WebSocket connection using
// this gateway's configured Upgrader.
func (g *Gateway) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return g.upgrader.Upgrade(w, r, nil)
}

// Connect starts a client's pumps over an already-upgraded connection; it
// blocks until the client disconnects, so callers run it directly from an
// HTTP handler goroutine.
func (g *Gateway) Connect(ctx context.Context, conn *websocket.Conn, actorID string) {
	c := newClient(g, conn, actorID)
	g.register <- c
	go c.writePump()
	c.readPump(ctx)
}

// Run drives the register/unregister loop and must be started once as a
// goroutine before any client connects.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-g.register:
			g.mu.Lock()
			g.clients[c] = true
			g.mu.Unlock()
		case c := <-g.unregister:
			g.mu.Lock()
			if _, ok := g.clients[c]; ok {
				delete(g.clients, c)
				for room := range c.rooms {
					if set, ok := g.rooms[room]; ok {
						delete(set, c)
						if len(set) == 0 {
							delete(g.rooms, room)
						}
					}
				}
				close(c.send)
			}
			g.mu.Unlock()
		}
	}
}

func (g *Gateway) handleClientMessage(ctx context.Context, c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.log.Warn(ctx, "bad_client_message", map[string]interface{}{"client": c.id, "error": err.Error()})
		return
	}
	switch msg.Type {
	case "subscribe":
		g.subscribeClient(ctx, c, msg.Room)
	case "unsubscribe":
		g.unsubscribeClient(c, msg.Room)
	case "ping":
		c.deliver(marshalServerMessage("pong", "", nil))
	}
}

func (g *Gateway) subscribeClient(ctx context.Context, c *Client, room string) {
	if room == "" {
		return
	}
	g.mu.Lock()
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[*Client]bool)
	}
	g.rooms[room][c] = true
	g.mu.Unlock()
	c.subscribe(room)

	if g.stateLoader == nil {
		return
	}
	state, err := g.stateLoader.LoadState(ctx, room)
	if err != nil {
		g.log.Warn(ctx, "state_sync_failed", map[string]interface{}{"room": room, "error": err.Error()})
		return
	}
	if state == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		g.log.Warn(ctx, "state_sync_marshal_failed", map[string]interface{}{"room": room, "error": err.Error()})
		return
	}
	c.deliver(marshalServerMessage("STATE_SYNC", room, data))
}

func (g *Gateway) unsubscribeClient(c *Client, room string) {
	g.mu.Lock()
	if set, ok := g.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.rooms, room)
		}
	}
	g.mu.Unlock()
	c.unsubscribe(room)
}

// deliverLocal forwards a raw engine-published payload (already the
// flattened {"type":..., ...} object the envelope package produced) to
// every locally-subscribed client of room. Each instance with subscribers
// delivers once; non-subscribers drop, per spec.md §4.8's multi-instance
// consistency note.
func (g *Gateway) deliverLocal(room string, payload json.RawMessage) {
	g.mu.RLock()
	subs := g.rooms[room]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	frame := marshalServerMessage("event", room, payload)
	for _, c := range targets {
		c.deliver(frame)
	}
}

// PublishTrending implements trending.Publisher, delivering a recomputed
// snapshot to every client subscribed to its room.
func (g *Gateway) PublishTrending(ctx context.Context, snap trending.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	room := "trending:" + snap.Category
	g.publishAndDeliver(ctx, room, data)
	return nil
}

// publishAndDeliver publishes to the shared bus so that RunBridge — running
// in this instance as well as every other instance — forwards it back to
// local subscribers exactly once. With no kv configured (e.g. a gateway run
// without a bridge in tests) there is no other delivery path, so it falls
// back to a direct local delivery. Do not also deliverLocal here when kv is
// set: RunBridge's own PSubscribe receives this instance's publish and would
// deliver it a second time (see internal/reservation and internal/auction's
// publish helpers, which rely solely on the bridge for the same reason).
func (g *Gateway) publishAndDeliver(ctx context.Context, room string, payload json.RawMessage) {
	if g.kv == nil {
		g.deliverLocal(room, payload)
		return
	}
	if err := g.kv.Publish(ctx, room, payload); err != nil {
		g.log.Warn(ctx, "bridge_publish_failed", map[string]interface{}{"room": room, "error": err.Error()})
	}
}

// RunBridge subscribes to every room-family pattern and forwards inbound
// pub/sub messages to this instance's local subscribers. It must run once
// per process alongside Run. Engines publish directly via kv.Client.Publish
// (see internal/reservation, internal/auction); this bridge is what makes
// those publishes visible to clients connected to a *different* instance.
func (g *Gateway) RunBridge(ctx context.Context) {
	if g.kv == nil {
		return
	}
	pubsub := g.kv.Raw().PSubscribe(ctx, "resource:*", "auction:*", "trending:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			g.deliverLocal(msg.Channel, json.RawMessage(msg.Payload))
		}
	}
}

// Stats reports the number of locally-connected clients and rooms — used
// by a health/metrics endpoint.
func (g *Gateway) Stats() (clients, rooms int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients), len(g.rooms)
}

// staleAfter bounds how long a client may go without a pong before the
// heartbeat sweep drops it — longer than pingPeriod+pongWait so a single
// missed round trip doesn't flap a healthy connection.
const staleAfter = 2 * pongWait

// HeartbeatSweep is invoked on the session-heartbeat interval (default 30s
// per spec.md §5) to prune clients whose connection has gone stale without
// a clean close — readPump's own pong deadline already closes most of
// these, but a client that gets wedged between its pumps and the gateway's
// register channel needs this backstop.
func (g *Gateway) HeartbeatSweep(ctx context.Context) {
	now := time.Now()
	g.mu.RLock()
	stale := make([]*Client, 0)
	for c := range g.clients {
		last := time.Unix(0, atomic.LoadInt64(&c.lastSeen))
		if now.Sub(last) > staleAfter {
			stale = append(stale, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range stale {
		g.log.Warn(ctx, "heartbeat_sweep_drop", map[string]interface{}{"client": c.id})
		g.unregister <- c
	}
}
