// Package fanout implements the Fan-out Gateway (spec.md §4.8): the
// WebSocket layer delivering RRE, ABSM, and TKWC updates to subscribed
// clients, backed by a Redis pub/sub bridge so multiple server instances
// stay consistent.
package fanout

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/writepath/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// StateLoader fetches the current snapshot for a freshly subscribed room so
// a client that connects mid-session sees STATE_SYNC immediately rather
// than waiting for the next write, per spec.md §4.8.
type StateLoader interface {
	LoadState(ctx context.Context, room string) (interface{}, error)
}

// Client is a single WebSocket connection and the set of rooms it has
// subscribed to.
type Client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	actorID string

	lastSeen int64 // unix nanos, set atomically on every pong

	mu    sync.RWMutex
	rooms map[string]bool

	log *logging.Logger
}

func newClient(gateway *Gateway, conn *websocket.Conn, actorID string) *Client {
	return &Client{
		id:       uuid.NewString(),
		gateway:  gateway,
		conn:     conn,
		send:     make(chan []byte, 256),
		actorID:  actorID,
		rooms:    make(map[string]bool),
		lastSeen: time.Now().UnixNano(),
		log:      logging.New("fanout_client"),
	}
}

func (c *Client) isSubscribed(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[room]
}

func (c *Client) subscribe(room string) {
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Client) roomList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// readPump pumps subscribe/unsubscribe control messages from the
// connection into the gateway, until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.gateway.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		atomic.StoreInt64(&c.lastSeen, time.Now().UnixNano())
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn(ctx, "read_error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}
		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))
		c.gateway.handleClientMessage(ctx, c, raw)
	}
}

// writePump pumps outbound frames and periodic pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver enqueues message for this client, dropping the client if its
// outbound buffer is full — a slow consumer must not block the gateway.
func (c *Client) deliver(message []byte) {
	select {
	case c.send <- message:
	default:
		c.gateway.unregister <- c
	}
}
