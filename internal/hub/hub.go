// Package hub is the real-time WebSocket fan-out: connections are indexed by
// user and by subscribed ticker, writes to each connection are serialized
// through a single writer goroutine, and broadcasts are best-effort.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/stockd/pkg/models"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 64
	maxMessage    = 4096
)

// TokenVerifier resolves an access token to a user ID.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// Hub owns all live WebSocket connections. One readers-writer lock covers
// both the user index and the ticker index so the two never diverge.
type Hub struct {
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	conns    map[string]*connection
	byUser   map[string]map[string]*connection
	byTicker map[string]map[string]*connection
	closed   bool

	// writers counts live writer pumps so Shutdown can wait for them.
	writers sync.WaitGroup
}

// New constructs a hub.
func New(verifier TokenVerifier, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		verifier: verifier,
		logger:   logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients carry the access token in the query string, so
			// origin enforcement happens at the gateway CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:    make(map[string]*connection),
		byUser:   make(map[string]map[string]*connection),
		byTicker: make(map[string]map[string]*connection),
	}
}

// connection is one live client. subs is guarded by the hub lock; writes go
// through send and the writer pump only.
type connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	hub    *Hub
	subs   map[string]bool
	once   sync.Once
}

// ServeWS upgrades the request, authenticates the token query parameter, and
// runs the connection loops. It blocks until the connection ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID, err := h.verifier.VerifyAccess(r.URL.Query().Get("token"))
	if err != nil {
		// Per handshake contract: JSON error then a policy-violation close.
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = ws.WriteJSON(map[string]any{"type": "error", "message": "authentication failed"})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeTimeout))
		_ = ws.Close()
		return
	}

	conn := &connection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		hub:    h,
		subs:   make(map[string]bool),
	}
	if !h.register(conn) {
		_ = ws.Close()
		return
	}

	h.logger.Info("connection opened", "connection_id", conn.id, "user_id", userID)
	conn.enqueueJSON(map[string]any{
		"type":          "connected",
		"connection_id": conn.id,
		"timestamp":     time.Now(),
	})

	h.writers.Add(1)
	go func() {
		defer h.writers.Done()
		conn.writePump()
	}()
	conn.readPump()
}

// register indexes the connection; it refuses new connections after Shutdown.
func (h *Hub) register(conn *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn.id] = conn
	if h.byUser[conn.userID] == nil {
		h.byUser[conn.userID] = make(map[string]*connection)
	}
	h.byUser[conn.userID][conn.id] = conn
	return true
}

// unregister removes the connection from every index. Safe to call more than
// once; the caller serializes through connection.once.
func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.id)
	if peers := h.byUser[conn.userID]; peers != nil {
		delete(peers, conn.id)
		if len(peers) == 0 {
			delete(h.byUser, conn.userID)
		}
	}
	for ticker := range conn.subs {
		if subscribers := h.byTicker[ticker]; subscribers != nil {
			delete(subscribers, conn.id)
			if len(subscribers) == 0 {
				delete(h.byTicker, ticker)
			}
		}
	}
}

// subscribe adds the connection to each ticker's index.
func (h *Hub) subscribe(conn *connection, tickers []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ticker := range tickers {
		if ticker == "" {
			continue
		}
		conn.subs[ticker] = true
		if h.byTicker[ticker] == nil {
			h.byTicker[ticker] = make(map[string]*connection)
		}
		h.byTicker[ticker][conn.id] = conn
	}
}

// unsubscribe removes the connection from each ticker's index.
func (h *Hub) unsubscribe(conn *connection, tickers []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ticker := range tickers {
		delete(conn.subs, ticker)
		if subscribers := h.byTicker[ticker]; subscribers != nil {
			delete(subscribers, conn.id)
			if len(subscribers) == 0 {
				delete(h.byTicker, ticker)
			}
		}
	}
}

// Tickers returns every ticker with at least one subscriber.
func (h *Hub) Tickers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byTicker))
	for ticker := range h.byTicker {
		out = append(out, ticker)
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BroadcastPriceUpdate sends a price_update to every subscriber of the
// ticker and returns the number of connections the message was queued for.
// Broadcasts are best-effort; slow consumers are dropped, not waited on.
func (h *Hub) BroadcastPriceUpdate(ticker string, snapshot *models.PriceSnapshot) int {
	payload, err := json.Marshal(map[string]any{
		"type":           "price_update",
		"ticker":         ticker,
		"price":          snapshot.Price,
		"change":         snapshot.Change,
		"change_percent": snapshot.ChangePercent,
		"volume":         snapshot.Volume,
		"timestamp":      snapshot.Timestamp,
	})
	if err != nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.byTicker[ticker]))
	for _, conn := range h.byTicker[ticker] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// SendNotification sends a notification message to every live connection of
// the user and returns the number reached.
func (h *Hub) SendNotification(userID string, notification *models.Notification) int {
	payload, err := json.Marshal(map[string]any{
		"type":         "notification",
		"notification": notification,
		"timestamp":    time.Now(),
	})
	if err != nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.byUser[userID]))
	for _, conn := range h.byUser[userID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Shutdown closes every connection with a normal-closure code, stops
// accepting new ones, and waits for the writer pumps to drain, bounded
// by ctx.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	targets := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeTimeout))
		conn.teardown()
	}
	drained := make(chan struct{})
	go func() {
		h.writers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		h.logger.Warn("hub shutdown abandoned writer pumps", "error", ctx.Err())
	}
	h.logger.Info("hub shut down", "connections_closed", len(targets))
}

// inboundMessage is the client-to-server frame shape.
type inboundMessage struct {
	Action  string   `json:"action"`
	Tickers []string `json:"tickers,omitempty"`
}

// readPump consumes client frames until the connection dies.
func (c *connection) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueueJSON(map[string]any{"type": "error", "message": "malformed message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.hub.subscribe(c, msg.Tickers)
			c.enqueueJSON(map[string]any{"type": "subscribed", "tickers": msg.Tickers})
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.Tickers)
			c.enqueueJSON(map[string]any{"type": "unsubscribed", "tickers": msg.Tickers})
		case "ping":
			c.enqueueJSON(map[string]any{"type": "pong", "timestamp": time.Now()})
		default:
			c.enqueueJSON(map[string]any{"type": "error", "message": "unknown action"})
		}
	}
}

// writePump is the single writer for the connection; it serializes all
// outbound frames and emits protocol pings.
func (c *connection) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.teardown()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame for the writer pump. A full queue means the client
// cannot keep up; the connection is torn down rather than blocking the
// broadcaster.
func (c *connection) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		go c.teardown()
		return false
	}
}

func (c *connection) enqueueJSON(v map[string]any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

// teardown cleans up indexes and closes the socket exactly once.
func (c *connection) teardown() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.ws.Close()
		c.hub.logger.Info("connection closed", "connection_id", c.id, "user_id", c.userID)
	})
}
