// Package realtime pushes analysis-request updates and new trading
// signals to websocket subscribers. The hub is the live-subscription
// side of the pipeline: the persisted record is the source of truth,
// the hub only mirrors its changes out.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/pkg/logger"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers send the dashboard origin; same-origin policy is handled
	// upstream by the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the wire format for every outbound message
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// subscription is an inbound client message
type subscription struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// client is one connected websocket
type client struct {
	conn *websocket.Conn
	send chan Envelope

	mu       sync.Mutex
	requests map[string]bool
	signals  bool
}

func (c *client) wants(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[requestID]
}

func (c *client) wantsSignals() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signals
}

// Hub fans out pipeline events to subscribed clients. It implements
// contracts.Notifier so the pipeline and scanner stay unaware of
// websockets.
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[*client]bool),
	}
}

// RequestUpdated pushes a request's current state to every client
// subscribed to its id
func (h *Hub) RequestUpdated(req *contracts.AnalysisRequest) {
	h.broadcast(Envelope{Type: "request_update", Payload: req}, func(c *client) bool {
		return c.wants(req.ID)
	})
}

// SignalCreated pushes a new signal to every signal-feed subscriber
func (h *Hub) SignalCreated(signal *contracts.TradingSignal) {
	h.broadcast(Envelope{Type: "signal", Payload: signal}, func(c *client) bool {
		return c.wantsSignals()
	})
}

func (h *Hub) broadcast(env Envelope, match func(*client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- env:
		default:
			// Slow consumer, drop the message instead of blocking the
			// pipeline.
			h.logger.Warn("Dropping realtime message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the connection until the
// client goes away
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan Envelope, sendBufferSize),
		requests: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var sub subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			continue
		}

		c.mu.Lock()
		switch sub.Type {
		case "subscribe":
			if sub.RequestID != "" {
				c.requests[sub.RequestID] = true
			}
		case "unsubscribe":
			delete(c.requests, sub.RequestID)
		case "subscribe_signals":
			c.signals = true
		case "unsubscribe_signals":
			c.signals = false
		}
		c.mu.Unlock()
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
