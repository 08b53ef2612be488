// Package ws bridges the Redis signal bus to WebSocket clients so frontends
// can watch an order's broadcast or cancellation progress live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// backfillCount caps how many lifecycle-stream events are replayed to a
	// client on connect.
	backfillCount = 100

	// backfillWait bounds the stream read on connect.
	backfillWait = 5 * time.Second
)

// progressPattern matches every per-order progress channel published by the
// service notifier.
const progressPattern = "order:*:progress"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks happen in the CORS middleware.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	all  bool           // subscribed to every order
	subs map[int64]bool // subscribed order ids
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage which orders it
// watches. {"action":"subscribe","orders":[12,15]} or
// {"action":"subscribe","all":true}.
type subscribeMsg struct {
	Action string  `json:"action"` // "subscribe" or "unsubscribe"
	Orders []int64 `json:"orders"`
	All    bool    `json:"all"`
}

// Hub manages connected WebSocket clients and fans order-progress events from
// the Redis signal bus out to the clients watching each order.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries an event along with the order it belongs to so the hub
// routes it only to clients watching that order.
type broadcastMsg struct {
	orderID int64
	data    []byte
}

// NewHub creates a hub bridging the given signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws.hub")),
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and event fan-out. The loop
// exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.consumeProgress(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.watches(msg.orderID) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the event.
						h.logger.Warn("dropping event for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// consumeProgress holds one pattern subscription covering every per-order
// progress channel and feeds received events into the broadcast loop.
func (h *Hub) consumeProgress(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, progressPattern)
	if err != nil {
		h.logger.Error("progress subscription failed",
			slog.String("pattern", progressPattern),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("subscribed to order progress", slog.String("pattern", progressPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("progress subscription closed")
				return
			}
			// Every event the notifier publishes carries its order id.
			id := eventOrderID(data)
			if id == 0 {
				continue
			}
			h.broadcast <- broadcastMsg{orderID: id, data: data}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. An optional ?order=<id> query parameter seeds the
// subscription; without it the client watches all orders until it sends a
// subscribe message.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[int64]bool),
	}

	if raw := r.URL.Query().Get("order"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			c.subs[id] = true
		}
	} else {
		c.all = true
	}

	h.register <- c
	c.sendHello()

	// Clients watching specific orders get the lifecycle replayed so steps
	// emitted before the socket opened are not lost. Watch-all clients start
	// from live events only.
	if !c.all {
		ctx, cancel := context.WithTimeout(r.Context(), backfillWait)
		h.backfill(ctx, c)
		cancel()
	}

	go c.writePump()
	go c.readPump()
}

// backfill replays recent lifecycle-stream events matching the client's
// subscriptions into its send buffer. A bus outage degrades to live events
// only.
func (h *Hub) backfill(ctx context.Context, c *client) {
	msgs, err := h.bus.StreamRead(ctx, service.LifecycleStream, "0-0", backfillCount)
	if err != nil {
		h.logger.Warn("lifecycle backfill failed", slog.String("error", err.Error()))
		return
	}

	for _, msg := range msgs {
		id := eventOrderID(msg.Payload)
		if id == 0 || !c.watches(id) {
			continue
		}
		select {
		case c.send <- msg.Payload:
		default:
			return
		}
	}
}

// eventOrderID extracts the order id an event belongs to. Every event the
// notifier emits carries one; 0 means the payload is not routable.
func eventOrderID(data []byte) int64 {
	var env struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return 0
	}
	return env.OrderID
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if msg.All {
			c.all = true
			return
		}
		for _, id := range msg.Orders {
			c.subs[id] = true
		}
	case "unsubscribe":
		if msg.All {
			c.all = false
			return
		}
		for _, id := range msg.Orders {
			delete(c.subs, id)
		}
	}
}

// sendHello pushes a small JSON envelope so clients can immediately mark the
// connection as healthy even before any order events flow.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "connected",
		"payload": map[string]any{
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// watches checks whether the client should receive events for the order.
func (c *client) watches(orderID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.subs[orderID]
}

// writePump pumps events from the hub to the WebSocket connection as JSON
// text frames and sends periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
