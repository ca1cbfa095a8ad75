package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Maximum number of queued messages before dropping.
	sendBufferSize = 256

	// Rate limit: max messages per second per client.
	maxMessagesPerSecond = 10
)

// WSConfig holds WebSocket server configuration.
type WSConfig struct {
	WriteWait            time.Duration
	PongWait             time.Duration
	PingPeriod           time.Duration
	MaxMessageSize       int64
	SendBufferSize       int
	MaxMessagesPerSecond int
	AllowedOrigins       []string
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		WriteWait:            writeWait,
		PongWait:             pongWait,
		PingPeriod:           pingPeriod,
		MaxMessageSize:       maxMessageSize,
		SendBufferSize:       sendBufferSize,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		AllowedOrigins:       []string{"*"},
	}
}

// Subscriber is the part of NATSClient the hub consumes.
type Subscriber interface {
	Subscribe(subject string, handler func(*nats.Msg), opts ...nats.SubOpt) (*nats.Subscription, error)
}

// WSHub maintains the set of active clients and relays announcement events
// to them. Clients filter by category through topics.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan outbound
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	config     WSConfig
	logger     *slog.Logger
	source     Subscriber
	subs       []*nats.Subscription
	metrics    *WSMetrics
	upgrader   websocket.Upgrader
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
}

type outbound struct {
	data  []byte
	topic string
}

// WSMetrics holds WebSocket metrics.
type WSMetrics struct {
	ConnectionsTotal   atomic.Int64
	ConnectionsCurrent atomic.Int64
	MessagesSent       atomic.Int64
	MessagesReceived   atomic.Int64
	MessagesDropped    atomic.Int64
	Errors             atomic.Int64
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	ID           string
	hub          *WSHub
	conn         *websocket.Conn
	send         chan []byte
	topics       map[string]bool
	mu           sync.RWMutex
	lastMessage  time.Time
	messageCount int
}

// WSMessage represents a WebSocket message from/to clients.
type WSMessage struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWSHub creates a new WebSocket hub fed by source.
func NewWSHub(source Subscriber, cfg WSConfig, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		config:     cfg,
		logger:     logger.With("component", "websocket_hub"),
		source:     source,
		metrics:    &WSMetrics{},
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 || cfg.AllowedOrigins[0] == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Start subscribes to the announcements stream and runs the hub loop.
func (h *WSHub) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)

	if h.source != nil {
		sub, err := h.source.Subscribe(SubjectAll, h.handleEvent,
			nats.Durable("websocket-hub"),
			nats.DeliverNew(),
		)
		if err != nil {
			h.cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", SubjectAll, err)
		}
		if sub != nil {
			h.subs = append(h.subs, sub)
		}
	}

	go h.run(ctx)

	h.logger.Info("WebSocket hub started")
	return nil
}

// Stop gracefully stops the WebSocket hub.
func (h *WSHub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	h.stopOnce.Do(func() { close(h.done) })

	for _, sub := range h.subs {
		if err := sub.Drain(); err != nil {
			h.logger.Warn("failed to drain subscription", "error", err)
		}
	}

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*WSClient]bool)
	h.mu.Unlock()

	h.logger.Info("WebSocket hub stopped")
	return nil
}

func (h *WSHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.ConnectionsTotal.Add(1)
			h.metrics.ConnectionsCurrent.Add(1)
			h.logger.Debug("client registered", "client_id", client.ID, "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.ConnectionsCurrent.Add(-1)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.ID)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *WSHub) fanOut(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(msg.topic) {
			continue
		}
		select {
		case client.send <- msg.data:
			h.metrics.MessagesSent.Add(1)
		default:
			h.metrics.MessagesDropped.Add(1)
			h.logger.Debug("client buffer full, dropping message", "client_id", client.ID)
		}
	}
}

// handleEvent relays one stream message to the clients of its category.
func (h *WSHub) handleEvent(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		h.logger.Error("failed to unmarshal announcement event", "error", err)
		h.metrics.Errors.Add(1)
		return
	}
	h.relay(event)
}

// PublishEvent relays event to connected clients without going through the
// stream. It is used when NATS is not configured.
func (h *WSHub) PublishEvent(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	h.relay(event)
	return nil
}

func (h *WSHub) relay(event Event) {
	data, err := json.Marshal(WSMessage{
		Type:      "announcement." + string(event.Kind),
		Topic:     event.Category,
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("failed to marshal notification", "error", err)
		return
	}

	select {
	case h.broadcast <- outbound{data: data, topic: event.Category}:
	default:
		h.metrics.MessagesDropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "event_id", event.EventID)
	}
}

// HandleWebSocket upgrades the request and registers the client. The optional
// topics query parameter is a comma separated category filter.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		h.metrics.Errors.Add(1)
		return
	}

	client := &WSClient{
		ID:          uuid.New().String(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBufferSize),
		topics:      make(map[string]bool),
		lastMessage: time.Now(),
	}
	for _, topic := range splitTopics(r.URL.Query().Get("topics")) {
		client.topics[topic] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.logger.Info("new WebSocket client connected", "client_id", client.ID, "topics", len(client.topics))
}

func splitTopics(topics string) []string {
	var out []string
	for _, t := range strings.Split(topics, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// wants reports whether the client receives messages for topic. Clients
// without filters receive everything.
func (c *WSClient) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || topic == "" || c.topics[topic]
}

// Subscribe subscribes the client to a topic.
func (c *WSClient) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[strings.ToUpper(topic)] = true
}

// Unsubscribe unsubscribes the client from a topic.
func (c *WSClient) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, strings.ToUpper(topic))
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("client disconnected unexpectedly", "client_id", c.ID, "error", err)
			}
			return
		}

		c.hub.metrics.MessagesReceived.Add(1)

		now := time.Now()
		if now.Sub(c.lastMessage) < time.Second {
			c.messageCount++
			if c.messageCount > c.hub.config.MaxMessagesPerSecond {
				continue
			}
		} else {
			c.messageCount = 1
			c.lastMessage = now
		}

		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.logger.Debug("failed to unmarshal client message", "client_id", c.ID, "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Topic != "" {
			c.Subscribe(msg.Topic)
		}
	case "unsubscribe":
		if msg.Topic != "" {
			c.Unsubscribe(msg.Topic)
		}
	case "ping":
		data, _ := json.Marshal(WSMessage{Type: "pong", Timestamp: time.Now()})
		select {
		case c.send <- data:
		default:
		}
	default:
		c.hub.logger.Debug("unknown message type", "client_id", c.ID, "type", msg.Type)
	}
}

// Metrics returns current WebSocket metrics.
func (h *WSHub) Metrics() map[string]any {
	return map[string]any{
		"clients":             h.ClientCount(),
		"connections_total":   h.metrics.ConnectionsTotal.Load(),
		"connections_current": h.metrics.ConnectionsCurrent.Load(),
		"messages_sent":       h.metrics.MessagesSent.Load(),
		"messages_received":   h.metrics.MessagesReceived.Load(),
		"messages_dropped":    h.metrics.MessagesDropped.Load(),
		"errors":              h.metrics.Errors.Load(),
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
