package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomleader/internal/broadcast"
)

const sendBuffer = 32

// ClientMessage is the JSON envelope received from clients.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID     string
	RoomID string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
	pubsub *redis.PubSub
}

func NewClient(conn *websocket.Conn, roomID, userID string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		RoomID: roomID,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Enqueue queues a frame without blocking. It reports false when the client
// is closed or its buffer is full, in which case the frame is dropped.
func (c *Client) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Deliver encodes msg and queues it for this client only.
func (c *Client) Deliver(msg broadcast.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "wshub").Str("type", msg.Type).Msg("marshal message")
		return false
	}
	return c.Enqueue(data)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.pubsub != nil {
		c.pubsub.Close()
	}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Subscriber attaches a connection to its room and user topics.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID, userID string) *redis.PubSub
}

// Hub tracks the connections served by this instance and relays topic
// messages to them.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	sub         Subscriber
	connections prometheus.Gauge
}

func NewHub(sub Subscriber, connections prometheus.Gauge) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		sub:         sub,
		connections: connections,
	}
}

// Register subscribes the client to its topics and starts relaying. It
// returns once the subscriptions are confirmed so no later publish is missed.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	ps := h.sub.Subscribe(ctx, c.RoomID, c.UserID)
	for range 2 {
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return fmt.Errorf("subscribing to topics: %w", err)
		}
	}
	c.mu.Lock()
	c.pubsub = ps
	c.mu.Unlock()

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	if h.connections != nil {
		h.connections.Inc()
	}

	go h.relay(c, ps.Channel())
	return nil
}

func (h *Hub) relay(c *Client, ch <-chan *redis.Message) {
	for msg := range ch {
		if !c.Enqueue([]byte(msg.Payload)) {
			log.Debug().Str("module", "wshub").Str("room", c.RoomID).Str("user", c.UserID).Msg("dropped message for slow client")
		}
	}
}

// Unregister stops relaying and closes the client's Send channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		c.close()
		if h.connections != nil {
			h.connections.Dec()
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll tells every client the server is going away.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.Conn != nil {
			c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
