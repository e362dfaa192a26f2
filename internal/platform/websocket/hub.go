// Package websocket pushes availability changes to subscribed clients and
// carries the request protocol over WebSocket text frames.
package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a notification frame sent to subscribers of Topic.
type Event struct {
	Type      string          `json:"event"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection known to the hub.
type Client struct {
	ID   string
	Send chan []byte

	// topics is guarded by the hub's mutex.
	topics map[string]struct{}
}

// NewClient creates a client with a send buffer of size buf.
func NewClient(id string, buf int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, buf),
		topics: make(map[string]struct{}),
	}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

// Unregister drops every subscription of c and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	c.topics = nil
	delete(h.all, c)
	close(c.Send)
}

// Subscribe adds topics to a registered client and returns its full
// subscription list.
func (h *Hub) Subscribe(c *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return nil
	}
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
	}
	return topicList(c)
}

func (h *Hub) Unsubscribe(c *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return nil
	}
	for _, topic := range topics {
		h.removeLocked(c, topic)
		delete(c.topics, topic)
	}
	return topicList(c)
}

func (h *Hub) removeLocked(c *Client, topic string) {
	subs, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, topic)
	}
}

// Publish sends an event to every subscriber of topic. Clients whose buffer
// is full miss the event.
func (h *Hub) Publish(topic, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event payload")
		return
	}
	frame, err := json.Marshal(Event{
		Type:      eventType,
		Topic:     topic,
		Timestamp: h.now().UTC(),
		Data:      payload,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients[topic] {
		select {
		case c.Send <- frame:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn().Str("topic", topic).Int("dropped", dropped).Msg("slow subscribers skipped")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func topicList(c *Client) []string {
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type clientKey struct{}

// WithClient attaches the calling WebSocket client to ctx so the
// subscribe actions can find it.
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the client attached by WithClient, or nil.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey{}).(*Client)
	return c
}
