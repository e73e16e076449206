package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub maintains the set of active clients and fans messages out by topic.
type Hub struct {
	name   string
	logger *slog.Logger

	// Owned by Run.
	clients map[*Client]struct{}
	last    map[string]Message

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	closeTopic chan string

	mu     sync.RWMutex
	counts map[string]int

	running atomic.Bool
	done    chan struct{}
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		last:       make(map[string]Message),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		closeTopic: make(chan string, 16),
		counts:     make(map[string]int),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx ends. Every client
// is disconnected on the way out.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count(c.topic, 1)
			if m, ok := h.last[c.topic]; ok {
				c.send <- m
			}
			h.logger.Debug("client connected", "topic", c.topic, "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("client disconnected", "topic", c.topic, "remaining", len(h.clients))
			}

		case topic := <-h.closeTopic:
			delete(h.last, topic)
			for c := range h.clients {
				if c.topic == topic {
					h.drop(c)
				}
			}

		case e := <-h.broadcast:
			h.last[e.topic] = e.msg
			for c := range h.clients {
				if c.topic != e.topic {
					continue
				}
				select {
				case c.send <- e.msg:
				default:
					// Too slow; the client reconnects and gets the latest.
					h.drop(c)
					h.logger.Warn("dropped slow client", "topic", c.topic)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count(c.topic, -1)
}

func (h *Hub) count(topic string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[topic] += delta
	if h.counts[topic] <= 0 {
		delete(h.counts, topic)
	}
}

// Publish queues msg for topic. It never blocks; when the queue is full
// the message is dropped.
func (h *Hub) Publish(topic string, msg Message) {
	select {
	case h.broadcast <- envelope{topic: topic, msg: msg}:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "topic", topic)
	}
}

// PublishJSON encodes v and publishes it.
func (h *Hub) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(topic, NewJSONMessage(data))
	return nil
}

// CloseTopic disconnects the topic's clients and forgets its last message.
func (h *Hub) CloseTopic(topic string) {
	select {
	case h.closeTopic <- topic:
	case <-h.done:
	}
}

// ClientCount returns the number of clients following topic, or all
// clients when topic is empty.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if topic != "" {
		return h.counts[topic]
	}
	n := 0
	for _, c := range h.counts {
		n += c
	}
	return n
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
