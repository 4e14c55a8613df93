// Package events implements the in-process fan-out hub that pushes archive
// activity to live listeners.
//
// The hub is transport agnostic: listeners register a Sender and the
// connection layer (websockets in the API package) adapts its transport to
// that interface. Topics are dot-separated strings and subscriptions are
// glob patterns over them, restricted to an allow-listed set of roots.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"arkived/internal/logger"
	"arkived/pkg/archive"
)

// DefaultAllowedPrefixes are the topic roots listeners may subscribe under.
var DefaultAllowedPrefixes = []string{"files.", "jobs.", "system.", "backup.", "memory."}

// Message is one frame delivered to a listener.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender delivers messages to a single listener. A Send error marks the
// listener dead and the hub drops it.
type Sender interface {
	Send(msg *Message) error
}

// Stats is a point-in-time snapshot of hub activity.
type Stats struct {
	TotalConnections  int64            `json:"total_connections"`
	ActiveConnections int              `json:"active_connections"`
	MessagesSent      int64            `json:"messages_sent"`
	MessagesReceived  int64            `json:"messages_received"`
	Errors            int64            `json:"errors"`
	ByTopic           map[string]int64 `json:"by_topic"`
	ByOrigin          map[string]int64 `json:"by_origin"`
}

type connection struct {
	id     string
	origin string
	sender Sender

	mu       sync.Mutex
	patterns map[string]glob.Glob
}

func (c *connection) matches(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.patterns {
		if g.Match(topic) {
			return true
		}
	}
	return false
}

// Hub fans published events out to subscribed connections.
type Hub struct {
	allowedPrefixes []string

	mu    sync.RWMutex
	conns map[string]*connection

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	errors           atomic.Int64

	countMu  sync.Mutex
	byTopic  map[string]int64
	byOrigin map[string]int64
}

// NewHub creates a hub. An empty prefix list falls back to
// DefaultAllowedPrefixes.
func NewHub(allowedPrefixes []string) *Hub {
	if len(allowedPrefixes) == 0 {
		allowedPrefixes = DefaultAllowedPrefixes
	}
	return &Hub{
		allowedPrefixes: allowedPrefixes,
		conns:           make(map[string]*connection),
		byTopic:         make(map[string]int64),
		byOrigin:        make(map[string]int64),
	}
}

// Connect registers a listener with no subscriptions and immediately sends
// it a handshake carrying the assigned id and server time.
func (h *Hub) Connect(sender Sender, origin string) (string, error) {
	id := uuid.NewString()
	conn := &connection{
		id:       id,
		origin:   origin,
		sender:   sender,
		patterns: make(map[string]glob.Glob),
	}

	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()

	h.totalConnections.Add(1)
	h.countMu.Lock()
	h.byOrigin[origin]++
	h.countMu.Unlock()

	handshake := &Message{
		Type: "connected",
		Data: map[string]any{
			"connection_id": id,
			"server_time":   time.Now().Format(time.RFC3339),
		},
		Timestamp: time.Now(),
	}
	if err := sender.Send(handshake); err != nil {
		h.dropConnection(id)
		return "", fmt.Errorf("handshake delivery failed: %w", err)
	}
	h.messagesSent.Add(1)

	logger.Debug("Listener %s connected from %s", id, origin)
	return id, nil
}

// Subscribe replaces the connection's subscription set with the given
// patterns. If any pattern falls outside the allowed roots or fails to
// compile, the whole request is rejected, the existing set is untouched,
// and an error frame is delivered to that listener.
func (h *Hub) Subscribe(id string, topics []string) error {
	conn := h.lookup(id)
	if conn == nil {
		return fmt.Errorf("connection %s: %w", id, archive.ErrNotFound)
	}

	compiled := make(map[string]glob.Glob, len(topics))
	for _, topic := range topics {
		if !h.topicAllowed(topic) {
			err := archive.NewValidationError("topics", fmt.Sprintf("topic %q is outside the allowed prefixes", topic))
			h.sendError(conn, err.Error())
			return err
		}
		g, cerr := glob.Compile(topic)
		if cerr != nil {
			err := archive.NewValidationError("topics", fmt.Sprintf("topic %q is not a valid pattern", topic))
			h.sendError(conn, err.Error())
			return err
		}
		compiled[topic] = g
	}

	conn.mu.Lock()
	conn.patterns = compiled
	conn.mu.Unlock()

	h.sendTo(conn, &Message{
		Type:      "subscribed",
		Data:      map[string]any{"topics": topics},
		Timestamp: time.Now(),
	})
	return nil
}

// Unsubscribe removes the given patterns, or every pattern when topics is
// empty.
func (h *Hub) Unsubscribe(id string, topics []string) error {
	conn := h.lookup(id)
	if conn == nil {
		return fmt.Errorf("connection %s: %w", id, archive.ErrNotFound)
	}

	conn.mu.Lock()
	if len(topics) == 0 {
		conn.patterns = make(map[string]glob.Glob)
	} else {
		for _, topic := range topics {
			delete(conn.patterns, topic)
		}
	}
	remaining := make([]string, 0, len(conn.patterns))
	for topic := range conn.patterns {
		remaining = append(remaining, topic)
	}
	conn.mu.Unlock()

	h.sendTo(conn, &Message{
		Type:      "unsubscribed",
		Data:      map[string]any{"topics": remaining},
		Timestamp: time.Now(),
	})
	return nil
}

// Publish delivers the event to every connection with a matching
// subscription. Delivery is fire-and-forget per connection: a failed send
// drops only that listener and is counted as an error.
func (h *Hub) Publish(topic string, payload map[string]any) {
	h.countMu.Lock()
	h.byTopic[topic]++
	h.countMu.Unlock()

	msg := &Message{
		Type:      "event",
		Data:      map[string]any{"topic": topic, "payload": payload},
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		if conn.matches(topic) {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.sender.Send(msg); err != nil {
			h.errors.Add(1)
			h.dropConnection(conn.id)
			logger.Warn("Dropping listener %s after failed delivery: %v", conn.id, err)
			continue
		}
		h.messagesSent.Add(1)
	}
}

// Disconnect deregisters the listener and releases its subscriptions.
func (h *Hub) Disconnect(id string) {
	if h.dropConnection(id) {
		logger.Debug("Listener %s disconnected", id)
	}
}

// RecordReceived counts an inbound frame from a listener. The transport
// layer calls it for every client message it reads.
func (h *Hub) RecordReceived() {
	h.messagesReceived.Add(1)
}

// Stats snapshots hub counters without pausing delivery.
func (h *Hub) Stats() *Stats {
	h.mu.RLock()
	active := len(h.conns)
	h.mu.RUnlock()

	h.countMu.Lock()
	byTopic := make(map[string]int64, len(h.byTopic))
	for k, v := range h.byTopic {
		byTopic[k] = v
	}
	byOrigin := make(map[string]int64, len(h.byOrigin))
	for k, v := range h.byOrigin {
		byOrigin[k] = v
	}
	h.countMu.Unlock()

	return &Stats{
		TotalConnections:  h.totalConnections.Load(),
		ActiveConnections: active,
		MessagesSent:      h.messagesSent.Load(),
		MessagesReceived:  h.messagesReceived.Load(),
		Errors:            h.errors.Load(),
		ByTopic:           byTopic,
		ByOrigin:          byOrigin,
	}
}

func (h *Hub) lookup(id string) *connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

func (h *Hub) dropConnection(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return false
	}
	delete(h.conns, id)
	return true
}

func (h *Hub) topicAllowed(topic string) bool {
	for _, prefix := range h.allowedPrefixes {
		if len(topic) >= len(prefix) && topic[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (h *Hub) sendError(conn *connection, detail string) {
	h.sendTo(conn, &Message{
		Type:      "error",
		Data:      map[string]any{"message": detail},
		Timestamp: time.Now(),
	})
}

func (h *Hub) sendTo(conn *connection, msg *Message) {
	if err := conn.sender.Send(msg); err != nil {
		h.errors.Add(1)
		h.dropConnection(conn.id)
		return
	}
	h.messagesSent.Add(1)
}
