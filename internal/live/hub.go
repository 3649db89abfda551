package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthview/tours-api/internal/models"
)

// Subscription is one connected client's view of a topic stream.
type Subscription struct {
	ID     string
	Topic  models.Topic
	Events <-chan models.LiveEvent
}

// Hub is a per-topic broadcast registry. Connections are tracked by id with
// explicit add/remove; delivery is at-most-once per connection and slow
// subscribers are dropped rather than blocking the publisher.
type Hub struct {
	mu       sync.RWMutex
	topics   map[models.Topic]map[string]chan models.LiveEvent
	lastSeen map[models.Topic]string
	buffer   int
	interval time.Duration
	logger   *zap.Logger
}

// NewHub constructs a hub serving the standard topics.
func NewHub(heartbeat time.Duration, buffer int, logger *zap.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topics := make(map[models.Topic]map[string]chan models.LiveEvent, len(models.Topics))
	for _, t := range models.Topics {
		topics[t] = make(map[string]chan models.LiveEvent)
	}

	return &Hub{
		topics:   topics,
		lastSeen: make(map[models.Topic]string, len(models.Topics)),
		buffer:   buffer,
		interval: heartbeat,
		logger:   logger,
	}
}

// Subscribe registers a new connection on a topic. The returned subscription
// immediately receives a connected event carrying the client count.
func (h *Hub) Subscribe(topic models.Topic) (*Subscription, error) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("unknown topic %q", topic)
	}

	id := uuid.NewString()
	ch := make(chan models.LiveEvent, h.buffer)
	subs[id] = ch
	count := len(subs)
	h.mu.Unlock()

	ch <- models.LiveEvent{
		Type:      models.EventConnected,
		Data:      models.EventPayload{ConnectedClients: count},
		Timestamp: time.Now().UTC(),
	}

	return &Subscription{ID: id, Topic: topic, Events: ch}, nil
}

// Unsubscribe removes a connection and releases its channel.
func (h *Hub) Unsubscribe(topic models.Topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if ch, exists := subs[id]; exists {
		delete(subs, id)
		close(ch)
	}
}

// ClientCount returns the number of connections on a topic.
func (h *Hub) ClientCount(topic models.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish broadcasts an event to every subscriber of a topic. Consecutive
// duplicates of the same domain event are suppressed so a double-fired
// transition is delivered once.
func (h *Hub) Publish(topic models.Topic, event models.LiveEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}

	if event.Type != models.EventHeartbeat {
		fingerprint := event.Type + "|" + event.Data.EntityID + "|" + event.Data.Status
		if h.lastSeen[topic] == fingerprint {
			h.mu.Unlock()
			return
		}
		h.lastSeen[topic] = fingerprint
	}

	event.Data.ConnectedClients = len(subs)
	var dropped []string
	for id, ch := range subs {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		close(subs[id])
		delete(subs, id)
	}
	h.mu.Unlock()

	for _, id := range dropped {
		h.logger.Sugar().Warnw("dropped slow live subscriber", "topic", topic, "subscription_id", id)
	}
}

// Run emits heartbeats on the configured idle timer until ctx is done.
// Heartbeats let clients detect dead connections.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, topic := range models.Topics {
				h.Publish(topic, models.LiveEvent{Type: models.EventHeartbeat})
			}
		}
	}
}
