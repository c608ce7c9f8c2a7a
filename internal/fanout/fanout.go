// Package fanout implements C8: a subscriber-id keyed registry of channels
// with best-effort, non-blocking, drop-oldest delivery. The
// mutex-guarded-registry-plus-per-subscriber-buffered-channel shape follows
// server/internal/ws/hub.go's Hub directly; the connection/ping-pump
// machinery that hub carries for WebSocket transport is stripped (out of
// scope per spec.md §1) and the drop policy changes from
// disconnect-on-full to drop-oldest-and-increment-counter, per spec.md §4.7.
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/telemetry"
)

// Topic is one of the closed set of topic names subscribers may register
// interest in.
type Topic string

const (
	TopicSensorUpdate     Topic = "sensor.update"
	TopicDetectionResult  Topic = "detection.result"
	TopicAlertNew         Topic = "alert.new"
	TopicAlertAcknowledged Topic = "alert.acknowledged"
	TopicAlertResolved    Topic = "alert.resolved"
	TopicValveChanged     Topic = "valve.changed"
)

var validTopics = map[Topic]struct{}{
	TopicSensorUpdate:      {},
	TopicDetectionResult:   {},
	TopicAlertNew:          {},
	TopicAlertAcknowledged: {},
	TopicAlertResolved:     {},
	TopicValveChanged:      {},
}

// Message is one delivered fan-out payload.
type Message struct {
	Topic   Topic
	Payload any
}

// Subscriber is a handle returned by Hub.Subscribe. Callers drain Messages()
// to receive delivered payloads.
type Subscriber struct {
	id     string
	topics map[Topic]struct{}

	mu sync.Mutex
	ch chan Message
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Messages returns the channel to range over for delivered messages.
func (s *Subscriber) Messages() <-chan Message { return s.ch }

func (s *Subscriber) interestedIn(topic Topic) bool {
	_, ok := s.topics[topic]
	return ok
}

// deliver attempts a non-blocking send; if the subscriber's buffer is full
// it drops the oldest pending message and retries once, per spec.md §4.7.
// enqueued reports whether msg ended up in the buffer; droppedOldest
// reports whether an older message was evicted to make room (this is what
// increments the drop counter, independent of whether the retry itself
// then succeeded — e.g. a zero-capacity subscriber still counts as a drop).
func (s *Subscriber) deliver(msg Message) (enqueued, droppedOldest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- msg:
		return true, false
	default:
	}

	droppedOldest = true
	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- msg:
		return true, droppedOldest
	default:
		return false, droppedOldest
	}
}

// Hub is the fan-out registry.
type Hub struct {
	queueCap int
	metrics  *telemetry.Metrics

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// New returns a Hub whose subscribers each get a buffer of queueCap
// messages.
func New(queueCap int, m *telemetry.Metrics) *Hub {
	return &Hub{
		queueCap:    queueCap,
		metrics:     m,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber interested in topics and returns its
// handle. Unknown topic names are ignored silently — callers are expected
// to use the Topic constants.
func (h *Hub) Subscribe(topics ...Topic) *Subscriber {
	set := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := validTopics[t]; ok {
			set[t] = struct{}{}
		}
	}
	s := &Subscriber{
		id:     uuid.NewString(),
		topics: set,
		ch:     make(chan Message, h.queueCap),
	}

	h.mu.Lock()
	h.subscribers[s.id] = s
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber by id. Idempotent: unsubscribing an
// unknown or already-removed id is a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[id]; ok {
		close(s.ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers payload to every subscriber interested in topic.
// Delivery is best-effort and non-blocking per subscriber.
func (h *Hub) Publish(topic Topic, payload any) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		if s.interestedIn(topic) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range targets {
		enqueued, droppedOldest := s.deliver(msg)
		if h.metrics == nil {
			continue
		}
		if droppedOldest {
			h.metrics.FanoutDrops.WithLabelValues(string(topic)).Inc()
		}
		if enqueued {
			h.metrics.FanoutDelivered.WithLabelValues(string(topic)).Inc()
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
