// Package eventhub is the typed publish/subscribe fan-out for real-time
// observers: per-subscriber bounded channels across the event/health/
// budget/cache channels, with drop-oldest back-pressure, spec.md §5/§6.
// Grounded on agent/runtime.go's Recv(source)/Broadcast interface shape,
// generalized from per-agent channels to per-client multi-channel
// subscriptions.
package eventhub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/gateway/internal/gateway/artifact"
)

// Channel names the logical stream a message belongs to.
type Channel string

const (
	ChannelEvent  Channel = "event"
	ChannelHealth Channel = "health"
	ChannelBudget Channel = "budget"
	ChannelCache  Channel = "cache"
)

// MessageType discriminates the envelope per spec.md §6.
type MessageType string

const (
	TypeEvent        MessageType = "event"
	TypeHealth       MessageType = "health"
	TypeBudget       MessageType = "budget"
	TypeCache        MessageType = "cache"
	TypeError        MessageType = "error"
	TypeConnected    MessageType = "connected"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypePong         MessageType = "pong"
)

// Envelope is spec.md's `{type, data, timestamp}` wire message.
type Envelope struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber owns one bounded channel per logical channel it is subscribed
// to, plus a drop counter visible to the client per spec.md §5's explicit
// back-pressure requirement.
type Subscriber struct {
	ID       string
	mu       sync.Mutex
	queues   map[Channel]chan Envelope
	dropped  map[Channel]int64
	capacity int
}

// Dropped returns the current drop count for a channel.
func (s *Subscriber) Dropped(ch Channel) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[ch]
}

// Queue returns the receive-only channel for ch, or nil if not subscribed.
func (s *Subscriber) Queue(ch Channel) <-chan Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[ch]
}

func (s *Subscriber) subscribe(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[ch]; !ok {
		s.queues[ch] = make(chan Envelope, s.capacity)
	}
}

func (s *Subscriber) unsubscribe(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[ch]; ok {
		close(q)
		delete(s.queues, ch)
	}
}

func (s *Subscriber) channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.queues))
	for ch := range s.queues {
		out = append(out, ch)
	}
	return out
}

// deliver pushes env to the subscriber's queue for ch, dropping the oldest
// queued message if full (spec.md §5's drop-oldest back-pressure policy).
func (s *Subscriber) deliver(ch Channel, env Envelope) {
	s.mu.Lock()
	q, ok := s.queues[ch]
	s.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case q <- env:
			return
		default:
			select {
			case <-q: // drop oldest
				s.mu.Lock()
				s.dropped[ch]++
				s.mu.Unlock()
			default:
				return
			}
		}
	}
}

// Hub is the process-wide fan-out registry.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	capacity    int
}

// New constructs a Hub whose per-channel queues hold up to capacity
// envelopes before dropping the oldest.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 64
	}
	return &Hub{subscribers: make(map[string]*Subscriber), capacity: capacity}
}

// Subscribe registers a new subscriber, defaulting to all channels per
// spec.md §6's "default subscription to all channels on connect".
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:       uuid.NewString(),
		queues:   make(map[Channel]chan Envelope),
		dropped:  make(map[Channel]int64),
		capacity: h.capacity,
	}
	for _, ch := range []Channel{ChannelEvent, ChannelHealth, ChannelBudget, ChannelCache} {
		s.subscribe(ch)
	}

	h.mu.Lock()
	h.subscribers[s.ID] = s
	h.mu.Unlock()
	return s
}

// SubscribeChannel adds ch to an already-registered subscriber, per
// spec.md §6's client `{type:subscribe, channel}` message.
func (h *Hub) SubscribeChannel(s *Subscriber, ch Channel) { s.subscribe(ch) }

// UnsubscribeChannel removes ch from a subscriber.
func (h *Hub) UnsubscribeChannel(s *Subscriber, ch Channel) { s.unsubscribe(ch) }

// Unregister removes a subscriber entirely (connection closed).
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[id]; ok {
		for _, ch := range s.channels() {
			s.unsubscribe(ch)
		}
		delete(h.subscribers, id)
	}
}

// Publish delivers env to every subscriber currently on ch. Per-subscriber
// delivery order is preserved; there is no cross-subscriber ordering
// guarantee, per spec.md §5.
func (h *Hub) Publish(ch Channel, data interface{}) {
	env := Envelope{Type: channelMessageType(ch), Data: data, Timestamp: time.Now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subscribers {
		s.deliver(ch, env)
	}
}

func channelMessageType(ch Channel) MessageType {
	switch ch {
	case ChannelEvent:
		return TypeEvent
	case ChannelHealth:
		return TypeHealth
	case ChannelBudget:
		return TypeBudget
	case ChannelCache:
		return TypeCache
	default:
		return TypeEvent
	}
}

// PublishArtifact implements artifact.EventPublisher: artifacts fan out on
// the event channel.
func (h *Hub) PublishArtifact(a artifact.Artifact) {
	h.Publish(ChannelEvent, a)
}

// SubscriberCount reports the number of active subscribers (wsClients in
// spec.md §6's GET /api/health).
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
