package hub

import (
	"sync"

	"log/slog"

	"morph/internal/logging"
)

const defaultQueueSize = 64

// Hub fans events out to groups of subscribers. Publishing never blocks: each
// subscriber owns a bounded queue, and when a queue is full the oldest unsent
// event for that subscriber is dropped so delivery to others keeps flowing.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu     sync.Mutex
	subs   map[string]*Subscriber
	groups map[string]map[string]*Subscriber
}

// New constructs a hub. queueSize bounds each subscriber's outbound queue;
// values below one fall back to the default.
func New(logger *slog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		logger:    logging.NewComponentLogger(logger, "hub"),
		queueSize: queueSize,
		subs:      make(map[string]*Subscriber),
		groups:    make(map[string]map[string]*Subscriber),
	}
}

// Subscriber is one registered connection endpoint. Events arrive on Events()
// in per-group publish order.
type Subscriber struct {
	id     string
	events chan Event

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// ID returns the connection identifier this subscriber was registered under.
func (s *Subscriber) ID() string { return s.id }

// Events returns the subscriber's delivery channel. The channel is closed
// when the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Dropped reports how many events were discarded because the subscriber
// could not keep up.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// enqueue appends an event, evicting the oldest queued event on overflow.
// The eviction loop is bounded because only enqueue adds entries and it holds
// the subscriber lock.
func (s *Subscriber) enqueue(evt Event, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- evt:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped++
			logger.Warn("connection lagging, dropped oldest event",
				logging.String(logging.FieldConnID, s.id),
				logging.Int64("dropped_total", s.dropped),
			)
		default:
		}
	}
}

// Subscribe registers a connection and returns its subscriber handle.
// Subscribing an id twice replaces the prior registration.
func (h *Hub) Subscribe(connID string) *Subscriber {
	h.mu.Lock()
	prev := h.subs[connID]
	sub := &Subscriber{id: connID, events: make(chan Event, h.queueSize)}
	h.subs[connID] = sub
	if prev != nil {
		h.removeFromGroupsLocked(prev)
	}
	h.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	return sub
}

// Unsubscribe removes a connection and all of its group memberships.
// Unknown ids are ignored.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	sub, ok := h.subs[connID]
	if ok {
		delete(h.subs, connID)
		h.removeFromGroupsLocked(sub)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Join adds the connection to a group. Joining twice is a no-op; joining with
// an unknown connection id is ignored.
func (h *Hub) Join(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[connID]
	if !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Subscriber)
		h.groups[group] = members
	}
	members[connID] = sub
}

// Leave removes the connection from a group. Leaving a group that was never
// joined is a no-op.
func (h *Hub) Leave(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Groups returns the group names the connection currently belongs to.
func (h *Hub) Groups(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for name, members := range h.groups {
		if _, ok := members[connID]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Publish delivers the event to every current member of the group. Events
// published to the same group reach each subscriber in publish order; the hub
// lock is held while enqueueing so two publishes cannot interleave.
func (h *Hub) Publish(group string, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.groups[group] {
		sub.enqueue(evt, h.logger)
	}
}

func (h *Hub) removeFromGroupsLocked(sub *Subscriber) {
	for name, members := range h.groups {
		if members[sub.id] == sub {
			delete(members, sub.id)
			if len(members) == 0 {
				delete(h.groups, name)
			}
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
