package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Publisher delivers events to interested parties.
type Publisher interface {
	Broadcast(ev Event)
}

// Subscription is a live subscriber registered on a Hub.
type Subscription struct {
	ID        string
	ProjectID string

	events  chan Event
	dropped atomic.Int64
}

// Events returns the channel the subscriber receives on. It is closed on unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.events }

// Dropped returns how many events were discarded because the subscriber was too slow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) matches(ev Event) bool {
	if s.ProjectID == "" {
		return true
	}
	return ev.ProjectID() == s.ProjectID
}

// Hub fans events out to every open subscription.
//
// Delivery is best effort: a subscriber whose buffer is full loses the event
// instead of stalling the broadcaster. There is no replay for late subscribers.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates an empty hub. bufferSize <= 0 uses the default.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger.With("svc", "notify.Hub"),
	}
}

// Subscribe registers a new subscriber. An empty projectID receives every event.
func (h *Hub) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		events:    make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", sub.ID, "project_id", projectID)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.events)
	h.logger.Debug("subscriber removed", "sub_id", sub.ID, "dropped", sub.Dropped())
}

// Broadcast delivers ev to all matching subscribers without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			sub.dropped.Add(1)
			h.logger.Warn("subscriber buffer full, event dropped", "sub_id", sub.ID, "type", ev.Type)
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.events)
	}
}
