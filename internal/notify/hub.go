// Package notify delivers gateway events to the host application.
//
// Events are posted from request goroutines and delivered by a single hub
// goroutine, so posting never blocks and never waits for a subscriber.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"webgate/internal/config"
	"webgate/internal/metrics"
)

// Event kinds.
const (
	KindVideoRequest = "video-request-detected"
	KindIOException  = "io-exception"
)

// Event is one notification. Payload is a flat string mapping.
type Event struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload"`
	Time    time.Time         `json:"time"`
}

// Poster accepts events for asynchronous delivery.
type Poster interface {
	Post(kind string, payload map[string]string)
}

const subscriberBuffer = 64

type subscriber struct {
	ch chan Event
}

// Hub queues events and fans them out to subscribers.
type Hub struct {
	queue   chan Event
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHub creates a Hub. The metrics parameter is optional.
func NewHub(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		queue:   make(chan Event, cfg.Notify.QueueSize),
		logger:  logger.With("component", "notify_hub"),
		metrics: m,
		subs:    make(map[*subscriber]struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (h *Hub) Start() {
	go h.run()
}

// Stop terminates delivery and waits for the goroutine to exit.
// Events still queued are discarded.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.stopped
	})
}

// Post enqueues an event. When the queue is full the event is dropped.
func (h *Hub) Post(kind string, payload map[string]string) {
	ev := Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		Time:    time.Now(),
	}

	select {
	case h.queue <- ev:
	default:
		h.logger.Warn("notification queue full, dropping event", "kind", kind)
		if h.metrics != nil {
			h.metrics.NotificationsDropped.WithLabelValues(kind).Inc()
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed afterwards.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.ch)
			h.mu.Unlock()
		})
	}
	return s.ch, cancel
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case ev := <-h.queue:
			h.deliver(ev)
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.logger.Debug("notification", "kind", ev.Kind, "id", ev.ID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn("subscriber too slow, dropping event", "kind", ev.Kind)
		}
	}
}
