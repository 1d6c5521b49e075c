// Package realtime delivers post-commit change events to live subscribers.
// Delivery is best-effort: a slow subscriber loses events rather than
// slowing the writer.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/logging"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_realtime_events_published_total",
		Help: "Events published by scope kind",
	}, []string{"scope_kind"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_realtime_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tally_realtime_subscribers",
		Help: "Currently attached subscribers",
	})
)

// ErrInvalidScope is returned for scopes other than project:<id> or user:<id>.
var ErrInvalidScope = errors.New("invalid scope")

// ProjectScope names the channel for one project.
func ProjectScope(projectID string) string { return "project:" + projectID }

// UserScope names the channel for one user.
func UserScope(userID string) string { return "user:" + userID }

// ParseScope splits a scope into its kind and id.
func ParseScope(scope string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(scope, ":")
	if !ok || id == "" || (kind != "project" && kind != "user") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return kind, id, nil
}

// Event is one published change.
type Event struct {
	Scope   string    `json:"scope"`
	Kind    string    `json:"kind"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Subscription receives events for one scope until closed.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	scope string
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans events out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
	now    func() time.Time
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logging.Component(logger, "realtime"),
		now:    time.Now,
	}
}

// Publish delivers an event to every subscriber of scope without blocking.
func (h *Hub) Publish(ctx context.Context, scope, kind string, payload any) error {
	scopeKind, _, err := ParseScope(scope)
	if err != nil {
		return err
	}
	event := Event{Scope: scope, Kind: kind, Payload: payload, At: h.now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	eventsPublished.WithLabelValues(scopeKind).Inc()
	for sub := range h.subs[scope] {
		select {
		case sub.ch <- event:
		default:
			eventsDropped.Inc()
			logging.FromContext(ctx, h.logger).Debug("subscriber buffer full, dropping event",
				"scope", scope,
				"kind", kind,
			)
		}
	}
	return nil
}

// Subscribe attaches a new subscriber to scope.
func (h *Hub) Subscribe(scope string) (*Subscription, error) {
	if _, _, err := ParseScope(scope); err != nil {
		return nil, err
	}
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, scope: scope, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[scope] == nil {
		h.subs[scope] = make(map[*Subscription]struct{})
	}
	h.subs[scope][sub] = struct{}{}
	subscribersGauge.Inc()
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.scope]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.ch)
			subscribersGauge.Dec()
		}
		if len(subs) == 0 {
			delete(h.subs, sub.scope)
		}
	}
}

// Subscribers returns the number of subscribers attached to scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}
