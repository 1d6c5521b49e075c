// Package protection decides whether a topic may be rewritten by automated
// analysis.
package protection

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/logging"
)

var fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tally_protection_fallbacks_total",
	Help: "Classifier errors resolved by the fail-open or fail-closed policy",
}, []string{"policy"})

// TopicReader loads topics.
type TopicReader interface {
	Get(ctx context.Context, id string) (*topic.Topic, error)
}

// ActionCounter counts a topic's opinions by action status.
type ActionCounter interface {
	CountWithActionStatus(ctx context.Context, topicID string, statuses []opinion.ActionStatus) (int, error)
}

// Assessment is the full protection state of one topic.
type Assessment struct {
	TopicID          string `json:"topicId"`
	Protected        bool   `json:"protected"`
	HasActiveActions bool   `json:"hasActiveActions"`
	Reason           string `json:"reason,omitempty"`
}

// Classifier evaluates topic protection.
type Classifier struct {
	topics   TopicReader
	opinions ActionCounter
	logger   *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(topics TopicReader, opinions ActionCounter, logger *slog.Logger) *Classifier {
	return &Classifier{
		topics:   topics,
		opinions: opinions,
		logger:   logging.Component(logger, "protection"),
	}
}

// HasActiveActions reports whether any opinion of the topic is in progress
// or resolved. Errors resolve to false so attaching new opinions is never
// blocked by a failed check.
func (c *Classifier) HasActiveActions(ctx context.Context, topicID string) bool {
	n, err := c.opinions.CountWithActionStatus(ctx, topicID, opinion.ActiveActionStatuses)
	if err != nil {
		fallbacksTotal.WithLabelValues("fail_open").Inc()
		logging.FromContext(ctx, c.logger).Warn("active action check failed",
			"event", "fail_open", "topic_id", topicID, "error", err)
		return false
	}
	return n > 0
}

// IsProtected reports whether the topic's name and summary are frozen.
// Errors resolve to true.
func (c *Classifier) IsProtected(ctx context.Context, topicID string) bool {
	t, err := c.topics.Get(ctx, topicID)
	if err != nil {
		fallbacksTotal.WithLabelValues("fail_closed").Inc()
		logging.FromContext(ctx, c.logger).Warn("protection check failed",
			"event", "fail_closed", "topic_id", topicID, "error", err)
		return true
	}
	return c.Evaluate(ctx, *t).Protected
}

// Evaluate classifies an already loaded topic. The cached
// HasActiveActions flag short-circuits the live opinion check.
func (c *Classifier) Evaluate(ctx context.Context, t topic.Topic) Assessment {
	active := t.HasActiveActions || c.HasActiveActions(ctx, t.ID)
	return Assessment{
		TopicID:          t.ID,
		Protected:        t.Status != topic.StatusUnhandled || active,
		HasActiveActions: active,
		Reason:           reason(t.Status, active),
	}
}

// Reason explains why the topic is protected, or returns "" when it is not.
func (c *Classifier) Reason(ctx context.Context, t topic.Topic) string {
	return c.Evaluate(ctx, t).Reason
}

// ReasonFor loads the topic and explains its protection.
func (c *Classifier) ReasonFor(ctx context.Context, topicID string) (string, error) {
	t, err := c.topics.Get(ctx, topicID)
	if err != nil {
		return "", err
	}
	return c.Reason(ctx, *t), nil
}

func reason(status topic.Status, active bool) string {
	var parts []string
	if status != topic.StatusUnhandled {
		parts = append(parts, "status: "+string(status))
	}
	if active {
		parts = append(parts, "has active actions")
	}
	return strings.Join(parts, ", ")
}
