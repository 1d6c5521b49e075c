// Package analysis runs the AI analysis engine over a project's opinions
// behind the quota gate and applies its topics without rewriting topics a
// human has acted on.
package analysis

import (
	"context"

	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/protection"
)

// Options tune one run.
type Options struct {
	MaxTopics int `json:"maxTopics,omitempty"`
	// Language is a hint for generated names and summaries.
	Language string `json:"language,omitempty"`
}

// ExistingTopic is a stored topic with its protection state.
type ExistingTopic struct {
	topic.Topic
	Protection protection.Assessment `json:"protection"`
}

// Input is what the engine sees.
type Input struct {
	Project  project.Project   `json:"project"`
	Opinions []opinion.Opinion `json:"opinions"`
	Topics   []ExistingTopic   `json:"topics"`
	Options  Options           `json:"options"`
}

// TopicResult is one topic proposed by the engine. ID names an existing
// topic to keep; an empty ID proposes a new one.
type TopicResult struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	OpinionIDs []string `json:"opinionIds"`
	Confidence float64  `json:"confidence"`
}

// Result is the engine's output.
type Result struct {
	Topics   []TopicResult `json:"topics"`
	Insights []string      `json:"insights"`
}

// Engine clusters opinions into topics.
type Engine interface {
	Analyze(ctx context.Context, in Input) (*Result, error)
}
