package mcp

import (
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/protection"
)

// WriteParams is embedded in every mutating tool's parameters.
type WriteParams struct {
	OperationID     string `json:"operation_id,omitempty" jsonschema:"idempotency key; a retry with the same key returns the first result"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" jsonschema:"reject the write unless the entity is still at this version"`
}

type CreateProjectParams struct {
	WriteParams
	Name        string `json:"name" jsonschema:"project display name"`
	Description string `json:"description,omitempty"`
}

type UpdateProjectParams struct {
	WriteParams
	ID             string          `json:"id"`
	Name           *string         `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Status         *project.Status `json:"status,omitempty" jsonschema:"collecting, paused, ready-for-analysis, processing, completed, error or archived; archived also sets isArchived"`
	IsArchived     *bool           `json:"is_archived,omitempty" jsonschema:"archive or unarchive; unarchiving must be the only change"`
	PriorityLevel  *string         `json:"priority_level,omitempty" jsonschema:"low, medium, high or critical"`
	PriorityReason *string         `json:"priority_reason,omitempty"`
}

type IDParams struct {
	WriteParams
	ID string `json:"id"`
}

type ProjectParams struct {
	ProjectID string `json:"project_id"`
}

type ListProjectsParams struct{}

type CreateOpinionParams struct {
	WriteParams
	ProjectID    string             `json:"project_id"`
	Content      string             `json:"content"`
	Sentiment    *opinion.Sentiment `json:"sentiment,omitempty" jsonschema:"positive, neutral or negative"`
	IsBookmarked bool               `json:"is_bookmarked,omitempty"`
}

type SubmitOpinionParams struct {
	ProjectID   string `json:"project_id" jsonschema:"project id or replica id"`
	OwnerID     string `json:"owner_id" jsonschema:"id of the project's owner"`
	Content     string `json:"content"`
	OperationID string `json:"operation_id,omitempty"`
}

type UpdateOpinionParams struct {
	WriteParams
	ID             string                `json:"id"`
	Content        *string               `json:"content,omitempty"`
	Sentiment      *opinion.Sentiment    `json:"sentiment,omitempty"`
	IsBookmarked   *bool                 `json:"is_bookmarked,omitempty"`
	ActionStatus   *opinion.ActionStatus `json:"action_status,omitempty" jsonschema:"unhandled, in-progress, resolved or dismissed"`
	PriorityLevel  *string               `json:"priority_level,omitempty"`
	PriorityReason *string               `json:"priority_reason,omitempty"`
	TopicID        *string               `json:"topic_id,omitempty" jsonschema:"move to this topic; an empty string detaches the opinion"`
}

type ListOpinionsParams struct {
	ProjectID  string  `json:"project_id"`
	TopicID    *string `json:"topic_id,omitempty" jsonschema:"filter by topic; an empty string selects unassigned opinions"`
	Bookmarked *bool   `json:"bookmarked,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

type SearchOpinionsParams struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query" jsonschema:"full-text query"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// IngestItem is one opinion of an import.
type IngestItem struct {
	Content      string `json:"content"`
	Sentiment    string `json:"sentiment,omitempty"`
	SubmittedAt  string `json:"submitted_at,omitempty" jsonschema:"RFC 3339 timestamp"`
	IsBookmarked bool   `json:"is_bookmarked,omitempty"`
	OperationID  string `json:"operation_id,omitempty"`
}

type IngestParams struct {
	ProjectID string       `json:"project_id"`
	Opinions  []IngestItem `json:"opinions"`
}

type CreateTaskParams struct {
	WriteParams
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type UpdateTaskParams struct {
	WriteParams
	ID          string       `json:"id"`
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Status      *task.Status `json:"status,omitempty" jsonschema:"todo, in-progress or done"`
}

type UpdateTopicParams struct {
	WriteParams
	ID      string        `json:"id"`
	Name    *string       `json:"name,omitempty"`
	Summary *string       `json:"summary,omitempty"`
	Status  *topic.Status `json:"status,omitempty" jsonschema:"unhandled, in-progress, resolved or dismissed"`
}

type RunAnalysisParams struct {
	ProjectID string `json:"project_id"`
	MaxTopics int    `json:"max_topics,omitempty"`
	Language  string `json:"language,omitempty"`
}

type JournalParams struct {
	EntityID      string `json:"entity_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ProjectID     string `json:"project_id"`
	Limit         int    `json:"limit,omitempty"`
}

// TopicView is a topic with its live protection assessment.
type TopicView struct {
	topic.Topic
	Protection protection.Assessment `json:"protection"`
}

type Deleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
