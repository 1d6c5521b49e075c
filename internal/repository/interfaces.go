package repository

import (
	"context"
	"time"

	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/domain/usage"
)

// ProjectRepository manages project persistence. Update writes the version
// carried by proj and succeeds only while the stored version equals
// expectedVersion.
type ProjectRepository interface {
	Create(ctx context.Context, proj *project.Project) error
	Get(ctx context.Context, id string) (*project.Project, error)
	// FindByAnyID resolves a project by canonical or replica id. An empty
	// ownerID matches any owner.
	FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error)
	Update(ctx context.Context, proj *project.Project, expectedVersion int64) error
	// Delete removes the project with its opinions, tasks and topics in one
	// transaction.
	Delete(ctx context.Context, id string) error
	ListSummaries(ctx context.Context, ownerID string) ([]project.Summary, error)
}

// OpinionRepository manages opinion persistence
type OpinionRepository interface {
	Create(ctx context.Context, op *opinion.Opinion) error
	Get(ctx context.Context, id string) (*opinion.Opinion, error)
	Update(ctx context.Context, op *opinion.Opinion, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts opinion.ListOptions) ([]opinion.Opinion, error)
	Count(ctx context.Context, projectID string) (int, error)
	// CountUnanalyzed counts opinions with no topic or submitted after since.
	CountUnanalyzed(ctx context.Context, projectID string, since time.Time) (int, error)
	CountWithActionStatus(ctx context.Context, topicID string, statuses []opinion.ActionStatus) (int, error)
}

// TaskRepository manages task persistence
type TaskRepository interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	Update(ctx context.Context, t *task.Task, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, projectID string) ([]task.Task, error)
}

// TopicRepository manages topic persistence
type TopicRepository interface {
	Create(ctx context.Context, t *topic.Topic) error
	Get(ctx context.Context, id string) (*topic.Topic, error)
	Update(ctx context.Context, t *topic.Topic, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, projectID string) ([]topic.Topic, error)
}

// UsageRepository manages the analysis usage ledger
type UsageRepository interface {
	Append(ctx context.Context, rec *usage.Record) error
	Count(ctx context.Context, filter usage.Filter) (int, error)
	// Oldest returns the earliest record matching filter.
	Oldest(ctx context.Context, filter usage.Filter) (*usage.Record, error)
}

// PlanRepository maps users to plan tiers
type PlanRepository interface {
	GetTier(ctx context.Context, userID string) (usage.Tier, error)
	SetTier(ctx context.Context, userID string, tier usage.Tier) error
}

// OperationRepository stores idempotency keys of coordinator writes
type OperationRepository interface {
	Get(ctx context.Context, id string) (*journal.Operation, error)
	// Save inserts or replaces the operation.
	Save(ctx context.Context, op *journal.Operation) error
}

// JournalRepository manages sync journal persistence
type JournalRepository interface {
	Append(ctx context.Context, entry *journal.Entry) error
	List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error)
}

// SearchRepository manages full-text search over opinions
type SearchRepository interface {
	Search(ctx context.Context, projectID, query string, opts opinion.SearchOptions) ([]opinion.SearchResult, error)
}
