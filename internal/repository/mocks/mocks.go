package mocks

import (
	"context"
	"time"

	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/domain/usage"
	"github.com/stretchr/testify/mock"
)

// ProjectRepository is a mock for repository.ProjectRepository.
type ProjectRepository struct {
	mock.Mock
}

func (m *ProjectRepository) Create(ctx context.Context, proj *project.Project) error {
	args := m.Called(ctx, proj)
	return args.Error(0)
}

func (m *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	args := m.Called(ctx, id)
	if proj, ok := args.Get(0).(*project.Project); ok {
		return proj, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error) {
	args := m.Called(ctx, id, ownerID)
	if proj, ok := args.Get(0).(*project.Project); ok {
		return proj, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) Update(ctx context.Context, proj *project.Project, expectedVersion int64) error {
	args := m.Called(ctx, proj, expectedVersion)
	return args.Error(0)
}

func (m *ProjectRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ProjectRepository) ListSummaries(ctx context.Context, ownerID string) ([]project.Summary, error) {
	args := m.Called(ctx, ownerID)
	if list, ok := args.Get(0).([]project.Summary); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// OpinionRepository is a mock for repository.OpinionRepository.
type OpinionRepository struct {
	mock.Mock
}

func (m *OpinionRepository) Create(ctx context.Context, op *opinion.Opinion) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *OpinionRepository) Get(ctx context.Context, id string) (*opinion.Opinion, error) {
	args := m.Called(ctx, id)
	if op, ok := args.Get(0).(*opinion.Opinion); ok {
		return op, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *OpinionRepository) Update(ctx context.Context, op *opinion.Opinion, expectedVersion int64) error {
	args := m.Called(ctx, op, expectedVersion)
	return args.Error(0)
}

func (m *OpinionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *OpinionRepository) List(ctx context.Context, opts opinion.ListOptions) ([]opinion.Opinion, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]opinion.Opinion); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *OpinionRepository) Count(ctx context.Context, projectID string) (int, error) {
	args := m.Called(ctx, projectID)
	return args.Int(0), args.Error(1)
}

func (m *OpinionRepository) CountUnanalyzed(ctx context.Context, projectID string, since time.Time) (int, error) {
	args := m.Called(ctx, projectID, since)
	return args.Int(0), args.Error(1)
}

func (m *OpinionRepository) CountWithActionStatus(ctx context.Context, topicID string, statuses []opinion.ActionStatus) (int, error) {
	args := m.Called(ctx, topicID, statuses)
	return args.Int(0), args.Error(1)
}

// TaskRepository is a mock for repository.TaskRepository.
type TaskRepository struct {
	mock.Mock
}

func (m *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *TaskRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*task.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TaskRepository) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	args := m.Called(ctx, t, expectedVersion)
	return args.Error(0)
}

func (m *TaskRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *TaskRepository) List(ctx context.Context, projectID string) ([]task.Task, error) {
	args := m.Called(ctx, projectID)
	if list, ok := args.Get(0).([]task.Task); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// TopicRepository is a mock for repository.TopicRepository.
type TopicRepository struct {
	mock.Mock
}

func (m *TopicRepository) Create(ctx context.Context, t *topic.Topic) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *TopicRepository) Get(ctx context.Context, id string) (*topic.Topic, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*topic.Topic); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TopicRepository) Update(ctx context.Context, t *topic.Topic, expectedVersion int64) error {
	args := m.Called(ctx, t, expectedVersion)
	return args.Error(0)
}

func (m *TopicRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *TopicRepository) List(ctx context.Context, projectID string) ([]topic.Topic, error) {
	args := m.Called(ctx, projectID)
	if list, ok := args.Get(0).([]topic.Topic); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// UsageRepository is a mock for repository.UsageRepository.
type UsageRepository struct {
	mock.Mock
}

func (m *UsageRepository) Append(ctx context.Context, rec *usage.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *UsageRepository) Count(ctx context.Context, filter usage.Filter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *UsageRepository) Oldest(ctx context.Context, filter usage.Filter) (*usage.Record, error) {
	args := m.Called(ctx, filter)
	if rec, ok := args.Get(0).(*usage.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

// PlanRepository is a mock for repository.PlanRepository.
type PlanRepository struct {
	mock.Mock
}

func (m *PlanRepository) GetTier(ctx context.Context, userID string) (usage.Tier, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(usage.Tier), args.Error(1)
}

func (m *PlanRepository) SetTier(ctx context.Context, userID string, tier usage.Tier) error {
	args := m.Called(ctx, userID, tier)
	return args.Error(0)
}

// OperationRepository is a mock for repository.OperationRepository.
type OperationRepository struct {
	mock.Mock
}

func (m *OperationRepository) Get(ctx context.Context, id string) (*journal.Operation, error) {
	args := m.Called(ctx, id)
	if op, ok := args.Get(0).(*journal.Operation); ok {
		return op, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *OperationRepository) Save(ctx context.Context, op *journal.Operation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// JournalRepository is a mock for repository.JournalRepository.
type JournalRepository struct {
	mock.Mock
}

func (m *JournalRepository) Append(ctx context.Context, entry *journal.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *JournalRepository) List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]journal.Entry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// SearchRepository is a mock for repository.SearchRepository.
type SearchRepository struct {
	mock.Mock
}

func (m *SearchRepository) Search(ctx context.Context, projectID, query string, opts opinion.SearchOptions) ([]opinion.SearchResult, error) {
	args := m.Called(ctx, projectID, query, opts)
	if list, ok := args.Get(0).([]opinion.SearchResult); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
