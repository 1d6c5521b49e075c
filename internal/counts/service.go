// Package counts derives opinion counts from the primary store at read
// time. No count is ever stored.
package counts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/repository"
)

// Service computes derived counts.
type Service struct {
	projects repository.ProjectRepository
	opinions repository.OpinionRepository
	tasks    repository.TaskRepository
	logger   *slog.Logger
}

// NewService creates a count service.
func NewService(projects repository.ProjectRepository, opinions repository.OpinionRepository, tasks repository.TaskRepository, logger *slog.Logger) *Service {
	return &Service{
		projects: projects,
		opinions: opinions,
		tasks:    tasks,
		logger:   logging.Component(logger, "counts"),
	}
}

// TotalOpinions counts a project's opinions.
func (s *Service) TotalOpinions(ctx context.Context, projectID string) (int, error) {
	n, err := s.opinions.Count(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("total opinions: %w", err)
	}
	return n, nil
}

// UnanalyzedOpinions counts opinions never classified or submitted after
// lastAnalysisAt. With no analysis yet, every opinion is unanalyzed.
func (s *Service) UnanalyzedOpinions(ctx context.Context, projectID string, lastAnalysisAt *time.Time) (int, error) {
	if lastAnalysisAt == nil {
		return s.TotalOpinions(ctx, projectID)
	}
	n, err := s.opinions.CountUnanalyzed(ctx, projectID, *lastAnalysisAt)
	if err != nil {
		return 0, fmt.Errorf("unanalyzed opinions: %w", err)
	}
	return n, nil
}

// UnanalyzedForProject is UnanalyzedOpinions using the project's own
// last analysis time.
func (s *Service) UnanalyzedForProject(ctx context.Context, projectID string) (int, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("unanalyzed opinions: %w", err)
	}
	return s.UnanalyzedOpinions(ctx, proj.ID, proj.LastAnalysisAt)
}

// Summarize loads a project together with its derived counts.
func (s *Service) Summarize(ctx context.Context, projectID string) (*project.Summary, error) {
	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("summarize project: %w", err)
	}

	total, err := s.TotalOpinions(ctx, proj.ID)
	if err != nil {
		return nil, err
	}
	unanalyzed, err := s.UnanalyzedOpinions(ctx, proj.ID, proj.LastAnalysisAt)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.List(ctx, proj.ID)
	if err != nil {
		return nil, fmt.Errorf("summarize project: %w", err)
	}

	return &project.Summary{
		Project:                 *proj,
		OpinionsCount:           total,
		UnanalyzedOpinionsCount: unanalyzed,
		TaskCount:               len(tasks),
	}, nil
}

// ListProjects returns an owner's projects with counts computed in one query.
func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]project.Summary, error) {
	summaries, err := s.projects.ListSummaries(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	s.logger.Debug("listed project summaries", "owner_id", ownerID, "count", len(summaries))
	return summaries, nil
}
