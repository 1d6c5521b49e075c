// Package archive blocks writes against archived projects.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/repository"
)

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tally_archive_rejections_total",
	Help: "Writes rejected because the parent project is archived",
}, []string{"path"})

// ErrArchived matches every *Violation.
var ErrArchived = errors.New("project is archived")

// Violation reports a write blocked by an archived project.
type Violation struct {
	ProjectID   string     `json:"projectId"`
	ProjectName string     `json:"projectName"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("project %q is archived", v.ProjectName)
}

func (v *Violation) Is(target error) bool {
	return target == ErrArchived
}

// Remediation tells the caller how to make the project writable again.
func (v *Violation) Remediation() string {
	return fmt.Sprintf("Unarchive project %q to edit it.", v.ProjectName)
}

// ProjectFinder resolves a project by canonical or replica id.
type ProjectFinder interface {
	FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error)
}

// Guard checks the archived flag of a write's parent project.
type Guard struct {
	projects ProjectFinder
	logger   *slog.Logger
}

// NewGuard creates a guard.
func NewGuard(projects ProjectFinder, logger *slog.Logger) *Guard {
	return &Guard{projects: projects, logger: logging.Component(logger, "archive")}
}

// Check returns a *Violation when parentID names an archived project. An
// unknown project is allowed; the write itself reports the missing parent.
func (g *Guard) Check(ctx context.Context, parentID, actorID string) error {
	return g.check(ctx, "authenticated", parentID, "", actorID)
}

// CheckPublic is Check for unauthenticated submissions, which identify the
// project by its id together with its owner's id.
func (g *Guard) CheckPublic(ctx context.Context, projectID, ownerID string) error {
	return g.check(ctx, "public", projectID, ownerID, "")
}

func (g *Guard) check(ctx context.Context, path, projectID, ownerID, actorID string) error {
	logger := logging.FromContext(ctx, g.logger)

	proj, err := g.projects.FindByAnyID(ctx, projectID, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug("archive check: project not found, allowing", "project_id", projectID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive check: %w", err)
	}
	if !proj.IsArchived {
		return nil
	}

	rejections.WithLabelValues(path).Inc()
	logger.Info("write rejected: project archived",
		"project_id", proj.ID,
		"actor_id", actorID,
		"path", path,
	)
	return &Violation{
		ProjectID:   proj.ID,
		ProjectName: proj.Name,
		ArchivedAt:  proj.ArchivedAt,
	}
}
