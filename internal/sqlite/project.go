package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/repository"
)

// ProjectRepository implements repository.ProjectRepository for SQLite
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `
	id, replica_id, owner_id, name, description, status, is_archived, archived_at,
	priority_level, priority_reason, priority_updated_at,
	last_analysis_at, last_analyzed_opinion_count, version, created_at, updated_at`

// Create creates a new project
func (r *ProjectRepository) Create(ctx context.Context, proj *project.Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		proj.ID,
		proj.ReplicaID,
		proj.OwnerID,
		proj.Name,
		proj.Description,
		proj.Status,
		proj.IsArchived,
		nullTime(proj.ArchivedAt),
		proj.Priority.Level,
		proj.Priority.Reason,
		nullTime(proj.Priority.UpdatedAt),
		nullTime(proj.LastAnalysisAt),
		proj.LastAnalyzedOpinionCount,
		proj.Version,
		utc(proj.CreatedAt),
		utc(proj.UpdatedAt),
	)
	if err != nil {
		return mapWriteError(err, "create project")
	}

	return nil
}

// Get retrieves a project by canonical ID
func (r *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	proj, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapGetError(err, "project")
	}
	return proj, nil
}

// FindByAnyID resolves a project by canonical or replica ID, optionally
// scoped to an owner
func (r *ProjectRepository) FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE (id = ? OR replica_id = ?)`
	args := []any{id, id}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1`
	args = append(args, id)

	proj, err := scanProject(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapGetError(err, "project")
	}
	return proj, nil
}

// Update writes proj if the stored version still equals expectedVersion
func (r *ProjectRepository) Update(ctx context.Context, proj *project.Project, expectedVersion int64) error {
	query := `
		UPDATE projects
		SET name = ?, description = ?, status = ?, is_archived = ?, archived_at = ?,
		    priority_level = ?, priority_reason = ?, priority_updated_at = ?,
		    last_analysis_at = ?, last_analyzed_opinion_count = ?,
		    version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		proj.Name,
		proj.Description,
		proj.Status,
		proj.IsArchived,
		nullTime(proj.ArchivedAt),
		proj.Priority.Level,
		proj.Priority.Reason,
		nullTime(proj.Priority.UpdatedAt),
		nullTime(proj.LastAnalysisAt),
		proj.LastAnalyzedOpinionCount,
		proj.Version,
		utc(proj.UpdatedAt),
		proj.ID,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "update project")
	}

	return checkUpdated(ctx, r.db, result, "projects", proj.ID)
}

// Delete removes a project and everything it owns. Children go first so no
// foreign key ever points at a missing row.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM opinions WHERE project_id = ?`,
			`DELETE FROM tasks WHERE project_id = ?`,
			`DELETE FROM topics WHERE project_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete project children: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// ListSummaries returns an owner's projects with derived opinion counts
func (r *ProjectRepository) ListSummaries(ctx context.Context, ownerID string) ([]project.Summary, error) {
	query := `
		SELECT ` + prefixed("p", projectColumns) + `,
			(SELECT COUNT(*) FROM opinions o WHERE o.project_id = p.id) AS opinions_count,
			(SELECT COUNT(*) FROM opinions o WHERE o.project_id = p.id
				AND (p.last_analysis_at IS NULL OR o.topic_id IS NULL OR o.submitted_at > p.last_analysis_at)
			) AS unanalyzed_count,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id) AS task_count
		FROM projects p
		WHERE p.owner_id = ?
		ORDER BY p.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var summaries []project.Summary
	for rows.Next() {
		var summary project.Summary
		proj, err := scanProject(rows,
			&summary.OpinionsCount,
			&summary.UnanalyzedOpinionsCount,
			&summary.TaskCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project summary: %w", err)
		}
		summary.Project = *proj
		summaries = append(summaries, summary)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return summaries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner, extra ...any) (*project.Project, error) {
	var (
		proj              project.Project
		archivedAt        sql.NullTime
		priorityUpdatedAt sql.NullTime
		lastAnalysisAt    sql.NullTime
	)
	dest := []any{
		&proj.ID,
		&proj.ReplicaID,
		&proj.OwnerID,
		&proj.Name,
		&proj.Description,
		&proj.Status,
		&proj.IsArchived,
		&archivedAt,
		&proj.Priority.Level,
		&proj.Priority.Reason,
		&priorityUpdatedAt,
		&lastAnalysisAt,
		&proj.LastAnalyzedOpinionCount,
		&proj.Version,
		&proj.CreatedAt,
		&proj.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	proj.ArchivedAt = timePtr(archivedAt)
	proj.Priority.UpdatedAt = timePtr(priorityUpdatedAt)
	proj.LastAnalysisAt = timePtr(lastAnalysisAt)
	proj.CreatedAt = proj.CreatedAt.UTC()
	proj.UpdatedAt = proj.UpdatedAt.UTC()
	return &proj, nil
}
