package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/repository"
)

// TaskRepository implements repository.TaskRepository for SQLite
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, project_id, title, description, status, due_date, version, created_at, updated_at`

// Create creates a new task
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.ProjectID,
		t.Title,
		t.Description,
		t.Status,
		nullTime(t.DueDate),
		t.Version,
		utc(t.CreatedAt),
		utc(t.UpdatedAt),
	)
	if err != nil {
		return mapWriteError(err, "create task")
	}
	return nil
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapGetError(err, "task")
	}
	return t, nil
}

// Update writes t if the stored version still equals expectedVersion
func (r *TaskRepository) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	query := `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, due_date = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		t.Title,
		t.Description,
		t.Status,
		nullTime(t.DueDate),
		t.Version,
		utc(t.UpdatedAt),
		t.ID,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "update task")
	}

	return checkUpdated(ctx, r.db, result, "tasks", t.ID)
}

// Delete deletes a task
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns a project's tasks in creation order
func (r *TaskRepository) List(ctx context.Context, projectID string) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func scanTask(s scanner) (*task.Task, error) {
	var (
		t       task.Task
		dueDate sql.NullTime
	)
	err := s.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Status,
		&dueDate,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.DueDate = timePtr(dueDate)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
