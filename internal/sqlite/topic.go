package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/repository"
)

// TopicRepository implements repository.TopicRepository for SQLite
type TopicRepository struct {
	db *DB
}

// NewTopicRepository creates a new TopicRepository
func NewTopicRepository(db *DB) *TopicRepository {
	return &TopicRepository{db: db}
}

const topicColumns = `
	id, project_id, name, summary, status, has_active_actions, last_action_date,
	version, created_at, updated_at`

// Create creates a new topic
func (r *TopicRepository) Create(ctx context.Context, t *topic.Topic) error {
	query := `
		INSERT INTO topics (` + topicColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.ProjectID,
		t.Name,
		t.Summary,
		t.Status,
		t.HasActiveActions,
		nullTime(t.LastActionDate),
		t.Version,
		utc(t.CreatedAt),
		utc(t.UpdatedAt),
	)
	if err != nil {
		return mapWriteError(err, "create topic")
	}

	return nil
}

// Get retrieves a topic by ID
func (r *TopicRepository) Get(ctx context.Context, id string) (*topic.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = ?`
	t, err := scanTopic(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapGetError(err, "topic")
	}
	return t, nil
}

// Update writes t if the stored version still equals expectedVersion
func (r *TopicRepository) Update(ctx context.Context, t *topic.Topic, expectedVersion int64) error {
	query := `
		UPDATE topics
		SET name = ?, summary = ?, status = ?, has_active_actions = ?, last_action_date = ?,
		    version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		t.Name,
		t.Summary,
		t.Status,
		t.HasActiveActions,
		nullTime(t.LastActionDate),
		t.Version,
		utc(t.UpdatedAt),
		t.ID,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "update topic")
	}

	return checkUpdated(ctx, r.db, result, "topics", t.ID)
}

// Delete detaches the topic's opinions and deletes the topic
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE opinions SET topic_id = NULL, version = version + 1 WHERE topic_id = ?`, id); err != nil {
			return fmt.Errorf("failed to detach topic opinions: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete topic: %w", err)
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

// List returns a project's topics in creation order
func (r *TopicRepository) List(ctx context.Context, projectID string) ([]topic.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE project_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []topic.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic rows: %w", err)
	}

	return topics, nil
}

func scanTopic(s scanner) (*topic.Topic, error) {
	var (
		t              topic.Topic
		lastActionDate sql.NullTime
	)
	err := s.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Name,
		&t.Summary,
		&t.Status,
		&t.HasActiveActions,
		&lastActionDate,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.LastActionDate = timePtr(lastActionDate)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
