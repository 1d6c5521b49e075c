package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/repository"
)

// OpinionRepository implements repository.OpinionRepository for SQLite
type OpinionRepository struct {
	db *DB
}

// NewOpinionRepository creates a new OpinionRepository
func NewOpinionRepository(db *DB) *OpinionRepository {
	return &OpinionRepository{db: db}
}

const opinionColumns = `
	id, project_id, topic_id, content, sentiment, character_count, submitted_at,
	is_bookmarked, action_status, priority_level, priority_reason, due_date,
	analysis_last_analyzed_at, analysis_version, analysis_confidence, analysis_manual_review,
	version, created_at, updated_at`

// Create creates a new opinion
func (r *OpinionRepository) Create(ctx context.Context, op *opinion.Opinion) error {
	query := `
		INSERT INTO opinions (` + opinionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		op.ID,
		op.ProjectID,
		nullString(op.TopicID),
		op.Content,
		op.Sentiment,
		op.CharacterCount,
		utc(op.SubmittedAt),
		op.IsBookmarked,
		op.ActionStatus,
		op.PriorityLevel,
		op.PriorityReason,
		nullTime(op.DueDate),
		nullTime(op.Analysis.LastAnalyzedAt),
		op.Analysis.Version,
		op.Analysis.Confidence,
		op.Analysis.ManualReviewFlag,
		op.Version,
		utc(op.CreatedAt),
		utc(op.UpdatedAt),
	)
	if err != nil {
		return mapWriteError(err, "create opinion")
	}

	return nil
}

// Get retrieves an opinion by ID
func (r *OpinionRepository) Get(ctx context.Context, id string) (*opinion.Opinion, error) {
	query := `SELECT ` + opinionColumns + ` FROM opinions WHERE id = ?`
	op, err := scanOpinion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapGetError(err, "opinion")
	}
	return op, nil
}

// Update writes op if the stored version still equals expectedVersion
func (r *OpinionRepository) Update(ctx context.Context, op *opinion.Opinion, expectedVersion int64) error {
	query := `
		UPDATE opinions
		SET topic_id = ?, content = ?, sentiment = ?, character_count = ?,
		    is_bookmarked = ?, action_status = ?, priority_level = ?, priority_reason = ?,
		    due_date = ?, analysis_last_analyzed_at = ?, analysis_version = ?,
		    analysis_confidence = ?, analysis_manual_review = ?,
		    version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullString(op.TopicID),
		op.Content,
		op.Sentiment,
		op.CharacterCount,
		op.IsBookmarked,
		op.ActionStatus,
		op.PriorityLevel,
		op.PriorityReason,
		nullTime(op.DueDate),
		nullTime(op.Analysis.LastAnalyzedAt),
		op.Analysis.Version,
		op.Analysis.Confidence,
		op.Analysis.ManualReviewFlag,
		op.Version,
		utc(op.UpdatedAt),
		op.ID,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "update opinion")
	}

	return checkUpdated(ctx, r.db, result, "opinions", op.ID)
}

// Delete deletes an opinion
func (r *OpinionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM opinions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete opinion: %w", err)
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

// List returns opinions matching the given options, oldest submission first
func (r *OpinionRepository) List(ctx context.Context, opts opinion.ListOptions) ([]opinion.Opinion, error) {
	query := `SELECT ` + opinionColumns + ` FROM opinions WHERE 1 = 1`

	var args []any
	var conditions []string

	if opts.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.TopicID != nil {
		if *opts.TopicID == "" {
			conditions = append(conditions, "topic_id IS NULL")
		} else {
			conditions = append(conditions, "topic_id = ?")
			args = append(args, *opts.TopicID)
		}
	}
	if len(opts.ActionStatus) > 0 {
		placeholders := make([]string, len(opts.ActionStatus))
		for i, status := range opts.ActionStatus {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("action_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Bookmarked != nil {
		conditions = append(conditions, "is_bookmarked = ?")
		args = append(args, *opts.Bookmarked)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY submitted_at ASC, id ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opinions: %w", err)
	}
	defer rows.Close()

	var opinions []opinion.Opinion
	for rows.Next() {
		op, err := scanOpinion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opinion: %w", err)
		}
		opinions = append(opinions, *op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opinion rows: %w", err)
	}

	return opinions, nil
}

// Count returns the number of opinions in a project
func (r *OpinionRepository) Count(ctx context.Context, projectID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM opinions WHERE project_id = ?`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count opinions: %w", err)
	}
	return count, nil
}

// CountUnanalyzed counts opinions never classified or submitted after since
func (r *OpinionRepository) CountUnanalyzed(ctx context.Context, projectID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM opinions
		WHERE project_id = ? AND (topic_id IS NULL OR submitted_at > ?)
	`, projectID, utc(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unanalyzed opinions: %w", err)
	}
	return count, nil
}

// CountWithActionStatus counts a topic's opinions in any of the statuses
func (r *OpinionRepository) CountWithActionStatus(ctx context.Context, topicID string, statuses []opinion.ActionStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(statuses))
	args := []any{topicID}
	for i, status := range statuses {
		placeholders[i] = "?"
		args = append(args, status)
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM opinions WHERE topic_id = ? AND action_status IN (%s)`,
		strings.Join(placeholders, ","),
	)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count opinions by action status: %w", err)
	}
	return count, nil
}

func scanOpinion(s scanner) (*opinion.Opinion, error) {
	return scanOpinionWith(s)
}

func scanOpinionWith(s scanner, extra ...any) (*opinion.Opinion, error) {
	var (
		op             opinion.Opinion
		topicID        sql.NullString
		dueDate        sql.NullTime
		lastAnalyzedAt sql.NullTime
	)
	dest := []any{
		&op.ID,
		&op.ProjectID,
		&topicID,
		&op.Content,
		&op.Sentiment,
		&op.CharacterCount,
		&op.SubmittedAt,
		&op.IsBookmarked,
		&op.ActionStatus,
		&op.PriorityLevel,
		&op.PriorityReason,
		&dueDate,
		&lastAnalyzedAt,
		&op.Analysis.Version,
		&op.Analysis.Confidence,
		&op.Analysis.ManualReviewFlag,
		&op.Version,
		&op.CreatedAt,
		&op.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	op.TopicID = stringPtr(topicID)
	op.DueDate = timePtr(dueDate)
	op.Analysis.LastAnalyzedAt = timePtr(lastAnalyzedAt)
	op.SubmittedAt = op.SubmittedAt.UTC()
	op.CreatedAt = op.CreatedAt.UTC()
	op.UpdatedAt = op.UpdatedAt.UTC()
	return &op, nil
}
