package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/tally/internal/domain/journal"
)

// JournalRepository implements repository.JournalRepository for SQLite
type JournalRepository struct {
	db *DB
}

// NewJournalRepository creates a new JournalRepository
func NewJournalRepository(db *DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Append inserts a new journal entry
func (r *JournalRepository) Append(ctx context.Context, entry *journal.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()

	query := `
		INSERT INTO sync_journal (
			correlation_id, operation_id, kind, op, entity_id,
			project_id, phase, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.CorrelationID,
		entry.OperationID,
		entry.Kind,
		entry.Op,
		entry.EntityID,
		entry.ProjectID,
		entry.Phase,
		entry.Detail,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}
	entry.CreatedAt = createdAt

	return nil
}

// List returns journal entries matching the given filters, oldest first
func (r *JournalRepository) List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error) {
	query := `
		SELECT
			id, correlation_id, operation_id, kind, op, entity_id,
			project_id, phase, detail, created_at
		FROM sync_journal
	`

	var args []any
	var conditions []string

	if opts.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, opts.EntityID)
	}
	if opts.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}
	if opts.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.Phase != nil {
		conditions = append(conditions, "phase = ?")
		args = append(args, *opts.Phase)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id ASC"

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
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var entry journal.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.CorrelationID,
			&entry.OperationID,
			&entry.Kind,
			&entry.Op,
			&entry.EntityID,
			&entry.ProjectID,
			&entry.Phase,
			&entry.Detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}

	return entries, nil
}
