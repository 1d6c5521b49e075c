package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/tally/internal/domain/usage"
)

// UsageRepository implements repository.UsageRepository for SQLite
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Append inserts a usage record
func (r *UsageRepository) Append(ctx context.Context, rec *usage.Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, project_id, created_at, opinions_processed, execution_ms)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.UserID,
		rec.ProjectID,
		rec.Timestamp,
		rec.OpinionsProcessed,
		rec.ExecutionTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		rec.ID = id
	}
	return nil
}

// Count returns the number of records matching filter
func (r *UsageRepository) Count(ctx context.Context, filter usage.Filter) (int, error) {
	where, args := usageWhere(filter)
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_records`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}

// Oldest returns the earliest record matching filter
func (r *UsageRepository) Oldest(ctx context.Context, filter usage.Filter) (*usage.Record, error) {
	where, args := usageWhere(filter)
	query := `
		SELECT id, user_id, project_id, created_at, opinions_processed, execution_ms
		FROM usage_records` + where + `
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	var (
		rec    usage.Record
		execMS int64
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ProjectID,
		&rec.Timestamp,
		&rec.OpinionsProcessed,
		&execMS,
	)
	if err != nil {
		return nil, mapGetError(err, "usage record")
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.ExecutionTime = time.Duration(execMS) * time.Millisecond
	return &rec, nil
}

func usageWhere(filter usage.Filter) (string, []any) {
	var conditions []string
	var args []any
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
