package sqlite

import (
	"context"
	"fmt"

	"github.com/rpggio/tally/internal/domain/journal"
)

// OperationRepository implements repository.OperationRepository for SQLite
type OperationRepository struct {
	db *DB
}

// NewOperationRepository creates a new OperationRepository
func NewOperationRepository(db *DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Get retrieves an operation by its caller-supplied ID
func (r *OperationRepository) Get(ctx context.Context, id string) (*journal.Operation, error) {
	var op journal.Operation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, op, entity_id, fingerprint, status, created_at
		FROM sync_operations WHERE id = ?
	`, id).Scan(
		&op.ID,
		&op.Kind,
		&op.Op,
		&op.EntityID,
		&op.Fingerprint,
		&op.Status,
		&op.CreatedAt,
	)
	if err != nil {
		return nil, mapGetError(err, "operation")
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return &op, nil
}

// Save inserts or replaces an operation
func (r *OperationRepository) Save(ctx context.Context, op *journal.Operation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_operations (id, kind, op, entity_id, fingerprint, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_id = excluded.entity_id,
			status = excluded.status
	`,
		op.ID,
		op.Kind,
		op.Op,
		op.EntityID,
		op.Fingerprint,
		op.Status,
		utc(op.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	return nil
}
