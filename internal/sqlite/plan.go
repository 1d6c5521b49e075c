package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rpggio/tally/internal/domain/usage"
)

// PlanRepository implements repository.PlanRepository for SQLite
type PlanRepository struct {
	db *DB
}

// NewPlanRepository creates a new PlanRepository
func NewPlanRepository(db *DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// GetTier returns the user's plan tier, or repository.ErrNotFound
func (r *PlanRepository) GetTier(ctx context.Context, userID string) (usage.Tier, error) {
	var tier usage.Tier
	err := r.db.QueryRowContext(ctx, `SELECT tier FROM user_plans WHERE user_id = ?`, userID).Scan(&tier)
	if err != nil {
		return "", mapGetError(err, "plan")
	}
	return tier, nil
}

// SetTier assigns a plan tier to a user
func (r *PlanRepository) SetTier(ctx context.Context, userID string, tier usage.Tier) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_plans (user_id, tier, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at
	`, userID, tier, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}
