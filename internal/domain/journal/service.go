package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/rpggio/tally/internal/logging"
)

// Service appends and lists sync journal entries. Appends are best-effort:
// a failing journal never fails the write it describes.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new journal service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logging.Component(logger, "journal"), now: time.Now}
}

// Record appends an entry, stamping CreatedAt and the context correlation id
// when missing.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = logging.CorrelationID(ctx)
	}
	if err := s.repo.Append(ctx, &entry); err != nil {
		s.logger.Warn("journal append failed",
			"entity_id", entry.EntityID,
			"phase", entry.Phase,
			"error", err,
		)
	}
}

// List returns journal entries matching opts, oldest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return s.repo.List(ctx, opts)
}
