// Package bulk drives many opinion creations through the sync coordinator
// in fixed-size concurrent batches. Items succeed or fail independently.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/sentiment"
	tallysync "github.com/rpggio/tally/internal/sync"
	"golang.org/x/sync/errgroup"
)

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_bulk_items_total",
		Help: "Bulk ingestion items by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_bulk_batch_duration_seconds",
		Help:    "Time to resolve one ingestion batch",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	DefaultBatchSize = 10
	DefaultMaxErrors = 50
)

// Item is one opinion to ingest.
type Item struct {
	Content      string            `json:"content" yaml:"content"`
	Sentiment    opinion.Sentiment `json:"sentiment,omitempty" yaml:"sentiment"`
	SubmittedAt  *time.Time        `json:"submittedAt,omitempty" yaml:"submitted_at"`
	IsBookmarked bool              `json:"isBookmarked,omitempty" yaml:"bookmarked"`
	OperationID  string            `json:"operationId,omitempty" yaml:"operation_id"`
}

// Result summarizes an ingestion. Errors holds at most the configured
// number of messages; DroppedErrors counts the rest.
type Result struct {
	SuccessCount  int      `json:"successCount"`
	TotalCount    int      `json:"totalCount"`
	Errors        []string `json:"errors"`
	DroppedErrors int      `json:"droppedErrors,omitempty"`
	CreatedIDs    []string `json:"createdIds,omitempty"`
}

// Creator creates one opinion in both stores.
type Creator interface {
	CreateOpinion(ctx context.Context, o opinion.Opinion, opts ...tallysync.WriteOption) (*opinion.Opinion, error)
}

// ProjectFinder resolves the target project.
type ProjectFinder interface {
	FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error)
}

// OpinionCounter counts existing opinions for the ingest quota.
type OpinionCounter interface {
	Count(ctx context.Context, projectID string) (int, error)
}

// IngestQuota rejects imports that exceed the owner's plan.
type IngestQuota interface {
	CheckIngest(ctx context.Context, userID, projectID string, current, incoming int) error
}

// Guard rejects imports into archived projects.
type Guard interface {
	Check(ctx context.Context, parentID, actorID string) error
}

// Config tunes the pipeline.
type Config struct {
	BatchSize int
	MaxErrors int
}

// Pipeline ingests opinions in bounded batches.
type Pipeline struct {
	creator    Creator
	projects   ProjectFinder
	opinions   OpinionCounter
	quota      IngestQuota
	guard      Guard
	classifier sentiment.Classifier
	batchSize  int
	maxErrors  int
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. quota and guard may be nil.
func NewPipeline(creator Creator, projects ProjectFinder, opinions OpinionCounter, quota IngestQuota, guard Guard, classifier sentiment.Classifier, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	return &Pipeline{
		creator:    creator,
		projects:   projects,
		opinions:   opinions,
		quota:      quota,
		guard:      guard,
		classifier: classifier,
		batchSize:  cfg.BatchSize,
		maxErrors:  cfg.MaxErrors,
		logger:     logging.Component(logger, "bulk"),
	}
}

type itemResult struct {
	index int
	id    string
	err   error
}

// Ingest creates items under projectID. Per-item failures are reported in
// the result; an error is returned only when nothing could start: the
// project is missing or archived, or the import exceeds the plan.
func (p *Pipeline) Ingest(ctx context.Context, projectID, actorID string, items []Item) (*Result, error) {
	logger := logging.FromContext(ctx, p.logger).With("project_id", projectID)

	proj, err := p.projects.FindByAnyID(ctx, projectID, "")
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("project %s: %w", projectID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if p.guard != nil {
		if err := p.guard.Check(ctx, proj.ID, actorID); err != nil {
			return nil, err
		}
	}
	if p.quota != nil {
		current, err := p.opinions.Count(ctx, proj.ID)
		if err != nil {
			return nil, fmt.Errorf("count opinions: %w", err)
		}
		if err := p.quota.CheckIngest(ctx, proj.OwnerID, proj.ID, current, len(items)); err != nil {
			return nil, err
		}
	}

	result := &Result{TotalCount: len(items), Errors: []string{}}
	start := time.Now()
	for offset := 0; offset < len(items); offset += p.batchSize {
		if err := ctx.Err(); err != nil {
			logger.Warn("ingestion cancelled", "processed", offset, "total", len(items))
			return result, err
		}
		end := min(offset+p.batchSize, len(items))
		p.accumulate(result, p.runBatch(ctx, proj.ID, actorID, items[offset:end], offset))
	}

	logger.Info("bulk ingestion finished",
		"succeeded", result.SuccessCount,
		"total", result.TotalCount,
		"failed", result.TotalCount-result.SuccessCount,
		"duration", time.Since(start),
	)
	return result, nil
}

// runBatch creates every item of one batch concurrently and waits for all
// of them.
func (p *Pipeline) runBatch(ctx context.Context, projectID, actorID string, batch []Item, offset int) []itemResult {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	results := make([]itemResult, len(batch))
	var g errgroup.Group
	for i, item := range batch {
		g.Go(func() error {
			id, err := p.createOne(ctx, projectID, actorID, item)
			results[i] = itemResult{index: offset + i + 1, id: id, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) createOne(ctx context.Context, projectID, actorID string, item Item) (string, error) {
	op := opinion.Opinion{
		ProjectID:    projectID,
		Content:      item.Content,
		Sentiment:    item.Sentiment,
		IsBookmarked: item.IsBookmarked,
	}
	if item.SubmittedAt != nil {
		op.SubmittedAt = *item.SubmittedAt
	}
	if op.Sentiment == "" && strings.TrimSpace(op.Content) != "" && p.classifier != nil {
		// Bounded classifiers never fail; an unbounded one falling over
		// still leaves the default sentiment.
		if s, err := p.classifier.Classify(ctx, op.Content); err == nil {
			op.Sentiment = s
		}
	}

	opts := []tallysync.WriteOption{tallysync.WithActor(actorID)}
	if item.OperationID != "" {
		// Replays match the item as submitted, not the classified opinion.
		opts = append(opts,
			tallysync.WithOperationID(item.OperationID),
			tallysync.WithFingerprint(struct {
				ProjectID string
				Item      Item
			}{projectID, item}),
		)
	}
	created, err := p.creator.CreateOpinion(ctx, op, opts...)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (p *Pipeline) accumulate(result *Result, batch []itemResult) {
	for _, r := range batch {
		if r.err == nil {
			result.SuccessCount++
			result.CreatedIDs = append(result.CreatedIDs, r.id)
			itemsTotal.WithLabelValues("created").Inc()
			continue
		}
		itemsTotal.WithLabelValues("failed").Inc()
		p.logger.Debug("bulk item failed", "index", r.index, "error", r.err)
		if len(result.Errors) >= p.maxErrors {
			result.DroppedErrors++
			continue
		}
		result.Errors = append(result.Errors, fmt.Sprintf("Opinion %d: %s", r.index, r.err))
	}
}
