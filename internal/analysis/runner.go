package analysis

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
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/protection"
	"github.com/rpggio/tally/internal/quota"
	"github.com/rpggio/tally/internal/repository"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/rpggio/tally/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tally.analysis")

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tally_analysis_runs_total",
	Help: "Analysis runs by outcome",
}, []string{"outcome"})

// ErrEngine wraps failures of the analysis engine itself.
var ErrEngine = errors.New("analysis engine failed")

// Quota is the part of the quota gate a run needs.
type Quota interface {
	Require(ctx context.Context, userID, projectID string) (quota.Decision, error)
	RecordUsage(ctx context.Context, userID, projectID string, u quota.Usage)
}

// Guard rejects runs against archived projects.
type Guard interface {
	Check(ctx context.Context, parentID, actorID string) error
}

// Protection classifies existing topics.
type Protection interface {
	Evaluate(ctx context.Context, t topic.Topic) protection.Assessment
	HasActiveActions(ctx context.Context, topicID string) bool
}

// Writer applies results through the sync coordinator.
type Writer interface {
	UpdateProject(ctx context.Context, id string, patch project.Patch, opts ...tallysync.WriteOption) (*project.Project, error)
	CreateTopic(ctx context.Context, t topic.Topic, opts ...tallysync.WriteOption) (*topic.Topic, error)
	UpdateTopic(ctx context.Context, id string, patch topic.Patch, opts ...tallysync.WriteOption) (*topic.Topic, error)
	UpdateOpinion(ctx context.Context, id string, patch opinion.Patch, opts ...tallysync.WriteOption) (*opinion.Opinion, error)
}

// Report summarizes a completed run.
type Report struct {
	ProjectID         string        `json:"projectId"`
	OpinionsProcessed int           `json:"opinionsProcessed"`
	TopicsCreated     int           `json:"topicsCreated"`
	TopicsUpdated     int           `json:"topicsUpdated"`
	TopicsPreserved   int           `json:"topicsPreserved"`
	OpinionsAssigned  int           `json:"opinionsAssigned"`
	AssignFailures    int           `json:"assignFailures,omitempty"`
	Insights          []string      `json:"insights"`
	Remaining         int           `json:"remaining"`
	Duration          time.Duration `json:"duration"`
}

// Runner executes analysis runs.
type Runner struct {
	quota      Quota
	guard      Guard
	projects   repository.ProjectRepository
	opinions   repository.OpinionRepository
	topics     repository.TopicRepository
	protection Protection
	writer     Writer
	engine     Engine
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner creates a runner. timeout bounds the engine call only.
func NewRunner(q Quota, guard Guard, projects repository.ProjectRepository, opinions repository.OpinionRepository, topics repository.TopicRepository, prot Protection, writer Writer, engine Engine, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		quota:      q,
		guard:      guard,
		projects:   projects,
		opinions:   opinions,
		topics:     topics,
		protection: prot,
		writer:     writer,
		engine:     engine,
		timeout:    timeout,
		logger:     logging.Component(logger, "analysis"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run analyzes a project on behalf of userID. The quota gate is consulted
// before anything else; a denied run never reaches the engine.
func (r *Runner) Run(ctx context.Context, userID, projectID string, opts Options) (report *Report, err error) {
	ctx, span := tracer.Start(ctx, "analysis.Run")
	span.SetAttributes(attribute.String("analysis.project_id", projectID))
	defer func() {
		runsTotal.WithLabelValues(runOutcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	logger := logging.FromContext(ctx, r.logger).With("project_id", projectID, "user_id", userID)

	proj, err := r.projects.FindByAnyID(ctx, projectID, "")
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", projectID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	decision, err := r.quota.Require(ctx, userID, proj.ID)
	if err != nil {
		return nil, err
	}
	if err := r.guard.Check(ctx, proj.ID, userID); err != nil {
		return nil, err
	}

	opinions, err := r.opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	if err != nil {
		return nil, fmt.Errorf("load opinions: %w", err)
	}
	if len(opinions) == 0 {
		return nil, validation.Invalid("project has no opinions to analyze")
	}
	existing, err := r.existingTopics(ctx, proj.ID)
	if err != nil {
		return nil, err
	}

	processing := project.StatusProcessing
	if proj, err = r.writer.UpdateProject(ctx, proj.ID, project.Patch{Status: &processing}, tallysync.WithActor(userID)); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	start := time.Now()
	result, err := r.analyze(ctx, Input{Project: *proj, Opinions: opinions, Topics: existing, Options: opts})
	if err != nil {
		failed := project.StatusError
		if _, uerr := r.writer.UpdateProject(context.WithoutCancel(ctx), proj.ID, project.Patch{Status: &failed}, tallysync.WithActor(userID)); uerr != nil {
			logger.Error("failed to mark project errored", "error", uerr)
		}
		logger.Warn("analysis engine failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}

	report = &Report{
		ProjectID:         proj.ID,
		OpinionsProcessed: len(opinions),
		Insights:          result.Insights,
		Remaining:         max(decision.Remaining-1, 0),
	}
	if decision.Unlimited {
		report.Remaining = -1
	}
	r.apply(ctx, logger, userID, proj.ID, opinions, existing, result, report)

	// The run is billable once its results are written, whatever happens to
	// the status update below.
	report.Duration = time.Since(start)
	r.quota.RecordUsage(ctx, userID, proj.ID, quota.Usage{
		OpinionsProcessed: len(opinions),
		ExecutionTime:     report.Duration,
	})

	completed := project.StatusCompleted
	at := r.now()
	count := len(opinions)
	if _, err := r.writer.UpdateProject(ctx, proj.ID, project.Patch{
		Status:                   &completed,
		LastAnalysisAt:           &at,
		LastAnalyzedOpinionCount: &count,
	}, tallysync.WithActor(userID)); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	logger.Info("analysis completed",
		"opinions", report.OpinionsProcessed,
		"topics_created", report.TopicsCreated,
		"topics_updated", report.TopicsUpdated,
		"topics_preserved", report.TopicsPreserved,
		"duration", report.Duration,
	)
	return report, nil
}

func (r *Runner) analyze(ctx context.Context, in Input) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result, err := r.engine.Analyze(ctx, in)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &Result{}, nil
	}
	return result, nil
}

func (r *Runner) existingTopics(ctx context.Context, projectID string) ([]ExistingTopic, error) {
	topics, err := r.topics.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	existing := make([]ExistingTopic, 0, len(topics))
	for _, t := range topics {
		existing = append(existing, ExistingTopic{Topic: t, Protection: r.protection.Evaluate(ctx, t)})
	}
	return existing, nil
}

// reassess reloads a topic and classifies it again. The engine call can
// outlast an owner's status change, so assessments taken before it are
// stale by the time results are written. A topic that cannot be reloaded
// counts as protected.
func (r *Runner) reassess(ctx context.Context, t ExistingTopic) ExistingTopic {
	fresh, err := r.topics.Get(ctx, t.ID)
	if err != nil {
		t.Protection = protection.Assessment{TopicID: t.ID, Protected: true, Reason: "unavailable"}
		return t
	}
	return ExistingTopic{Topic: *fresh, Protection: r.protection.Evaluate(ctx, *fresh)}
}

// rewrite is the name and summary change proposed for t, if any.
func rewrite(t topic.Topic, proposed TopicResult) topic.Patch {
	var patch topic.Patch
	if t.Name != proposed.Name {
		patch.Name = &proposed.Name
	}
	if t.Summary != proposed.Summary {
		patch.Summary = &proposed.Summary
	}
	return patch
}

// apply writes the engine's topics and assignments. Protected topics keep
// their name and summary and only gain opinions; opinions already in a
// protected topic stay there. Protection is checked again before either
// rule is relied on.
func (r *Runner) apply(ctx context.Context, logger *slog.Logger, userID, projectID string, opinions []opinion.Opinion, existing []ExistingTopic, result *Result, report *Report) {
	byID := make(map[string]ExistingTopic, len(existing))
	byName := make(map[string]ExistingTopic, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
		byName[strings.ToLower(strings.TrimSpace(t.Name))] = t
	}
	current := make(map[string]opinion.Opinion, len(opinions))
	for _, o := range opinions {
		current[o.ID] = o
	}
	actor := tallysync.WithActor(userID)
	touched := make(map[string]struct{})
	fresh := make(map[string]bool)
	protectedNow := func(t ExistingTopic) ExistingTopic {
		switch {
		case fresh[t.ID]:
			return byID[t.ID]
		case t.Protection.Protected:
			return t
		}
		t = r.reassess(ctx, t)
		byID[t.ID] = t
		fresh[t.ID] = true
		return t
	}

	for _, proposed := range result.Topics {
		match, found := byID[proposed.ID]
		if !found {
			match, found = byName[strings.ToLower(strings.TrimSpace(proposed.Name))]
		}

		var topicID string
		if found && rewrite(match.Topic, proposed).RewritesText() {
			match = protectedNow(match)
		}
		switch {
		case found && match.Protection.Protected:
			topicID = match.ID
			report.TopicsPreserved++
			logger.Debug("topic protected, keeping name and summary",
				"topic_id", match.ID, "reason", match.Protection.Reason)
		case found:
			topicID = match.ID
			patch := rewrite(match.Topic, proposed)
			if !patch.RewritesText() {
				break
			}
			_, err := r.writer.UpdateTopic(ctx, match.ID, patch, actor, tallysync.WithExpectedVersion(match.Version))
			switch {
			case errors.Is(err, repository.ErrConflict):
				report.TopicsPreserved++
				logger.Debug("topic changed during analysis, keeping name and summary", "topic_id", match.ID)
			case err != nil:
				logger.Warn("failed to update topic", "topic_id", match.ID, "error", err)
			default:
				report.TopicsUpdated++
			}
		default:
			created, err := r.writer.CreateTopic(ctx, topic.Topic{
				ProjectID: projectID,
				Name:      proposed.Name,
				Summary:   proposed.Summary,
			}, actor)
			if err != nil {
				logger.Warn("failed to create topic", "name", proposed.Name, "error", err)
				continue
			}
			topicID = created.ID
			report.TopicsCreated++
		}

		for _, id := range proposed.OpinionIDs {
			o, ok := current[id]
			if !ok {
				continue
			}
			if o.TopicID != nil && *o.TopicID != topicID {
				if prev, ok := byID[*o.TopicID]; ok && protectedNow(prev).Protection.Protected {
					continue
				}
			}
			analyzedAt := r.now()
			_, err := r.writer.UpdateOpinion(ctx, id, opinion.Patch{
				TopicID: &topicID,
				Analysis: &opinion.AnalysisState{
					LastAnalyzedAt:   &analyzedAt,
					Version:          o.Analysis.Version + 1,
					Confidence:       clamp(proposed.Confidence),
					ManualReviewFlag: proposed.Confidence < 0.5,
				},
			}, actor)
			if err != nil {
				report.AssignFailures++
				logger.Warn("failed to assign opinion", "opinion_id", id, "topic_id", topicID, "error", err)
				continue
			}
			report.OpinionsAssigned++
			touched[topicID] = struct{}{}
		}
	}

	r.refreshActiveActions(ctx, logger, touched, byID, actor)
}

// refreshActiveActions re-derives the cached flag of topics that gained
// opinions.
func (r *Runner) refreshActiveActions(ctx context.Context, logger *slog.Logger, touched map[string]struct{}, byID map[string]ExistingTopic, actor tallysync.WriteOption) {
	for id := range touched {
		active := r.protection.HasActiveActions(ctx, id)
		if prev, ok := byID[id]; ok && prev.HasActiveActions == active {
			continue
		}
		if !active {
			if _, ok := byID[id]; !ok {
				continue
			}
		}
		if _, err := r.writer.UpdateTopic(ctx, id, topic.Patch{HasActiveActions: &active}, actor); err != nil {
			logger.Warn("failed to refresh topic action cache", "topic_id", id, "error", err)
		}
	}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrEngine):
		return "engine_failed"
	default:
		return "rejected"
	}
}
