// Package quota gates AI analysis runs and bulk ingestion against plan
// limits recorded in the usage ledger.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/domain/usage"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/repository"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_quota_decisions_total",
		Help: "Quota checks by tier and outcome",
	}, []string{"tier", "outcome"})
	usageRecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_quota_usage_record_failures_total",
		Help: "Usage records that could not be appended after a completed analysis",
	})
)

// Plan limits one tier. A zero Limit means unlimited analyses. A zero
// Period counts analyses per project over its lifetime; otherwise per user
// over a rolling window.
type Plan struct {
	Limit                 int
	Period                time.Duration
	MaxOpinionsPerProject int
}

// Decision is the read-only outcome of CheckLimit.
type Decision struct {
	Allowed   bool       `json:"allowed"`
	Tier      usage.Tier `json:"tier"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	Unlimited bool       `json:"unlimited,omitempty"`
	ResetDate *time.Time `json:"resetDate,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Usage describes one completed analysis.
type Usage struct {
	OpinionsProcessed int
	ExecutionTime     time.Duration
}

// Gate checks and records analysis usage.
type Gate struct {
	ledger      repository.UsageRepository
	plans       repository.PlanRepository
	limits      map[usage.Tier]Plan
	defaultTier usage.Tier
	now         func() time.Time
	logger      *slog.Logger
}

// NewGate creates a gate from the configured plan tiers.
func NewGate(ledger repository.UsageRepository, plans repository.PlanRepository, cfg config.QuotaConfig, logger *slog.Logger) *Gate {
	limits := make(map[usage.Tier]Plan, len(cfg.Plans))
	for name, p := range cfg.Plans {
		limits[usage.Tier(name)] = Plan{
			Limit:                 p.Limit,
			Period:                p.Period,
			MaxOpinionsPerProject: p.MaxOpinionsPerProject,
		}
	}
	return &Gate{
		ledger:      ledger,
		plans:       plans,
		limits:      limits,
		defaultTier: usage.Tier(cfg.DefaultTier),
		now:         time.Now,
		logger:      logging.Component(logger, "quota"),
	}
}

// Tier returns the user's plan tier, falling back to the default tier for
// users without a stored plan.
func (g *Gate) Tier(ctx context.Context, userID string) (usage.Tier, Plan, error) {
	tier, err := g.plans.GetTier(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		tier = g.defaultTier
	} else if err != nil {
		return "", Plan{}, fmt.Errorf("load plan: %w", err)
	}
	plan, ok := g.limits[tier]
	if !ok {
		g.logger.Warn("unknown plan tier, using default", "user_id", userID, "tier", tier)
		tier = g.defaultTier
		plan = g.limits[tier]
	}
	return tier, plan, nil
}

// CheckLimit reports whether the user may run another analysis on the
// project. It never writes.
func (g *Gate) CheckLimit(ctx context.Context, userID, projectID string) (Decision, error) {
	tier, plan, err := g.Tier(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if plan.Limit <= 0 {
		decisionsTotal.WithLabelValues(string(tier), "allowed").Inc()
		return Decision{Allowed: true, Tier: tier, Unlimited: true, Remaining: -1}, nil
	}

	filter := usage.Filter{UserID: userID}
	if plan.Period == 0 {
		filter.ProjectID = projectID
	} else {
		since := g.now().Add(-plan.Period)
		filter.Since = &since
	}

	used, err := g.ledger.Count(ctx, filter)
	if err != nil {
		return Decision{}, fmt.Errorf("count usage: %w", err)
	}

	d := Decision{
		Allowed:   used < plan.Limit,
		Tier:      tier,
		Limit:     plan.Limit,
		Remaining: max(plan.Limit-used, 0),
	}
	if d.Allowed {
		decisionsTotal.WithLabelValues(string(tier), "allowed").Inc()
		return d, nil
	}

	if plan.Period > 0 {
		oldest, err := g.ledger.Oldest(ctx, filter)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Decision{}, fmt.Errorf("find usage window: %w", err)
		}
		if oldest != nil {
			reset := oldest.Timestamp.Add(plan.Period)
			d.ResetDate = &reset
		}
	}
	d.Message = exceededMessage(tier, plan, d.ResetDate)
	decisionsTotal.WithLabelValues(string(tier), "denied").Inc()
	return d, nil
}

// Require returns an *ExceededError when CheckLimit denies the analysis.
func (g *Gate) Require(ctx context.Context, userID, projectID string) (Decision, error) {
	d, err := g.CheckLimit(ctx, userID, projectID)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		logging.FromContext(ctx, g.logger).Info("analysis quota exceeded",
			"user_id", userID, "project_id", projectID, "tier", d.Tier, "limit", d.Limit)
		return d, &ExceededError{Resource: ResourceAnalyses, Decision: d}
	}
	return d, nil
}

// RecordUsage appends a completed analysis to the ledger. Failures are
// logged and swallowed; a finished analysis is never unwound.
func (g *Gate) RecordUsage(ctx context.Context, userID, projectID string, u Usage) {
	rec := &usage.Record{
		UserID:            userID,
		ProjectID:         projectID,
		Timestamp:         g.now(),
		OpinionsProcessed: u.OpinionsProcessed,
		ExecutionTime:     u.ExecutionTime,
	}
	if err := g.ledger.Append(ctx, rec); err != nil {
		usageRecordFailures.Inc()
		logging.FromContext(ctx, g.logger).Warn("failed to record usage",
			"user_id", userID, "project_id", projectID,
			"opinions_processed", u.OpinionsProcessed, "error", err)
	}
}

// CheckIngest rejects a bulk ingestion that would push the project past the
// plan's opinion cap.
func (g *Gate) CheckIngest(ctx context.Context, userID, projectID string, current, incoming int) error {
	tier, plan, err := g.Tier(ctx, userID)
	if err != nil {
		return err
	}
	if plan.MaxOpinionsPerProject <= 0 || current+incoming <= plan.MaxOpinionsPerProject {
		return nil
	}
	d := Decision{
		Tier:      tier,
		Limit:     plan.MaxOpinionsPerProject,
		Remaining: max(plan.MaxOpinionsPerProject-current, 0),
		Message: fmt.Sprintf("%s plan allows %d opinions per project; %d more would exceed it. Upgrade your plan to import more.",
			title(tier), plan.MaxOpinionsPerProject, incoming),
	}
	logging.FromContext(ctx, g.logger).Info("ingest quota exceeded",
		"user_id", userID, "project_id", projectID, "current", current, "incoming", incoming)
	return &ExceededError{Resource: ResourceOpinions, Decision: d}
}

func exceededMessage(tier usage.Tier, plan Plan, reset *time.Time) string {
	if plan.Period == 0 {
		return fmt.Sprintf("%s plan allows %d analyses per project. Upgrade your plan to analyze again.", title(tier), plan.Limit)
	}
	msg := fmt.Sprintf("%s plan allows %d analyses every %s.", title(tier), plan.Limit, humanPeriod(plan.Period))
	if reset != nil {
		msg += " Limit resets " + reset.UTC().Format(time.RFC3339) + "."
	}
	return msg + " Upgrade your plan for more."
}

func title(tier usage.Tier) string {
	s := string(tier)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func humanPeriod(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
