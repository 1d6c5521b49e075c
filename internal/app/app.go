// Package app wires the engine's components into one value.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rpggio/tally/internal/analysis"
	"github.com/rpggio/tally/internal/archive"
	"github.com/rpggio/tally/internal/bulk"
	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/counts"
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/protection"
	"github.com/rpggio/tally/internal/quota"
	"github.com/rpggio/tally/internal/realtime"
	"github.com/rpggio/tally/internal/replica"
	"github.com/rpggio/tally/internal/sentiment"
	"github.com/rpggio/tally/internal/sqlite"
	tallysync "github.com/rpggio/tally/internal/sync"
)

// App holds every component of a running engine.
type App struct {
	Config config.Config
	Logger *slog.Logger

	DB      *sqlite.DB
	Replica *replica.Store

	Projects   *sqlite.ProjectRepository
	Opinions   *sqlite.OpinionRepository
	Tasks      *sqlite.TaskRepository
	Topics     *sqlite.TopicRepository
	Usage      *sqlite.UsageRepository
	Plans      *sqlite.PlanRepository
	Operations *sqlite.OperationRepository
	Search     *sqlite.SearchRepository
	APIKeys    *sqlite.APIKeyRepository

	Journal     *journal.Service
	Hub         *realtime.Hub
	Guard       *archive.Guard
	Counts      *counts.Service
	Protection  *protection.Classifier
	Quota       *quota.Gate
	Coordinator *tallysync.Coordinator
	Sentiment   sentiment.Classifier
	Bulk        *bulk.Pipeline
	Analysis    *analysis.Runner
}

type options struct {
	engine     analysis.Engine
	classifier sentiment.Classifier
	wrap       func(*replica.Store) tallysync.Replica
}

// Option overrides a component built by New.
type Option func(*options)

// WithEngine replaces the analysis engine.
func WithEngine(e analysis.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithClassifier replaces the unbounded sentiment classifier.
func WithClassifier(c sentiment.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithReplica wraps the replica store the coordinator writes through.
func WithReplica(wrap func(*replica.Store) tallysync.Replica) Option {
	return func(o *options) { o.wrap = wrap }
}

// New opens both stores and builds the engine. The caller must Close it.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("prepare database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	store, err := replica.Open(replica.Config{
		Path:     cfg.Replica.Path,
		InMemory: cfg.Replica.InMemory,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Replica:    store,
		Projects:   sqlite.NewProjectRepository(db),
		Opinions:   sqlite.NewOpinionRepository(db),
		Tasks:      sqlite.NewTaskRepository(db),
		Topics:     sqlite.NewTopicRepository(db),
		Usage:      sqlite.NewUsageRepository(db),
		Plans:      sqlite.NewPlanRepository(db),
		Operations: sqlite.NewOperationRepository(db),
		Search:     sqlite.NewSearchRepository(db),
		APIKeys:    sqlite.NewAPIKeyRepository(db),
	}

	a.Journal = journal.NewService(sqlite.NewJournalRepository(db), logger)
	a.Hub = realtime.NewHub(cfg.Realtime.BufferSize, logger)
	a.Guard = archive.NewGuard(a.Projects, logger)
	a.Counts = counts.NewService(a.Projects, a.Opinions, a.Tasks, logger)
	a.Protection = protection.NewClassifier(a.Topics, a.Opinions, logger)
	a.Quota = quota.NewGate(a.Usage, a.Plans, cfg.Quota, logger)

	var target tallysync.Replica = store
	if o.wrap != nil {
		target = o.wrap(store)
	}
	a.Coordinator = tallysync.NewCoordinator(tallysync.Deps{
		Projects:   a.Projects,
		Opinions:   a.Opinions,
		Tasks:      a.Tasks,
		Topics:     a.Topics,
		Operations: a.Operations,
		Replica:    target,
		Guard:      a.Guard,
		Journal:    a.Journal,
		Notifier:   a.Hub,
		Logger:     logger,
	})

	inner := o.classifier
	if inner == nil {
		inner = sentiment.New(cfg.OpenAI, logger)
	}
	a.Sentiment = sentiment.NewBounded(inner, cfg.Bulk.SentimentTimeout, logger)
	a.Bulk = bulk.NewPipeline(a.Coordinator, a.Projects, a.Opinions, a.Quota, a.Guard, a.Sentiment, bulk.Config{
		BatchSize: cfg.Bulk.BatchSize,
		MaxErrors: cfg.Bulk.MaxErrors,
	}, logger)

	engine := o.engine
	if engine == nil {
		engine = defaultEngine(cfg.OpenAI, logger)
	}
	a.Analysis = analysis.NewRunner(a.Quota, a.Guard, a.Projects, a.Opinions, a.Topics, a.Protection, a.Coordinator, engine, cfg.Analysis.Timeout, logger)

	logging.Component(logger, "app").Info("engine ready",
		"db", cfg.DB.Path,
		"replica_in_memory", cfg.Replica.InMemory,
		"openai", cfg.OpenAI.APIKey != "",
	)
	return a, nil
}

func defaultEngine(cfg config.OpenAIConfig, logger *slog.Logger) analysis.Engine {
	if cfg.APIKey == "" {
		return analysis.SentimentEngine{}
	}
	return analysis.NewOpenAIEngine(sentiment.NewChatClient(cfg), cfg.Model, logger)
}

// Close releases both stores.
func (a *App) Close() error {
	rerr := a.Replica.Close()
	derr := a.DB.Close()
	if rerr != nil {
		return fmt.Errorf("close replica: %w", rerr)
	}
	return derr
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
