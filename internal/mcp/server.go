package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/tally/internal/analysis"
	"github.com/rpggio/tally/internal/bulk"
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/protection"
	"github.com/rpggio/tally/internal/quota"
	tallysync "github.com/rpggio/tally/internal/sync"
)

// Writer is the sync coordinator as seen by tools.
type Writer interface {
	CreateProject(ctx context.Context, p project.Project, opts ...tallysync.WriteOption) (*project.Project, error)
	UpdateProject(ctx context.Context, id string, patch project.Patch, opts ...tallysync.WriteOption) (*project.Project, error)
	DeleteProject(ctx context.Context, id string, opts ...tallysync.WriteOption) error
	CreateOpinion(ctx context.Context, o opinion.Opinion, opts ...tallysync.WriteOption) (*opinion.Opinion, error)
	UpdateOpinion(ctx context.Context, id string, patch opinion.Patch, opts ...tallysync.WriteOption) (*opinion.Opinion, error)
	DeleteOpinion(ctx context.Context, id string, opts ...tallysync.WriteOption) error
	CreateTask(ctx context.Context, t task.Task, opts ...tallysync.WriteOption) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, patch task.Patch, opts ...tallysync.WriteOption) (*task.Task, error)
	DeleteTask(ctx context.Context, id string, opts ...tallysync.WriteOption) error
	UpdateTopic(ctx context.Context, id string, patch topic.Patch, opts ...tallysync.WriteOption) (*topic.Topic, error)
	DeleteTopic(ctx context.Context, id string, opts ...tallysync.WriteOption) error
}

// ProjectReader resolves projects for ownership checks.
type ProjectReader interface {
	FindByAnyID(ctx context.Context, id, ownerID string) (*project.Project, error)
}

// OpinionReader loads opinions for ownership checks.
type OpinionReader interface {
	Get(ctx context.Context, id string) (*opinion.Opinion, error)
	List(ctx context.Context, opts opinion.ListOptions) ([]opinion.Opinion, error)
}

// TaskReader loads tasks for ownership checks.
type TaskReader interface {
	Get(ctx context.Context, id string) (*task.Task, error)
}

// TopicReader loads topics.
type TopicReader interface {
	Get(ctx context.Context, id string) (*topic.Topic, error)
	List(ctx context.Context, projectID string) ([]topic.Topic, error)
}

// CountService serves derived counts.
type CountService interface {
	Summarize(ctx context.Context, projectID string) (*project.Summary, error)
	ListProjects(ctx context.Context, ownerID string) ([]project.Summary, error)
}

// ProtectionService classifies topics.
type ProtectionService interface {
	Evaluate(ctx context.Context, t topic.Topic) protection.Assessment
}

// QuotaService reports analysis quota.
type QuotaService interface {
	CheckLimit(ctx context.Context, userID, projectID string) (quota.Decision, error)
}

// Ingester runs bulk imports.
type Ingester interface {
	Ingest(ctx context.Context, projectID, actorID string, items []bulk.Item) (*bulk.Result, error)
}

// Analyzer runs analysis.
type Analyzer interface {
	Run(ctx context.Context, userID, projectID string, opts analysis.Options) (*analysis.Report, error)
}

// JournalReader lists sync journal entries.
type JournalReader interface {
	List(ctx context.Context, opts journal.ListOptions) ([]journal.Entry, error)
}

// Searcher runs full-text opinion search.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, opts opinion.SearchOptions) ([]opinion.SearchResult, error)
}

// Services contains everything the tools call.
type Services struct {
	Writer     Writer
	Projects   ProjectReader
	Opinions   OpinionReader
	Tasks      TaskReader
	Topics     TopicReader
	Counts     CountService
	Protection ProtectionService
	Quota      QuotaService
	Bulk       Ingester
	Analysis   Analyzer
	Journal    JournalReader
	Search     Searcher
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Resolver      UserResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	logger := logging.Component(cfg.Logger, "mcp")
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "tally",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       logger,
	})

	registerDocResources(server)

	// Stdio is local-only and never authenticates.
	auth := noAuthMiddleware(DefaultUser)
	if cfg.TransportMode != "stdio" && cfg.AuthEnabled {
		auth = authMiddleware(cfg.Resolver)
	}
	// Within one call the first middleware runs first.
	server.AddReceivingMiddleware(auth, correlationMiddleware(), trafficLoggingMiddleware(logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(logger, "outbound"))

	registerTools(server, &tools{svc: cfg.Services, logger: logger})
	return server
}
