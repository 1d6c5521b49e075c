package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/tally/internal/analysis"
	"github.com/rpggio/tally/internal/bulk"
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/repository"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/rpggio/tally/internal/validation"
)

type tools struct {
	svc    Services
	logger *slog.Logger
}

func registerTools(server *sdkmcp.Server, t *tools) {
	// Projects
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "create_project", Description: "Create a project to collect opinions"}, t.createProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "update_project", Description: "Update, archive or unarchive a project"}, t.updateProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "delete_project", Description: "Delete a project with all its opinions, tasks and topics"}, t.deleteProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "list_projects", Description: "List your projects with opinion counts"}, t.listProjects)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "get_project", Description: "Get a project with its derived counts"}, t.getProject)

	// Opinions
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "create_opinion", Description: "Add one opinion to a project"}, t.createOpinion)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "submit_opinion", Description: "Submit an opinion to someone else's project, identified by project and owner id"}, t.submitOpinion)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "update_opinion", Description: "Update an opinion's bookmark, action status, priority or topic"}, t.updateOpinion)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "delete_opinion", Description: "Delete an opinion"}, t.deleteOpinion)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "list_opinions", Description: "List a project's opinions"}, t.listOpinions)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "search_opinions", Description: "Full-text search over a project's opinions"}, t.searchOpinions)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "ingest_opinions", Description: "Import many opinions at once; per-item failures are reported, not fatal"}, t.ingestOpinions)

	// Tasks
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "create_task", Description: "Add a task to a project"}, t.createTask)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "update_task", Description: "Update a task"}, t.updateTask)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "delete_task", Description: "Delete a task"}, t.deleteTask)

	// Topics and analysis
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "list_topics", Description: "List a project's topics with their protection state"}, t.listTopics)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "update_topic", Description: "Rename a topic or move its status"}, t.updateTopic)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "delete_topic", Description: "Delete a topic; its opinions become unassigned"}, t.deleteTopic)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "get_topic_protection", Description: "Explain whether re-analysis may rewrite a topic"}, t.topicProtection)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "check_quota", Description: "Check whether an analysis run is allowed"}, t.checkQuota)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "run_analysis", Description: "Group a project's opinions into topics"}, t.runAnalysis)

	// Operations
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "get_sync_journal", Description: "List the write phases recorded for a project"}, t.syncJournal)
}

// respond turns a service result into a tool result. Known engine errors
// become an IsError result carrying an APIError body; anything else is
// returned as a plain error.
func (t *tools) respond(ctx context.Context, tool string, v any, err error) (*sdkmcp.CallToolResult, any, error) {
	if err == nil {
		return nil, v, nil
	}
	logger := logging.FromContext(ctx, t.logger).With("tool", tool, "user_id", userID(ctx))
	apiErr := MapError(err)
	if apiErr == nil {
		logger.Error("tool failed", "error", err)
		return nil, nil, err
	}
	if apiErr.Status >= 500 {
		logger.Error("tool failed", "code", apiErr.Code, "error", err)
	} else {
		logger.Debug("tool rejected", "code", apiErr.Code, "error", err)
	}
	body, merr := json.Marshal(apiErr)
	if merr != nil {
		return nil, nil, err
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(body)}},
	}, nil, nil
}

func (t *tools) writeOptions(ctx context.Context, w WriteParams) []tallysync.WriteOption {
	opts := []tallysync.WriteOption{tallysync.WithActor(userID(ctx))}
	if w.OperationID != "" {
		opts = append(opts, tallysync.WithOperationID(w.OperationID))
	}
	if w.ExpectedVersion != nil {
		opts = append(opts, tallysync.WithExpectedVersion(*w.ExpectedVersion))
	}
	return opts
}

// ownedProject resolves id and hides projects owned by someone else.
func (t *tools) ownedProject(ctx context.Context, id string) (*project.Project, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Invalid("project_id is required")
	}
	proj, err := t.svc.Projects.FindByAnyID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if proj.OwnerID != userID(ctx) {
		return nil, fmt.Errorf("project %s: %w", id, repository.ErrNotFound)
	}
	return proj, nil
}

func (t *tools) ownedOpinion(ctx context.Context, id string) (*opinion.Opinion, error) {
	op, err := t.svc.Opinions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := t.ownedProject(ctx, op.ProjectID); err != nil {
		return nil, err
	}
	return op, nil
}

func (t *tools) ownedTopic(ctx context.Context, id string) (*topic.Topic, error) {
	tp, err := t.svc.Topics.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := t.ownedProject(ctx, tp.ProjectID); err != nil {
		return nil, err
	}
	return tp, nil
}

func (t *tools) createProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateProjectParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.svc.Writer.CreateProject(ctx, project.Project{
		OwnerID:     userID(ctx),
		Name:        in.Name,
		Description: in.Description,
	}, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "create_project", proj, err)
}

func (t *tools) updateProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateProjectParams) (*sdkmcp.CallToolResult, any, error) {
	if _, err := t.ownedProject(ctx, in.ID); err != nil {
		return t.respond(ctx, "update_project", nil, err)
	}
	patch := project.Patch{
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		IsArchived:  in.IsArchived,
	}
	if in.PriorityLevel != nil || in.PriorityReason != nil {
		var prio project.Priority
		if in.PriorityLevel != nil {
			prio.Level = *in.PriorityLevel
		}
		if in.PriorityReason != nil {
			prio.Reason = *in.PriorityReason
		}
		patch.Priority = &prio
	}
	proj, err := t.svc.Writer.UpdateProject(ctx, in.ID, patch, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "update_project", proj, err)
}

func (t *tools) deleteProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in IDParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ID)
	if err == nil {
		err = t.svc.Writer.DeleteProject(ctx, proj.ID, t.writeOptions(ctx, in.WriteParams)...)
	}
	return t.respond(ctx, "delete_project", Deleted{ID: in.ID, Deleted: err == nil}, err)
}

func (t *tools) listProjects(ctx context.Context, _ *sdkmcp.CallToolRequest, _ ListProjectsParams) (*sdkmcp.CallToolResult, any, error) {
	list, err := t.svc.Counts.ListProjects(ctx, userID(ctx))
	if list == nil {
		list = []project.Summary{}
	}
	return t.respond(ctx, "list_projects", map[string]any{"projects": list}, err)
}

func (t *tools) getProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "get_project", nil, err)
	}
	summary, err := t.svc.Counts.Summarize(ctx, proj.ID)
	return t.respond(ctx, "get_project", summary, err)
}

func (t *tools) createOpinion(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateOpinionParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "create_opinion", nil, err)
	}
	o := opinion.Opinion{ProjectID: proj.ID, Content: in.Content, IsBookmarked: in.IsBookmarked}
	if in.Sentiment != nil {
		o.Sentiment = *in.Sentiment
	}
	op, err := t.svc.Writer.CreateOpinion(ctx, o, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "create_opinion", op, err)
}

func (t *tools) submitOpinion(ctx context.Context, _ *sdkmcp.CallToolRequest, in SubmitOpinionParams) (*sdkmcp.CallToolResult, any, error) {
	opts := []tallysync.WriteOption{tallysync.WithPublicOwner(in.OwnerID)}
	if in.OperationID != "" {
		opts = append(opts, tallysync.WithOperationID(in.OperationID))
	}
	op, err := t.svc.Writer.CreateOpinion(ctx, opinion.Opinion{ProjectID: in.ProjectID, Content: in.Content}, opts...)
	return t.respond(ctx, "submit_opinion", op, err)
}

func (t *tools) updateOpinion(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateOpinionParams) (*sdkmcp.CallToolResult, any, error) {
	if _, err := t.ownedOpinion(ctx, in.ID); err != nil {
		return t.respond(ctx, "update_opinion", nil, err)
	}
	patch := opinion.Patch{
		Content:        in.Content,
		Sentiment:      in.Sentiment,
		IsBookmarked:   in.IsBookmarked,
		ActionStatus:   in.ActionStatus,
		PriorityLevel:  in.PriorityLevel,
		PriorityReason: in.PriorityReason,
	}
	if in.TopicID != nil {
		if *in.TopicID == "" {
			patch.ClearTopic = true
		} else {
			patch.TopicID = in.TopicID
		}
	}
	op, err := t.svc.Writer.UpdateOpinion(ctx, in.ID, patch, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "update_opinion", op, err)
}

func (t *tools) deleteOpinion(ctx context.Context, _ *sdkmcp.CallToolRequest, in IDParams) (*sdkmcp.CallToolResult, any, error) {
	_, err := t.ownedOpinion(ctx, in.ID)
	if err == nil {
		err = t.svc.Writer.DeleteOpinion(ctx, in.ID, t.writeOptions(ctx, in.WriteParams)...)
	}
	return t.respond(ctx, "delete_opinion", Deleted{ID: in.ID, Deleted: err == nil}, err)
}

func (t *tools) listOpinions(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListOpinionsParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "list_opinions", nil, err)
	}
	list, err := t.svc.Opinions.List(ctx, opinion.ListOptions{
		ProjectID:  proj.ID,
		TopicID:    in.TopicID,
		Bookmarked: in.Bookmarked,
		Limit:      in.Limit,
		Offset:     in.Offset,
	})
	if list == nil {
		list = []opinion.Opinion{}
	}
	return t.respond(ctx, "list_opinions", map[string]any{"opinions": list}, err)
}

func (t *tools) searchOpinions(ctx context.Context, _ *sdkmcp.CallToolRequest, in SearchOpinionsParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "search_opinions", nil, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return t.respond(ctx, "search_opinions", nil, validation.Invalid("query is required"))
	}
	hits, err := t.svc.Search.Search(ctx, proj.ID, in.Query, opinion.SearchOptions{Limit: in.Limit, Offset: in.Offset})
	if hits == nil {
		hits = []opinion.SearchResult{}
	}
	return t.respond(ctx, "search_opinions", map[string]any{"results": hits}, err)
}

func (t *tools) ingestOpinions(ctx context.Context, _ *sdkmcp.CallToolRequest, in IngestParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "ingest_opinions", nil, err)
	}
	items := make([]bulk.Item, 0, len(in.Opinions))
	for i, it := range in.Opinions {
		item := bulk.Item{
			Content:      it.Content,
			Sentiment:    opinion.Sentiment(it.Sentiment),
			IsBookmarked: it.IsBookmarked,
			OperationID:  it.OperationID,
		}
		if it.SubmittedAt != "" {
			at, perr := time.Parse(time.RFC3339, it.SubmittedAt)
			if perr != nil {
				return t.respond(ctx, "ingest_opinions", nil, validation.Invalid(fmt.Sprintf("opinion %d: submitted_at: %v", i+1, perr)))
			}
			item.SubmittedAt = &at
		}
		items = append(items, item)
	}
	result, err := t.svc.Bulk.Ingest(ctx, proj.ID, userID(ctx), items)
	return t.respond(ctx, "ingest_opinions", result, err)
}

func (t *tools) createTask(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateTaskParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "create_task", nil, err)
	}
	created, err := t.svc.Writer.CreateTask(ctx, task.Task{
		ProjectID:   proj.ID,
		Title:       in.Title,
		Description: in.Description,
	}, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "create_task", created, err)
}

func (t *tools) ownedTask(ctx context.Context, id string) error {
	tk, err := t.svc.Tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = t.ownedProject(ctx, tk.ProjectID)
	return err
}

func (t *tools) updateTask(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateTaskParams) (*sdkmcp.CallToolResult, any, error) {
	if err := t.ownedTask(ctx, in.ID); err != nil {
		return t.respond(ctx, "update_task", nil, err)
	}
	updated, err := t.svc.Writer.UpdateTask(ctx, in.ID, task.Patch{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
	}, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "update_task", updated, err)
}

func (t *tools) deleteTask(ctx context.Context, _ *sdkmcp.CallToolRequest, in IDParams) (*sdkmcp.CallToolResult, any, error) {
	err := t.ownedTask(ctx, in.ID)
	if err == nil {
		err = t.svc.Writer.DeleteTask(ctx, in.ID, t.writeOptions(ctx, in.WriteParams)...)
	}
	return t.respond(ctx, "delete_task", Deleted{ID: in.ID, Deleted: err == nil}, err)
}

func (t *tools) listTopics(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "list_topics", nil, err)
	}
	topics, err := t.svc.Topics.List(ctx, proj.ID)
	if err != nil {
		return t.respond(ctx, "list_topics", nil, err)
	}
	views := make([]TopicView, 0, len(topics))
	for _, tp := range topics {
		views = append(views, TopicView{Topic: tp, Protection: t.svc.Protection.Evaluate(ctx, tp)})
	}
	return t.respond(ctx, "list_topics", map[string]any{"topics": views}, nil)
}

func (t *tools) updateTopic(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateTopicParams) (*sdkmcp.CallToolResult, any, error) {
	if _, err := t.ownedTopic(ctx, in.ID); err != nil {
		return t.respond(ctx, "update_topic", nil, err)
	}
	updated, err := t.svc.Writer.UpdateTopic(ctx, in.ID, topic.Patch{
		Name:    in.Name,
		Summary: in.Summary,
		Status:  in.Status,
	}, t.writeOptions(ctx, in.WriteParams)...)
	return t.respond(ctx, "update_topic", updated, err)
}

func (t *tools) deleteTopic(ctx context.Context, _ *sdkmcp.CallToolRequest, in IDParams) (*sdkmcp.CallToolResult, any, error) {
	_, err := t.ownedTopic(ctx, in.ID)
	if err == nil {
		err = t.svc.Writer.DeleteTopic(ctx, in.ID, t.writeOptions(ctx, in.WriteParams)...)
	}
	return t.respond(ctx, "delete_topic", Deleted{ID: in.ID, Deleted: err == nil}, err)
}

func (t *tools) topicProtection(ctx context.Context, _ *sdkmcp.CallToolRequest, in IDParams) (*sdkmcp.CallToolResult, any, error) {
	tp, err := t.ownedTopic(ctx, in.ID)
	if err != nil {
		return t.respond(ctx, "get_topic_protection", nil, err)
	}
	return t.respond(ctx, "get_topic_protection", t.svc.Protection.Evaluate(ctx, *tp), nil)
}

func (t *tools) checkQuota(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "check_quota", nil, err)
	}
	decision, err := t.svc.Quota.CheckLimit(ctx, userID(ctx), proj.ID)
	return t.respond(ctx, "check_quota", decision, err)
}

func (t *tools) runAnalysis(ctx context.Context, _ *sdkmcp.CallToolRequest, in RunAnalysisParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "run_analysis", nil, err)
	}
	report, err := t.svc.Analysis.Run(ctx, userID(ctx), proj.ID, analysis.Options{
		MaxTopics: in.MaxTopics,
		Language:  in.Language,
	})
	return t.respond(ctx, "run_analysis", report, err)
}

func (t *tools) syncJournal(ctx context.Context, _ *sdkmcp.CallToolRequest, in JournalParams) (*sdkmcp.CallToolResult, any, error) {
	proj, err := t.ownedProject(ctx, in.ProjectID)
	if err != nil {
		return t.respond(ctx, "get_sync_journal", nil, err)
	}
	entries, err := t.svc.Journal.List(ctx, journal.ListOptions{
		ProjectID:     proj.ID,
		EntityID:      in.EntityID,
		CorrelationID: in.CorrelationID,
		Limit:         in.Limit,
	})
	if entries == nil {
		entries = []journal.Entry{}
	}
	return t.respond(ctx, "get_sync_journal", map[string]any{"entries": entries}, err)
}
