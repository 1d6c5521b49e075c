package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `tally collects free-text opinions into Projects, groups them into Topics, and tracks Tasks.

Core concepts:
- Project: owns opinions, tasks and topics. Opinion counts are always computed, never stored.
- Opinion: one submission with sentiment, bookmark and action status.
- Topic: a group of opinions produced by analysis. Once you act on a topic it is protected from being renamed by later runs.
- Archived project: read-only. Every write to it or its children fails with ARCHIVE_VIOLATION until it is unarchived.

Workflow:
1) list_projects / get_project to orient.
2) create_opinion for one item, ingest_opinions for many (partial success is normal; read the errors array).
3) check_quota, then run_analysis to build topics; list_topics shows which topics are protected.
4) update_opinion / update_topic to record what you did about the feedback.

Writes:
- Pass operation_id to make a write safe to retry.
- Pass expected_version to fail with CONFLICT instead of overwriting a newer change.
- REPLICA_SYNC_FAILED is retryable; COMPENSATION_FAILED is not.

Docs:
- tally://docs/index
- tally://docs/errors
- tally://docs/workflows/ingest
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "tally://docs/index",
		Name:        "docs_index",
		Title:       "tally docs index",
		Description: "What the tools do and which doc to read next.",
		Content: `# tally: Agent Docs Index

## Quick start

1. ` + "`list_projects`" + ` to find a project (counts included).
2. ` + "`ingest_opinions`" + ` or ` + "`create_opinion`" + ` to add feedback.
3. ` + "`check_quota`" + ` then ` + "`run_analysis`" + ` to group it into topics.
4. ` + "`list_topics`" + ` and ` + "`update_topic`" + ` to act on it.

## Docs

- ` + "`tally://docs/errors`" + ` error codes and what to do about each.
- ` + "`tally://docs/workflows/ingest`" + ` bulk import semantics.

## Limits

- Archived projects reject every write except unarchiving.
- Analysis runs are limited by plan; imports are limited by the plan's opinions per project.
`,
	},
	{
		URI:         "tally://docs/errors",
		Name:        "docs_errors",
		Title:       "Error codes",
		Description: "Error codes returned by tools, with the remedy for each.",
		Content: `# Error codes

Tool errors are returned as a JSON body with ` + "`code`" + `, ` + "`status`" + `, ` + "`message`" + ` and often ` + "`recovery_hint`" + `.

| Code | Status | Meaning | What to do |
|---|---|---|---|
| VALIDATION_ERROR | 400 | The payload is invalid. Nothing was written. | Fix the input. |
| ARCHIVE_VIOLATION | 403 | The project is archived. | Unarchive it with ` + "`update_project`" + ` (is_archived false, nothing else). |
| NOT_FOUND | 404 | The target or its project does not exist. | Check the id. |
| CONFLICT | 409 | The entity changed since you read it. | Reload and reapply. |
| QUOTA_EXCEEDED | 429 | The plan limit is reached. | Wait for the reset date or upgrade. |
| REPLICA_SYNC_FAILED | 500 | The change was rolled back. | Retry, ideally with the same operation_id. |
| COMPENSATION_FAILED | 500 | The rollback itself failed. | Do not retry; report the entity id. |
| PRIMARY_STORE_ERROR | 500 | The database failed. Nothing was written. | Retry later. |
`,
	},
	{
		URI:         "tally://docs/workflows/ingest",
		Name:        "workflow_ingest",
		Title:       "Bulk ingestion",
		Description: "How ingest_opinions reports partial success.",
		Content: `# Bulk ingestion

- Opinions are written in batches of ten; a failing item never stops the others.
- The result is ` + "`{successCount, totalCount, errors}`" + `; each error reads ` + "`Opinion N: reason`" + ` with N counted from 1.
- The whole import fails up front only when the project is missing, archived, or the import would exceed the plan.
- Missing sentiment is classified automatically; a slow classifier falls back to neutral.
- Give each item an operation_id to make re-running the same import safe.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
