package integration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rpggio/tally/internal/app"
	"github.com/rpggio/tally/internal/bulk"
	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/replica"
	"github.com/rpggio/tally/internal/sentiment"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/stretchr/testify/require"
)

const owner = "owner-1"

// fileConfig keeps both stores on disk so a test can reopen them.
func fileConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DB.Path = filepath.Join(dir, "data", "tally.db")
	cfg.Replica.Path = filepath.Join(dir, "data", "replica")
	cfg.Server.Transport = "http"
	return cfg
}

func open(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(cfg, nil, app.WithClassifier(sentiment.Lexicon{}))
	require.NoError(t, err)
	return a
}

// requireStoresAgree checks every primary opinion has a replica document
// at the same version.
func requireStoresAgree(t *testing.T, a *app.App, proj *project.Project) {
	t.Helper()
	ctx := context.Background()

	var replicaProject project.Project
	require.NoError(t, a.Replica.Get(ctx, replica.ProjectPath(proj.OwnerID, proj.ReplicaID), &replicaProject))
	primaryProject, err := a.Projects.Get(ctx, proj.ID)
	require.NoError(t, err)
	require.Equal(t, primaryProject.Version, replicaProject.Version)
	require.Equal(t, primaryProject.IsArchived, replicaProject.IsArchived)

	opinions, err := a.Opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	require.NoError(t, err)
	for _, op := range opinions {
		var doc opinion.Opinion
		require.NoError(t, a.Replica.Get(ctx, replica.OpinionPath(proj.OwnerID, proj.ReplicaID, op.ID), &doc))
		require.Equal(t, op.Version, doc.Version, "opinion %s", op.ID)
		require.Equal(t, op.Content, doc.Content)
		require.Equal(t, op.IsBookmarked, doc.IsBookmarked)
	}

	paths, err := a.Replica.List(ctx, replica.ProjectPath(proj.OwnerID, proj.ReplicaID)+"/opinions")
	require.NoError(t, err)
	require.Len(t, paths, len(opinions))
}

func TestStoresStayConsistentAcrossRestart(t *testing.T) {
	cfg := fileConfig(t)
	ctx := context.Background()
	actor := tallysync.WithActor(owner)

	a := open(t, cfg)
	proj, err := a.Coordinator.CreateProject(ctx, project.Project{OwnerID: owner, Name: "Persisted"}, actor)
	require.NoError(t, err)

	result, err := a.Bulk.Ingest(ctx, proj.ID, owner, []bulk.Item{
		{Content: "love the new editor"},
		{Content: "search is slow"},
		{Content: "ok I guess"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.SuccessCount)

	bookmark := true
	_, err = a.Coordinator.UpdateOpinion(ctx, result.CreatedIDs[0], opinion.Patch{IsBookmarked: &bookmark}, actor)
	require.NoError(t, err)
	require.NoError(t, a.Coordinator.DeleteOpinion(ctx, result.CreatedIDs[2], actor))

	tk, err := a.Coordinator.CreateTask(ctx, task.Task{ProjectID: proj.ID, Title: "Speed up search"}, actor)
	require.NoError(t, err)

	requireStoresAgree(t, a, proj)
	require.NoError(t, a.Close())

	a = open(t, cfg)
	defer a.Close()
	requireStoresAgree(t, a, proj)

	total, err := a.Counts.TotalOpinions(ctx, proj.ID)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	var doc task.Task
	require.NoError(t, a.Replica.Get(ctx, replica.TaskPath(owner, proj.ReplicaID, tk.ID), &doc))
	require.Equal(t, "Speed up search", doc.Title)
}

func TestDeleteProjectClearsBothStores(t *testing.T) {
	cfg := fileConfig(t)
	ctx := context.Background()
	actor := tallysync.WithActor(owner)

	a := open(t, cfg)
	defer a.Close()

	proj, err := a.Coordinator.CreateProject(ctx, project.Project{OwnerID: owner, Name: "Doomed"}, actor)
	require.NoError(t, err)
	_, err = a.Coordinator.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "bye"}, actor)
	require.NoError(t, err)
	_, err = a.Coordinator.CreateTask(ctx, task.Task{ProjectID: proj.ID, Title: "cleanup"}, actor)
	require.NoError(t, err)

	require.NoError(t, a.Coordinator.DeleteProject(ctx, proj.ID, actor))

	paths, err := a.Replica.List(ctx, replica.ProjectPath(owner, proj.ReplicaID))
	require.NoError(t, err)
	require.Empty(t, paths)

	opinions, err := a.Opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	require.NoError(t, err)
	require.Empty(t, opinions)

	var doc project.Project
	require.ErrorIs(t, a.Replica.Get(ctx, replica.ProjectPath(owner, proj.ReplicaID), &doc), replica.ErrNotFound)
}
