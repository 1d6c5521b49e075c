package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpggio/tally/internal/archive"
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/realtime"
	"github.com/rpggio/tally/internal/replica"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/sqlite"
	"github.com/rpggio/tally/internal/validation"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// flakyReplica fails selected operations on demand.
type flakyReplica struct {
	*replica.Store
	failSet    atomic.Bool
	failUpdate atomic.Bool
	failRemove atomic.Bool
}

func (f *flakyReplica) Set(ctx context.Context, path string, value any) error {
	if f.failSet.Load() {
		return errInjected
	}
	return f.Store.Set(ctx, path, value)
}

func (f *flakyReplica) Update(ctx context.Context, path string, fields map[string]any) error {
	if f.failUpdate.Load() {
		return errInjected
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *flakyReplica) Remove(ctx context.Context, path string) error {
	if f.failRemove.Load() {
		return errInjected
	}
	return f.Store.Remove(ctx, path)
}

type flakyProjects struct {
	repository.ProjectRepository
	deleteErr error
}

func (f *flakyProjects) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.ProjectRepository.Delete(ctx, id)
}

type flakyOpinions struct {
	repository.OpinionRepository
	deleteErr error
}

func (f *flakyOpinions) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.OpinionRepository.Delete(ctx, id)
}

type testEnv struct {
	coord    *Coordinator
	replica  *flakyReplica
	projects *flakyProjects
	opinions *flakyOpinions
	tasks    repository.TaskRepository
	topics   repository.TopicRepository
	journal  *journal.Service
	hub      *realtime.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })

	store, err := replica.Open(replica.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		replica:  &flakyReplica{Store: store},
		projects: &flakyProjects{ProjectRepository: sqlite.NewProjectRepository(db)},
		opinions: &flakyOpinions{OpinionRepository: sqlite.NewOpinionRepository(db)},
		tasks:    sqlite.NewTaskRepository(db),
		topics:   sqlite.NewTopicRepository(db),
		journal:  journal.NewService(sqlite.NewJournalRepository(db), nil),
		hub:      realtime.NewHub(16, nil),
	}
	env.coord = NewCoordinator(Deps{
		Projects:   env.projects,
		Opinions:   env.opinions,
		Tasks:      env.tasks,
		Topics:     env.topics,
		Operations: sqlite.NewOperationRepository(db),
		Replica:    env.replica,
		Guard:      archive.NewGuard(env.projects, nil),
		Journal:    env.journal,
		Notifier:   env.hub,
	})
	return env
}

func (e *testEnv) project(t *testing.T) *project.Project {
	t.Helper()
	proj, err := e.coord.CreateProject(context.Background(), project.Project{OwnerID: "owner1", Name: "Feedback"})
	require.NoError(t, err)
	return proj
}

func (e *testEnv) opinion(t *testing.T, projectID, content string) *opinion.Opinion {
	t.Helper()
	op, err := e.coord.CreateOpinion(context.Background(), opinion.Opinion{ProjectID: projectID, Content: content})
	require.NoError(t, err)
	return op
}

func (e *testEnv) phases(t *testing.T, entityID string) []journal.Phase {
	t.Helper()
	entries, err := e.journal.List(context.Background(), journal.ListOptions{EntityID: entityID})
	require.NoError(t, err)
	phases := make([]journal.Phase, 0, len(entries))
	for _, entry := range entries {
		phases = append(phases, entry.Phase)
	}
	return phases
}

func TestCreate_WritesBothStores(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	proj := env.project(t)
	require.Equal(t, int64(1), proj.Version)
	require.Equal(t, project.StatusCollecting, proj.Status)
	require.NotEmpty(t, proj.ReplicaID)

	op := env.opinion(t, proj.ReplicaID, "Checkout is slow")
	require.Equal(t, proj.ID, op.ProjectID, "replica id resolves to the canonical project")
	require.Equal(t, 16, op.CharacterCount)

	stored, err := env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, op.Content, stored.Content)

	var mirrored opinion.Opinion
	require.NoError(t, env.replica.Get(ctx, replica.OpinionPath("owner1", proj.ReplicaID, op.ID), &mirrored))
	require.Equal(t, op.ID, mirrored.ID)
	require.Equal(t, op.Content, mirrored.Content)

	require.Equal(t, []journal.Phase{
		journal.PhasePendingPrimary,
		journal.PhasePrimaryCommitted,
		journal.PhasePendingReplica,
		journal.PhaseReplicaCommitted,
	}, env.phases(t, op.ID))
}

func TestCreate_ValidationFailsBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	_, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "   "})
	require.ErrorIs(t, err, validation.ErrInvalid)
	require.Contains(t, err.Error(), "content is required")

	n, err := env.opinions.Count(ctx, proj.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreate_MissingProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.coord.CreateOpinion(context.Background(), opinion.Opinion{ProjectID: "missing", Content: "hi"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreate_ReplicaFailureLeavesPrimaryUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	env.opinion(t, proj.ID, "first")

	before, err := env.opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	require.NoError(t, err)

	env.replica.failSet.Store(true)
	_, err = env.coord.CreateOpinion(ctx, opinion.Opinion{ID: "o-new", ProjectID: proj.ID, Content: "second"})
	require.ErrorIs(t, err, ErrReplicaSyncFailed)
	require.ErrorIs(t, err, errInjected)

	after, err := env.opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	require.NoError(t, err)
	require.Equal(t, before, after)

	phases := env.phases(t, "o-new")
	require.Equal(t, journal.PhaseCompensated, phases[len(phases)-1])
}

func TestUpdate_ReplicaFailureRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	op := env.opinion(t, proj.ID, "first")

	before, err := env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)

	env.replica.failUpdate.Store(true)
	bookmarked := true
	_, err = env.coord.UpdateOpinion(ctx, op.ID, opinion.Patch{IsBookmarked: &bookmarked})
	require.ErrorIs(t, err, ErrReplicaSyncFailed)

	after, err := env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)

	env.replica.failUpdate.Store(false)
	updated, err := env.coord.UpdateOpinion(ctx, op.ID, opinion.Patch{IsBookmarked: &bookmarked})
	require.NoError(t, err)
	require.True(t, updated.IsBookmarked)
	require.Equal(t, int64(2), updated.Version)

	var mirrored opinion.Opinion
	require.NoError(t, env.replica.Get(ctx, replica.OpinionPath("owner1", proj.ReplicaID, op.ID), &mirrored))
	require.True(t, mirrored.IsBookmarked)
	require.Equal(t, int64(2), mirrored.Version)
}

func TestUpdate_ClearedFieldsLeaveReplica(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	tp, err := env.coord.CreateTopic(ctx, topic.Topic{ProjectID: proj.ID, Name: "Speed"})
	require.NoError(t, err)

	op, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "slow", TopicID: &tp.ID})
	require.NoError(t, err)
	_, err = env.coord.UpdateOpinion(ctx, op.ID, opinion.Patch{ClearTopic: true})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, env.replica.Get(ctx, replica.OpinionPath("owner1", proj.ReplicaID, op.ID), &fields))
	require.NotContains(t, fields, "topicId")
}

func TestUpdate_VersionConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	name := "Renamed"
	_, err := env.coord.UpdateProject(ctx, proj.ID, project.Patch{Name: &name}, WithExpectedVersion(7))
	require.ErrorIs(t, err, repository.ErrConflict)

	updated, err := env.coord.UpdateProject(ctx, proj.ID, project.Patch{Name: &name}, WithExpectedVersion(1))
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
}

func TestDelete_PrimaryFailureRestoresReplica(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	op := env.opinion(t, proj.ID, "keep me")

	env.projects.deleteErr = errInjected
	err := env.coord.DeleteProject(ctx, proj.ID)
	require.ErrorIs(t, err, ErrPrimaryStore)
	require.NotErrorIs(t, err, ErrCompensationFailed)

	var mirroredProject project.Project
	require.NoError(t, env.replica.Get(ctx, replica.ProjectPath("owner1", proj.ReplicaID), &mirroredProject))
	var mirroredOpinion opinion.Opinion
	require.NoError(t, env.replica.Get(ctx, replica.OpinionPath("owner1", proj.ReplicaID, op.ID), &mirroredOpinion))
	require.Equal(t, "keep me", mirroredOpinion.Content)

	_, err = env.projects.Get(ctx, proj.ID)
	require.NoError(t, err)
}

func TestDelete_ReplicaFailureKeepsPrimary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	op := env.opinion(t, proj.ID, "stay")

	env.replica.failRemove.Store(true)
	err := env.coord.DeleteOpinion(ctx, op.ID)
	require.ErrorIs(t, err, ErrReplicaSyncFailed)

	_, err = env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)
}

func TestDelete_ProjectCascades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	op := env.opinion(t, proj.ID, "gone")
	tk, err := env.coord.CreateTask(ctx, task.Task{ProjectID: proj.ID, Title: "Follow up"})
	require.NoError(t, err)

	require.NoError(t, env.coord.DeleteProject(ctx, proj.ID))

	_, err = env.opinions.Get(ctx, op.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = env.tasks.Get(ctx, tk.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	paths, err := env.replica.List(ctx, replica.ProjectPath("owner1", proj.ReplicaID))
	require.NoError(t, err)
	require.Empty(t, paths)
}

func TestDelete_TopicDetachesOpinionsInReplica(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	tp, err := env.coord.CreateTopic(ctx, topic.Topic{ProjectID: proj.ID, Name: "Speed"})
	require.NoError(t, err)
	op, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "slow", TopicID: &tp.ID})
	require.NoError(t, err)

	require.NoError(t, env.coord.DeleteTopic(ctx, tp.ID))

	stored, err := env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Nil(t, stored.TopicID)

	var mirrored opinion.Opinion
	require.NoError(t, env.replica.Get(ctx, replica.OpinionPath("owner1", proj.ReplicaID, op.ID), &mirrored))
	require.Nil(t, mirrored.TopicID)
	require.Equal(t, stored.Version, mirrored.Version)
}

func TestCompensationFailure_IsFatalAndSticky(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	env.replica.failSet.Store(true)
	env.opinions.deleteErr = errInjected

	_, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ID: "o1", ProjectID: proj.ID, Content: "orphan"}, WithOperationID("op-1"))
	require.ErrorIs(t, err, ErrCompensationFailed)

	var compErr *CompensationError
	require.True(t, errors.As(err, &compErr))
	require.Equal(t, "o1", compErr.EntityID)
	require.ErrorIs(t, compErr.Cause, errInjected)
	require.NotNil(t, compErr.After)

	phases := env.phases(t, "o1")
	require.Equal(t, journal.PhaseFailed, phases[len(phases)-1])

	env.replica.failSet.Store(false)
	env.opinions.deleteErr = nil
	_, err = env.coord.CreateOpinion(ctx, opinion.Opinion{ID: "o1", ProjectID: proj.ID, Content: "orphan"}, WithOperationID("op-1"))
	require.ErrorIs(t, err, ErrCompensationFailed)
}

func TestOperationID_Replay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	first, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "once"}, WithOperationID("op-1"))
	require.NoError(t, err)
	second, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "once"}, WithOperationID("op-1"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	n, err := env.opinions.Count(ctx, proj.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "different"}, WithOperationID("op-1"))
	require.ErrorIs(t, err, validation.ErrInvalid)
}

func TestArchivedProjectRejectsEveryMutation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	op := env.opinion(t, proj.ID, "first")
	tk, err := env.coord.CreateTask(ctx, task.Task{ProjectID: proj.ID, Title: "Follow up"})
	require.NoError(t, err)

	archived := true
	proj, err = env.coord.UpdateProject(ctx, proj.ID, project.Patch{IsArchived: &archived})
	require.NoError(t, err)
	require.Equal(t, project.StatusArchived, proj.Status)
	require.NotNil(t, proj.ArchivedAt)

	bookmarked := true
	name := "New name"
	title := "New title"
	attempts := map[string]func() error{
		"update opinion": func() error {
			_, err := env.coord.UpdateOpinion(ctx, op.ID, opinion.Patch{IsBookmarked: &bookmarked})
			return err
		},
		"create opinion": func() error {
			_, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "late"})
			return err
		},
		"public opinion": func() error {
			_, err := env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ReplicaID, Content: "late"}, WithPublicOwner("owner1"))
			return err
		},
		"delete opinion": func() error { return env.coord.DeleteOpinion(ctx, op.ID) },
		"update task": func() error {
			_, err := env.coord.UpdateTask(ctx, tk.ID, task.Patch{Title: &title})
			return err
		},
		"delete task":    func() error { return env.coord.DeleteTask(ctx, tk.ID) },
		"rename project": func() error {
			_, err := env.coord.UpdateProject(ctx, proj.ID, project.Patch{Name: &name})
			return err
		},
		"delete project": func() error { return env.coord.DeleteProject(ctx, proj.ID) },
	}
	for label, attempt := range attempts {
		err := attempt()
		require.ErrorIs(t, err, archive.ErrArchived, label)
	}

	stored, err := env.opinions.Get(ctx, op.ID)
	require.NoError(t, err)
	require.False(t, stored.IsBookmarked)
	require.Equal(t, int64(1), stored.Version)

	unarchive := false
	proj, err = env.coord.UpdateProject(ctx, proj.ID, project.Patch{IsArchived: &unarchive})
	require.NoError(t, err)
	require.Equal(t, project.StatusCollecting, proj.Status)

	_, err = env.coord.UpdateOpinion(ctx, op.ID, opinion.Patch{IsBookmarked: &bookmarked})
	require.NoError(t, err)
}

func TestCountsTrackCreatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, env.opinion(t, proj.ID, "opinion").ID)
		n, err := env.opinions.Count(ctx, proj.ID)
		require.NoError(t, err)
		require.Equal(t, i+1, n)
	}
	for i, id := range ids[:3] {
		require.NoError(t, env.coord.DeleteOpinion(ctx, id))
		n, err := env.opinions.Count(ctx, proj.ID)
		require.NoError(t, err)
		require.Equal(t, 5-(i+1), n)
	}
}

func TestPublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	sub, err := env.hub.Subscribe(realtime.ProjectScope(proj.ID))
	require.NoError(t, err)
	defer sub.Close()

	op := env.opinion(t, proj.ID, "hello")

	select {
	case ev := <-sub.C:
		require.Equal(t, "opinion.created", ev.Kind)
		require.Equal(t, op.ID, ev.Payload.(*opinion.Opinion).ID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	env.replica.failSet.Store(true)
	_, err = env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "lost"})
	require.Error(t, err)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s", ev.Kind)
	default:
	}
}

func TestOperationID_ReplayUsesCallerFingerprint(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)
	input := map[string]string{"content": "slow checkout"}

	first, err := env.coord.CreateOpinion(ctx,
		opinion.Opinion{ProjectID: proj.ID, Content: "slow checkout", Sentiment: opinion.SentimentNeutral},
		WithOperationID("import-1"), WithFingerprint(input))
	require.NoError(t, err)

	second, err := env.coord.CreateOpinion(ctx,
		opinion.Opinion{ProjectID: proj.ID, Content: "slow checkout", Sentiment: opinion.SentimentNegative},
		WithOperationID("import-1"), WithFingerprint(input))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, opinion.SentimentNeutral, second.Sentiment)

	_, err = env.coord.CreateOpinion(ctx,
		opinion.Opinion{ProjectID: proj.ID, Content: "fast checkout"},
		WithOperationID("import-1"), WithFingerprint(map[string]string{"content": "fast checkout"}))
	require.ErrorIs(t, err, validation.ErrInvalid)
}

func TestUpdateProject_StatusArchivedEngagesGuard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	proj := env.project(t)

	status := project.StatusArchived
	proj, err := env.coord.UpdateProject(ctx, proj.ID, project.Patch{Status: &status})
	require.NoError(t, err)
	require.True(t, proj.IsArchived)
	require.NotNil(t, proj.ArchivedAt)

	_, err = env.coord.CreateOpinion(ctx, opinion.Opinion{ProjectID: proj.ID, Content: "late"})
	require.ErrorIs(t, err, archive.ErrArchived)

	var mirrored project.Project
	require.NoError(t, env.replica.Get(ctx, replica.ProjectPath(proj.OwnerID, proj.ReplicaID), &mirrored))
	require.True(t, mirrored.IsArchived)
}

func TestPublishedPayloadIsDetachedFromResult(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t)

	sub, err := env.hub.Subscribe(realtime.ProjectScope(proj.ID))
	require.NoError(t, err)
	defer sub.Close()

	op := env.opinion(t, proj.ID, "hello")
	op.Content = "changed by caller"

	select {
	case ev := <-sub.C:
		published := ev.Payload.(*opinion.Opinion)
		require.NotSame(t, op, published)
		require.Equal(t, "hello", published.Content)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
