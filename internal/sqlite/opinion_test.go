package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestOpinionRepository_CreateGetUpdate(t *testing.T) {
	db := NewTestDB(t)
	repo := NewOpinionRepository(db)
	ctx := context.Background()
	insertProject(t, db, "p1", "owner1")

	op := insertOpinion(t, db, "o1", "p1", "Great onboarding")

	loaded, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, "Great onboarding", loaded.Content)
	require.Equal(t, 16, loaded.CharacterCount)
	require.Nil(t, loaded.TopicID)
	require.False(t, loaded.IsBookmarked)

	analyzedAt := time.Now().UTC()
	op.IsBookmarked = true
	op.Analysis = opinion.AnalysisState{LastAnalyzedAt: &analyzedAt, Version: 2, Confidence: 0.75}
	op.Version = 2
	require.NoError(t, repo.Update(ctx, &op, 1))

	loaded, err = repo.Get(ctx, "o1")
	require.NoError(t, err)
	require.True(t, loaded.IsBookmarked)
	require.Equal(t, 2, loaded.Analysis.Version)
	require.InDelta(t, 0.75, loaded.Analysis.Confidence, 0.0001)
	require.NotNil(t, loaded.Analysis.LastAnalyzedAt)

	err = repo.Update(ctx, &op, 1)
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestOpinionRepository_DeleteAndCount(t *testing.T) {
	db := NewTestDB(t)
	repo := NewOpinionRepository(db)
	ctx := context.Background()
	insertProject(t, db, "p1", "owner1")

	for _, id := range []string{"o1", "o2", "o3"} {
		insertOpinion(t, db, id, "p1", "text "+id)
	}

	count, err := repo.Count(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	require.NoError(t, repo.Delete(ctx, "o2"))
	require.ErrorIs(t, repo.Delete(ctx, "o2"), repository.ErrNotFound)

	count, err = repo.Count(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestOpinionRepository_CountUnanalyzed(t *testing.T) {
	db := NewTestDB(t)
	repo := NewOpinionRepository(db)
	ctx := context.Background()
	insertProject(t, db, "p1", "owner1")

	now := time.Now().UTC()
	tp := topic.Topic{ID: "t1", ProjectID: "p1", Name: "UX", Status: topic.StatusUnhandled, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, NewTopicRepository(db).Create(ctx, &tp))

	classifiedOld := testOpinion("o1", "p1", "old classified")
	classifiedOld.TopicID = &tp.ID
	classifiedOld.SubmittedAt = now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &classifiedOld))

	unclassifiedOld := testOpinion("o2", "p1", "old unclassified")
	unclassifiedOld.SubmittedAt = now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &unclassifiedOld))

	classifiedNew := testOpinion("o3", "p1", "new classified")
	classifiedNew.TopicID = &tp.ID
	classifiedNew.SubmittedAt = now.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, &classifiedNew))

	count, err := repo.CountUnanalyzed(ctx, "p1", now)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestOpinionRepository_ListFilters(t *testing.T) {
	db := NewTestDB(t)
	repo := NewOpinionRepository(db)
	ctx := context.Background()
	insertProject(t, db, "p1", "owner1")

	now := time.Now().UTC()
	tp := topic.Topic{ID: "t1", ProjectID: "p1", Name: "UX", Status: topic.StatusUnhandled, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, NewTopicRepository(db).Create(ctx, &tp))

	a := testOpinion("o1", "p1", "a")
	a.TopicID = &tp.ID
	a.ActionStatus = opinion.ActionResolved
	require.NoError(t, repo.Create(ctx, &a))
	b := testOpinion("o2", "p1", "b")
	b.IsBookmarked = true
	require.NoError(t, repo.Create(ctx, &b))

	list, err := repo.List(ctx, opinion.ListOptions{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	unassigned := ""
	list, err = repo.List(ctx, opinion.ListOptions{ProjectID: "p1", TopicID: &unassigned})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "o2", list[0].ID)

	bookmarked := true
	list, err = repo.List(ctx, opinion.ListOptions{ProjectID: "p1", Bookmarked: &bookmarked})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "o2", list[0].ID)

	active, err := repo.CountWithActionStatus(ctx, "t1", opinion.ActiveActionStatuses)
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func TestTopicRepository_DeleteDetachesOpinions(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	insertProject(t, db, "p1", "owner1")

	now := time.Now().UTC()
	topics := NewTopicRepository(db)
	tp := topic.Topic{ID: "t1", ProjectID: "p1", Name: "UX", Status: topic.StatusUnhandled, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, topics.Create(ctx, &tp))

	op := testOpinion("o1", "p1", "text")
	op.TopicID = &tp.ID
	require.NoError(t, NewOpinionRepository(db).Create(ctx, &op))

	tp.Status = topic.StatusInProgress
	tp.LastActionDate = &now
	tp.Version = 2
	require.NoError(t, topics.Update(ctx, &tp, 1))
	loaded, err := topics.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, topic.StatusInProgress, loaded.Status)
	require.NotNil(t, loaded.LastActionDate)

	require.NoError(t, topics.Delete(ctx, "t1"))

	loadedOp, err := NewOpinionRepository(db).Get(ctx, "o1")
	require.NoError(t, err)
	require.Nil(t, loadedOp.TopicID)
	require.Equal(t, int64(2), loadedOp.Version)
}
