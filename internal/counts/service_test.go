package counts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/repository/mocks"
	"github.com/stretchr/testify/require"
)

func TestUnanalyzedOpinions_NeverAnalyzedEqualsTotal(t *testing.T) {
	ctx := context.Background()
	opinions := &mocks.OpinionRepository{}
	opinions.On("Count", ctx, "p1").Return(7, nil)

	svc := NewService(&mocks.ProjectRepository{}, opinions, &mocks.TaskRepository{}, nil)
	n, err := svc.UnanalyzedOpinions(ctx, "p1", nil)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	opinions.AssertNotCalled(t, "CountUnanalyzed")
}

func TestUnanalyzedOpinions_UsesLastAnalysis(t *testing.T) {
	ctx := context.Background()
	at := time.Now()
	opinions := &mocks.OpinionRepository{}
	opinions.On("CountUnanalyzed", ctx, "p1", at).Return(2, nil)

	svc := NewService(&mocks.ProjectRepository{}, opinions, &mocks.TaskRepository{}, nil)
	n, err := svc.UnanalyzedOpinions(ctx, "p1", &at)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	at := time.Now()
	projects := &mocks.ProjectRepository{}
	projects.On("Get", ctx, "p1").Return(&project.Project{ID: "p1", LastAnalysisAt: &at}, nil)
	opinions := &mocks.OpinionRepository{}
	opinions.On("Count", ctx, "p1").Return(10, nil)
	opinions.On("CountUnanalyzed", ctx, "p1", at).Return(3, nil)
	tasks := &mocks.TaskRepository{}
	tasks.On("List", ctx, "p1").Return([]task.Task{{ID: "k1"}}, nil)

	summary, err := NewService(projects, opinions, tasks, nil).Summarize(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 10, summary.OpinionsCount)
	require.Equal(t, 3, summary.UnanalyzedOpinionsCount)
	require.Equal(t, 1, summary.TaskCount)
}

func TestTotalOpinions_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	opinions := &mocks.OpinionRepository{}
	opinions.On("Count", ctx, "p1").Return(0, errors.New("boom"))

	_, err := NewService(&mocks.ProjectRepository{}, opinions, &mocks.TaskRepository{}, nil).TotalOpinions(ctx, "p1")
	require.Error(t, err)
}
