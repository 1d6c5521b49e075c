package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/tally/internal/archive"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/protection"
	"github.com/rpggio/tally/internal/quota"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/repository/mocks"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeQuota struct {
	err      error
	recorded []quota.Usage
}

func (f *fakeQuota) Require(context.Context, string, string) (quota.Decision, error) {
	if f.err != nil {
		return quota.Decision{}, f.err
	}
	return quota.Decision{Allowed: true, Limit: 3, Remaining: 2}, nil
}

func (f *fakeQuota) RecordUsage(_ context.Context, _, _ string, u quota.Usage) {
	f.recorded = append(f.recorded, u)
}

type fakeGuard struct{ err error }

func (f fakeGuard) Check(context.Context, string, string) error { return f.err }

type fakeProtection struct {
	protected map[string]bool
	active    map[string]bool
}

func (f fakeProtection) Evaluate(_ context.Context, t topic.Topic) protection.Assessment {
	a := protection.Assessment{TopicID: t.ID, Protected: f.protected[t.ID], HasActiveActions: t.HasActiveActions}
	if a.Protected {
		a.Reason = "status: " + string(t.Status)
	}
	return a
}

func (f fakeProtection) HasActiveActions(_ context.Context, id string) bool { return f.active[id] }

type fakeEngine struct {
	calls  int
	result *Result
	err    error
	input  Input
	during func()
}

func (f *fakeEngine) Analyze(_ context.Context, in Input) (*Result, error) {
	f.calls++
	f.input = in
	if f.during != nil {
		f.during()
	}
	return f.result, f.err
}

type fakeWriter struct {
	projectPatches []project.Patch
	projectErr     map[project.Status]error
	created        []topic.Topic
	topicPatches   map[string][]topic.Patch
	topicVersions  map[string]*int64
	topicErr       map[string]error
	assigned       map[string]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		projectErr:    map[project.Status]error{},
		topicPatches:  map[string][]topic.Patch{},
		topicVersions: map[string]*int64{},
		topicErr:      map[string]error{},
		assigned:      map[string]string{},
	}
}

func (f *fakeWriter) UpdateProject(_ context.Context, id string, patch project.Patch, _ ...tallysync.WriteOption) (*project.Project, error) {
	f.projectPatches = append(f.projectPatches, patch)
	if patch.Status != nil {
		if err := f.projectErr[*patch.Status]; err != nil {
			return nil, err
		}
	}
	p := patch.Apply(project.Project{ID: id, OwnerID: "u1", Name: "P"}, time.Now())
	return &p, nil
}

func (f *fakeWriter) CreateTopic(_ context.Context, t topic.Topic, _ ...tallysync.WriteOption) (*topic.Topic, error) {
	t.ID = "new-" + t.Name
	f.created = append(f.created, t)
	return &t, nil
}

func (f *fakeWriter) UpdateTopic(_ context.Context, id string, patch topic.Patch, opts ...tallysync.WriteOption) (*topic.Topic, error) {
	var req tallysync.WriteRequest
	for _, opt := range opts {
		opt(&req)
	}
	if patch.RewritesText() {
		f.topicVersions[id] = req.ExpectedVersion
	}
	if err := f.topicErr[id]; err != nil {
		return nil, err
	}
	f.topicPatches[id] = append(f.topicPatches[id], patch)
	return &topic.Topic{ID: id}, nil
}

func (f *fakeWriter) UpdateOpinion(_ context.Context, id string, patch opinion.Patch, _ ...tallysync.WriteOption) (*opinion.Opinion, error) {
	f.assigned[id] = *patch.TopicID
	return &opinion.Opinion{ID: id}, nil
}

type fixture struct {
	quota    *fakeQuota
	guard    fakeGuard
	projects *mocks.ProjectRepository
	opinions *mocks.OpinionRepository
	topics   *mocks.TopicRepository
	prot     fakeProtection
	writer   *fakeWriter
	engine   *fakeEngine
}

func newFixture() *fixture {
	return &fixture{
		quota:    &fakeQuota{},
		projects: &mocks.ProjectRepository{},
		opinions: &mocks.OpinionRepository{},
		topics:   &mocks.TopicRepository{},
		prot:     fakeProtection{protected: map[string]bool{}, active: map[string]bool{}},
		writer:   newFakeWriter(),
		engine:   &fakeEngine{result: &Result{}},
	}
}

func (f *fixture) runner() *Runner {
	return NewRunner(f.quota, f.guard, f.projects, f.opinions, f.topics, f.prot, f.writer, f.engine, time.Minute, nil)
}

func (f *fixture) withProject(_ context.Context, opinions []opinion.Opinion, topics []topic.Topic) {
	f.projects.On("FindByAnyID", mock.Anything, "p1", "").Return(&project.Project{ID: "p1", OwnerID: "u1", Name: "P"}, nil)
	f.opinions.On("List", mock.Anything, opinion.ListOptions{ProjectID: "p1"}).Return(opinions, nil)
	f.topics.On("List", mock.Anything, "p1").Return(topics, nil)
}

// reloads makes later topic lookups return t.
func (f *fixture) reloads(t topic.Topic) {
	f.topics.On("Get", mock.Anything, t.ID).Return(&t, nil)
}

func TestRun_QuotaDeniedNeverInvokesEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx, []opinion.Opinion{{ID: "o1"}}, nil)
	f.quota.err = &quota.ExceededError{Resource: quota.ResourceAnalyses}

	_, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	require.Zero(t, f.engine.calls)
	require.Empty(t, f.writer.projectPatches)
	require.Empty(t, f.quota.recorded)
}

func TestRun_ArchivedProjectNeverInvokesEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx, []opinion.Opinion{{ID: "o1"}}, nil)
	f.guard.err = &archive.Violation{ProjectID: "p1", ProjectName: "P"}

	_, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.ErrorIs(t, err, archive.ErrArchived)
	require.Zero(t, f.engine.calls)
}

func TestRun_AppliesTopicsRespectingProtection(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	protectedID, openID := "t-protected", "t-open"
	f.withProject(ctx,
		[]opinion.Opinion{
			{ID: "o1", TopicID: &protectedID},
			{ID: "o2"},
			{ID: "o3"},
		},
		[]topic.Topic{
			{ID: protectedID, Name: "Checkout", Summary: "Owner wording", Status: topic.StatusInProgress},
			{ID: openID, Name: "Speed", Summary: "old"},
		},
	)
	f.prot.protected[protectedID] = true
	f.reloads(topic.Topic{ID: openID, Name: "Speed", Summary: "old", Version: 3})
	f.engine.result = &Result{
		Topics: []TopicResult{
			{ID: protectedID, Name: "Payments", Summary: "Rewritten", OpinionIDs: []string{"o2"}, Confidence: 0.9},
			{Name: "speed", Summary: "Latency complaints", OpinionIDs: []string{"o1"}, Confidence: 0.4},
			{Name: "Onboarding", Summary: "New users", OpinionIDs: []string{"o3"}, Confidence: 0.8},
		},
		Insights: []string{"Checkout dominates"},
	}

	report, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, f.engine.calls)
	require.True(t, f.engine.input.Topics[0].Protection.Protected)

	require.Equal(t, 1, report.TopicsPreserved)
	require.Equal(t, 1, report.TopicsUpdated)
	require.Equal(t, 1, report.TopicsCreated)
	require.Equal(t, 2, report.OpinionsAssigned)
	require.Equal(t, 1, report.Remaining)

	for _, patch := range f.writer.topicPatches[protectedID] {
		require.Nil(t, patch.Name, "protected topic must not be renamed")
		require.Nil(t, patch.Summary)
	}
	require.Equal(t, int64(3), *f.writer.topicVersions[openID])
	require.Equal(t, protectedID, f.writer.assigned["o2"])
	require.NotContains(t, f.writer.assigned, "o1", "opinion stays in its protected topic")
	require.Equal(t, "new-Onboarding", f.writer.assigned["o3"])

	last := f.writer.projectPatches[len(f.writer.projectPatches)-1]
	require.Equal(t, project.StatusCompleted, *last.Status)
	require.Equal(t, 3, *last.LastAnalyzedOpinionCount)
	require.NotNil(t, last.LastAnalysisAt)

	require.Len(t, f.quota.recorded, 1)
	require.Equal(t, 3, f.quota.recorded[0].OpinionsProcessed)
}

func TestRun_EngineFailureMarksProjectErrored(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx, []opinion.Opinion{{ID: "o1"}}, nil)
	f.engine.err = errors.New("model overloaded")

	_, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.ErrorIs(t, err, ErrEngine)

	require.Len(t, f.writer.projectPatches, 2)
	require.Equal(t, project.StatusProcessing, *f.writer.projectPatches[0].Status)
	require.Equal(t, project.StatusError, *f.writer.projectPatches[1].Status)
	require.Empty(t, f.quota.recorded)
}

func TestRun_NoOpinions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx, nil, nil)

	_, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.Error(t, err)
	require.Zero(t, f.engine.calls)
}

func TestSentimentEngine(t *testing.T) {
	result, err := SentimentEngine{}.Analyze(context.Background(), Input{Opinions: []opinion.Opinion{
		{ID: "a", Sentiment: opinion.SentimentNegative},
		{ID: "b", Sentiment: opinion.SentimentPositive},
		{ID: "c", Sentiment: opinion.SentimentNegative},
	}})
	require.NoError(t, err)
	require.Len(t, result.Topics, 2)
	require.Equal(t, "Complaints", result.Topics[0].Name)
	require.Equal(t, []string{"a", "c"}, result.Topics[0].OpinionIDs)
}

func TestRun_TopicProtectedWhileEngineRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx,
		[]opinion.Opinion{{ID: "o1"}},
		[]topic.Topic{{ID: "t1", Name: "Speed", Summary: "Owner wording", Version: 1}},
	)
	f.engine.during = func() { f.prot.protected["t1"] = true }
	f.reloads(topic.Topic{ID: "t1", Name: "Speed", Summary: "Owner wording", Status: topic.StatusInProgress, Version: 2})
	f.engine.result = &Result{Topics: []TopicResult{
		{ID: "t1", Name: "Rewritten", Summary: "AI text", OpinionIDs: []string{"o1"}, Confidence: 0.9},
	}}

	report, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.NoError(t, err)
	require.False(t, f.engine.input.Topics[0].Protection.Protected)

	require.Equal(t, 1, report.TopicsPreserved)
	require.Zero(t, report.TopicsUpdated)
	for _, patch := range f.writer.topicPatches["t1"] {
		require.False(t, patch.RewritesText())
	}
	require.Equal(t, "t1", f.writer.assigned["o1"], "protected topics still gain opinions")
}

func TestRun_TopicChangedAfterReloadIsPreserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx,
		[]opinion.Opinion{{ID: "o1"}},
		[]topic.Topic{{ID: "t1", Name: "Speed", Version: 1}},
	)
	f.reloads(topic.Topic{ID: "t1", Name: "Speed", Version: 1})
	f.writer.topicErr["t1"] = repository.ErrConflict
	f.engine.result = &Result{Topics: []TopicResult{
		{ID: "t1", Name: "Latency", OpinionIDs: []string{"o1"}, Confidence: 0.9},
	}}

	report, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.NoError(t, err)
	require.Equal(t, int64(1), *f.writer.topicVersions["t1"])
	require.Equal(t, 1, report.TopicsPreserved)
	require.Zero(t, report.TopicsUpdated)
	require.Equal(t, "t1", f.writer.assigned["o1"])
}

func TestRun_OpinionStaysInTopicProtectedWhileEngineRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	held := "t1"
	f.withProject(ctx,
		[]opinion.Opinion{{ID: "o1", TopicID: &held}, {ID: "o2"}},
		[]topic.Topic{{ID: held, Name: "Speed", Version: 1}},
	)
	f.engine.during = func() { f.prot.protected[held] = true }
	f.reloads(topic.Topic{ID: held, Name: "Speed", Status: topic.StatusResolved, Version: 2})
	f.engine.result = &Result{Topics: []TopicResult{
		{Name: "Pricing", OpinionIDs: []string{"o1", "o2"}, Confidence: 0.9},
	}}

	report, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.TopicsCreated)
	require.NotContains(t, f.writer.assigned, "o1")
	require.Equal(t, "new-Pricing", f.writer.assigned["o2"])
}

func TestRun_UsageRecordedWhenCompletionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.withProject(ctx, []opinion.Opinion{{ID: "o1"}, {ID: "o2"}}, nil)
	f.writer.projectErr[project.StatusCompleted] = errors.New("primary unavailable")
	f.engine.result = &Result{Topics: []TopicResult{
		{Name: "Pricing", OpinionIDs: []string{"o1", "o2"}, Confidence: 0.9},
	}}

	_, err := f.runner().Run(ctx, "u1", "p1", Options{})
	require.ErrorContains(t, err, "mark completed")
	require.Len(t, f.writer.assigned, 2)
	require.Len(t, f.quota.recorded, 1)
	require.Equal(t, 2, f.quota.recorded[0].OpinionsProcessed)
}
