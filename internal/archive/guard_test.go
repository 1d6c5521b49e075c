package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/repository/mocks"
	"github.com/stretchr/testify/require"
)

func TestGuard_AllowsActiveProject(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProjectRepository{}
	repo.On("FindByAnyID", ctx, "p1", "").Return(&project.Project{ID: "p1", Name: "Alpha"}, nil)

	require.NoError(t, NewGuard(repo, nil).Check(ctx, "p1", "u1"))
}

func TestGuard_AllowsUnknownProject(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProjectRepository{}
	repo.On("FindByAnyID", ctx, "ghost", "").Return(nil, repository.ErrNotFound)

	require.NoError(t, NewGuard(repo, nil).Check(ctx, "ghost", "u1"))
}

func TestGuard_RejectsArchived(t *testing.T) {
	ctx := context.Background()
	archivedAt := time.Now()
	repo := &mocks.ProjectRepository{}
	repo.On("FindByAnyID", ctx, "replica-1", "").Return(&project.Project{
		ID: "p1", Name: "Alpha", IsArchived: true, ArchivedAt: &archivedAt,
	}, nil)

	err := NewGuard(repo, nil).Check(ctx, "replica-1", "u1")
	require.ErrorIs(t, err, ErrArchived)

	var violation *Violation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "p1", violation.ProjectID)
	require.Equal(t, "Alpha", violation.ProjectName)
	require.Contains(t, violation.Remediation(), "Unarchive")
}

func TestGuard_PublicScopesByOwner(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProjectRepository{}
	repo.On("FindByAnyID", ctx, "p1", "owner1").Return(&project.Project{ID: "p1", IsArchived: true}, nil)
	repo.On("FindByAnyID", ctx, "p1", "owner2").Return(nil, repository.ErrNotFound)

	guard := NewGuard(repo, nil)
	require.ErrorIs(t, guard.CheckPublic(ctx, "p1", "owner1"), ErrArchived)
	require.NoError(t, guard.CheckPublic(ctx, "p1", "owner2"))
}

func TestGuard_StoreErrorIsNotMasked(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	repo := &mocks.ProjectRepository{}
	repo.On("FindByAnyID", ctx, "p1", "").Return(nil, boom)

	err := NewGuard(repo, nil).Check(ctx, "p1", "u1")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrArchived)
}
